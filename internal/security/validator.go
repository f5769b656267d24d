// Package security guards raw SQL fragments passed to relation scopes and
// audits bulk write operations.
package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeFragment is returned when a raw SQL fragment matches a dangerous pattern.
var ErrUnsafeFragment = errors.New("relq: unsafe raw SQL fragment")

// Validator checks raw fragments (where, order, join, select, having) for
// constructs that have no place inside a single clause.
type Validator struct {
	patterns []*regexp.Regexp
	strict   bool
}

// ValidatorOption configures the Validator.
type ValidatorOption func(*Validator)

// WithStrict also rejects quoted string literals, forcing values through binds.
func WithStrict(strict bool) ValidatorOption {
	return func(v *Validator) {
		v.strict = strict
	}
}

// NewValidator creates a fragment validator with the default patterns.
func NewValidator(opts ...ValidatorOption) *Validator {
	v := &Validator{
		patterns: compilePatterns(dangerousPatterns),
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.strict {
		v.patterns = append(v.patterns, compilePatterns(strictPatterns)...)
	}

	return v
}

// dangerousPatterns are matched against the upper-cased fragment.
var dangerousPatterns = []string{
	// Comments hide the rest of the statement.
	`--`,
	`/\*`,
	`#\s`,

	// A clause never terminates the statement.
	`;`,

	`\bUNION\b(\s+ALL)?\s+SELECT\b`,

	`\bXP_CMDSHELL\b`,
	`\bEXEC(UTE)?\s*\(`,
	`\bSP_EXECUTESQL\b`,

	`\bINFORMATION_SCHEMA\b`,
	`\bPG_SLEEP\s*\(`,
	`\bBENCHMARK\s*\(`,
	`\bWAITFOR\s+DELAY\b`,
	`\bSLEEP\s*\(`,

	// Tautologies.
	`\bOR\s+1\s*=\s*1\b`,
	`\bOR\s+'1'\s*=\s*'1'`,
	`\bOR\s+TRUE\b`,
}

var strictPatterns = []string{
	`'`,
	`"[^"]*"\s*=`,
}

// ValidateFragment returns an error wrapping ErrUnsafeFragment when fragment
// contains a dangerous construct.
func (v *Validator) ValidateFragment(fragment string) error {
	normalized := strings.ToUpper(fragment)

	for _, pattern := range v.patterns {
		if pattern.MatchString(normalized) {
			return fmt.Errorf("%w: %q matches %s", ErrUnsafeFragment, fragment, pattern.String())
		}
	}

	return nil
}

// ValidateIdentifier rejects column or table references that are not plain
// (optionally qualified) identifiers. Used for Pluck and Order by name.
func (v *Validator) ValidateIdentifier(ident string) error {
	if !identifierPattern.MatchString(ident) {
		return fmt.Errorf("%w: %q is not an identifier", ErrUnsafeFragment, ident)
	}
	return nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.([A-Za-z_][A-Za-z0-9_]*|\*))?$`)

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		compiled = append(compiled, regexp.MustCompile(pattern))
	}
	return compiled
}
