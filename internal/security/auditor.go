package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/coregx/relq/internal/logger"
)

// AuditLevel defines which operations are audited.
type AuditLevel int

const (
	// AuditNone disables audit logging.
	AuditNone AuditLevel = iota
	// AuditWrites logs UpdateAll and DeleteAll.
	AuditWrites
	// AuditAll also logs loads.
	AuditAll
)

// ParseAuditLevel maps "none", "writes" and "all" to a level. Unknown values
// disable auditing.
func ParseAuditLevel(s string) AuditLevel {
	switch s {
	case "writes":
		return AuditWrites
	case "all":
		return AuditAll
	default:
		return AuditNone
	}
}

// AuditEvent describes one audited operation.
type AuditEvent struct {
	Timestamp    time.Time
	User         string
	Operation    string // SELECT, UPDATE, DELETE
	Table        string
	AffectedRows int64
	SQL          string
	ParamsHash   string // SHA256 of the bind values
	ClientIP     string
	RequestID    string
	LoadID       string
	Success      bool
	Error        string
	Duration     time.Duration
}

// Auditor writes audit events to a logger.
type Auditor struct {
	logger logger.Logger
	level  AuditLevel
}

// NewAuditor creates an auditor. A nil logger disables it.
func NewAuditor(l logger.Logger, level AuditLevel) *Auditor {
	return &Auditor{logger: l, level: level}
}

// Record logs an operation if the audit level covers it.
func (a *Auditor) Record(ctx context.Context, event AuditEvent, args []any, err error) {
	if a == nil || !a.shouldLog(event.Operation) {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.User = GetUser(ctx)
	event.ClientIP = GetClientIP(ctx)
	event.RequestID = GetRequestID(ctx)
	event.ParamsHash = hashParams(args)
	event.Success = err == nil
	if err != nil {
		event.Error = err.Error()
	}

	log := a.logger.Info
	if !event.Success {
		log = a.logger.Warn
	}
	log("audit_event",
		"timestamp", event.Timestamp,
		"user", event.User,
		"operation", event.Operation,
		"table", event.Table,
		"affected_rows", event.AffectedRows,
		"sql", event.SQL,
		"params_hash", event.ParamsHash,
		"client_ip", event.ClientIP,
		"request_id", event.RequestID,
		"load_id", event.LoadID,
		"success", event.Success,
		"error", event.Error,
		"duration_ms", event.Duration.Milliseconds(),
	)
}

// RecordRejectedFragment logs a fragment refused by the Validator. It is
// logged whenever auditing is enabled.
func (a *Auditor) RecordRejectedFragment(ctx context.Context, fragment string, err error) {
	if a == nil || a.logger == nil || a.level == AuditNone {
		return
	}
	a.logger.Warn("security_event",
		"event_type", "fragment_rejected",
		"user", GetUser(ctx),
		"client_ip", GetClientIP(ctx),
		"request_id", GetRequestID(ctx),
		"fragment", fragment,
		"error", err.Error(),
	)
}

func (a *Auditor) shouldLog(operation string) bool {
	if a.logger == nil {
		return false
	}
	switch a.level {
	case AuditWrites:
		return operation == "UPDATE" || operation == "DELETE"
	case AuditAll:
		return true
	default:
		return false
	}
}

func hashParams(params []any) string {
	if len(params) == 0 {
		return ""
	}

	h := sha256.New()
	for _, param := range params {
		_, _ = fmt.Fprintf(h, "%v", param) // hash.Hash.Write never returns error
	}
	return hex.EncodeToString(h.Sum(nil))
}

type contextKey string

const (
	userKey      contextKey = "relq:user"
	clientIPKey  contextKey = "relq:client_ip"
	requestIDKey contextKey = "relq:request_id"
)

// WithUser adds user information to the context for audit logging.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// WithClientIP adds client IP to the context for audit logging.
func WithClientIP(ctx context.Context, clientIP string) context.Context {
	return context.WithValue(ctx, clientIPKey, clientIP)
}

// WithRequestID adds request ID to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetUser retrieves the audit user from ctx.
func GetUser(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}

// GetClientIP retrieves the client IP from ctx.
func GetClientIP(ctx context.Context) string {
	clientIP, _ := ctx.Value(clientIPKey).(string)
	return clientIP
}

// GetRequestID retrieves the request ID from ctx.
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey).(string)
	return requestID
}
