package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides (RELQ_RELATION_BATCH_SIZE).
const EnvPrefix = "RELQ"

// Load reads configuration with the following precedence:
// 1. Flags explicitly set on fs (when fs is not nil)
// 2. Environment variables
// 3. Config file at path (when path is not empty)
// 4. Default values
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	v := viper.New()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		bindChangedFlags(v, fs)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		),
	); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if result := cfg.Validate(); result.HasErrors() {
		return Config{}, fmt.Errorf("invalid config: %w", result)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", d.Database.Database)
	v.SetDefault("database.ssl_mode", "")
	v.SetDefault("database.pool.max_open", 0)
	v.SetDefault("database.pool.max_idle", 0)
	v.SetDefault("database.pool.max_lifetime", "0s")

	v.SetDefault("relation.time_zone", d.Relation.TimeZone)
	v.SetDefault("relation.batch_size", d.Relation.BatchSize)
	v.SetDefault("relation.preload_concurrency", d.Relation.PreloadConcurrency)
	v.SetDefault("relation.max_in_list_size", d.Relation.MaxInListSize)
	v.SetDefault("relation.prepared_statements", d.Relation.PreparedStatements)
	v.SetDefault("relation.stmt_cache_capacity", d.Relation.StmtCacheCapacity)
	v.SetDefault("relation.validate_raw_fragments", d.Relation.ValidateRawFragments)
	v.SetDefault("relation.sensitive_fields", []string{})

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.audit", d.Logging.Audit)

	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.metrics_enabled", false)
	v.SetDefault("observability.driver_instrumentation", false)
	v.SetDefault("observability.sqlcommenter_enabled", false)
}

// BindFlags defines command line flags for the settings tools commonly override.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("database.driver", "", "Database driver (mysql, postgres, sqlite)")
	fs.String("database.dsn", "", "Complete data source name")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port")
	fs.String("database.user", "", "Database user")
	fs.String("database.database", "", "Database name or SQLite path")
	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")

	fs.String("relation.time_zone", "", "Time zone for loaded time values")
	fs.Int("relation.batch_size", 0, "Default batch size for InBatches")
	fs.Int("relation.preload_concurrency", 0, "Concurrent association queries per level")
	fs.Int("relation.max_in_list_size", 0, "Maximum keys per preload IN list (0 = unlimited)")
	fs.Bool("relation.prepared_statements", false, "Cache prepared statements")

	fs.String("logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("logging.format", "", "Log format (json, text)")
	fs.String("logging.audit", "", "Audited operations (none, writes, all)")

	fs.Bool("observability.tracing_enabled", false, "Emit a span per statement")
	fs.Bool("observability.metrics_enabled", false, "Record statement metrics")
	fs.Bool("observability.driver_instrumentation", false, "Wrap the driver with otelsql")
}

// bindChangedFlags copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}
