// Package config loads lakeshift's configuration from a YAML file and
// LAKESHIFT_-prefixed environment variables.
//
// Configuration is plain data: values are loaded once and threaded
// explicitly through constructors. Nothing in this package (or anywhere
// else) holds process-wide mutable defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lakeshift/lakeshift/core/platform"
)

// Lock configures the version gate's poll loop.
type Lock struct {
	// MaxAttempts is how many times the version record is polled before
	// the migration gives up.
	MaxAttempts int `mapstructure:"max_attempts"`

	// Delay is the wait between polls.
	Delay time.Duration `mapstructure:"delay"`
}

// Retry configures per-statement retries of transient engine failures.
type Retry struct {
	// MaxAttempts is the total number of tries per statement.
	MaxAttempts int `mapstructure:"max_attempts"`

	// BaseDelay is the backoff seed; it doubles per failed attempt.
	BaseDelay time.Duration `mapstructure:"base_delay"`
}

// Config is the full lakeshift configuration.
type Config struct {
	// Dialect selects the store backend: athena, postgres, redshift,
	// mysql or sqlite.
	Dialect string `mapstructure:"dialect"`

	// Database is the database (or Glue catalog database) name.
	Database string `mapstructure:"database"`

	// DSN is the relational connection string. Unused by athena.
	DSN string `mapstructure:"dsn"`

	// Region is the AWS region for the athena backend.
	Region string `mapstructure:"region"`

	// Workgroup is the Athena workgroup. Optional.
	Workgroup string `mapstructure:"workgroup"`

	// OutputLocation is the S3 prefix Athena writes query results to.
	OutputLocation string `mapstructure:"output_location"`

	// DatabaseLocation is the S3 prefix the database's tables live under.
	DatabaseLocation string `mapstructure:"database_location"`

	// VersionTable is the metadata table holding the version record.
	VersionTable string `mapstructure:"version_table"`

	// ChunkSize bounds how many partitions one rebuild insert targets.
	ChunkSize int `mapstructure:"chunk_size"`

	Retry Retry `mapstructure:"retry"`
	Lock  Lock  `mapstructure:"lock"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	return Config{
		Dialect:      platform.Athena,
		VersionTable: "version",
		ChunkSize:    100,
		Retry: Retry{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
		},
		Lock: Lock{
			MaxAttempts: 20,
			Delay:       15 * time.Second,
		},
	}
}

// Load reads the configuration from path (optional) merged over
// Default(), with LAKESHIFT_* environment variables taking precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("lakeshift")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("dialect", defaults.Dialect)
	v.SetDefault("version_table", defaults.VersionTable)
	v.SetDefault("chunk_size", defaults.ChunkSize)
	v.SetDefault("retry.max_attempts", defaults.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", defaults.Retry.BaseDelay)
	v.SetDefault("lock.max_attempts", defaults.Lock.MaxAttempts)
	v.SetDefault("lock.delay", defaults.Lock.Delay)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if platform.NormalizeDialect(c.Dialect) == "" {
		return fmt.Errorf("unsupported dialect: %q", c.Dialect)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0, got %d", c.ChunkSize)
	}
	return nil
}
