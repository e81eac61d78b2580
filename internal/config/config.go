package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"device-health-alerts/internal/logging"
)

// Dedup scope values accepted by evaluation.dedup_scope.
const (
	DedupScopeDevice = "device"
	DedupScopeProbe  = "probe"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Server     ServerConfig     `mapstructure:"server"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the in-process evaluation cadence (run command).
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// EvaluationConfig tunes a single evaluation pass.
type EvaluationConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
	DedupScope  string        `mapstructure:"dedup_scope"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled       bool         `mapstructure:"enabled"`
	SubjectPrefix string       `mapstructure:"subject_prefix"`
	Resend        ResendConfig `mapstructure:"resend"`
}

// ResendConfig holds Resend email API parameters.
type ResendConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	APIKey         string        `mapstructure:"api_key"`
	From           string        `mapstructure:"from"`
	APIBase        string        `mapstructure:"api_base"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ServerConfig covers the HTTP trigger surface.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	CronToken       string        `mapstructure:"cron_token"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLDWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "coldwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x636f6c64))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("evaluation.concurrency", 8)
	v.SetDefault("evaluation.run_timeout", "2m")
	v.SetDefault("evaluation.dedup_scope", DedupScopeDevice)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.subject_prefix", "[2A Alert]")
	v.SetDefault("alerting.resend.enabled", false)
	v.SetDefault("alerting.resend.api_base", "https://api.resend.com")
	v.SetDefault("alerting.resend.request_timeout", "10s")

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "3m")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Evaluation.Concurrency <= 0 {
		return fmt.Errorf("evaluation.concurrency must be greater than zero")
	}
	if c.Evaluation.RunTimeout <= 0 {
		return fmt.Errorf("evaluation.run_timeout must be greater than zero")
	}
	switch c.Evaluation.DedupScope {
	case DedupScopeDevice, DedupScopeProbe:
	default:
		return fmt.Errorf("evaluation.dedup_scope must be %q or %q", DedupScopeDevice, DedupScopeProbe)
	}
	if c.Alerting.Resend.Enabled {
		if c.Alerting.Resend.APIKey == "" {
			return fmt.Errorf("alerting.resend.api_key is required when resend is enabled")
		}
		if c.Alerting.Resend.From == "" {
			return fmt.Errorf("alerting.resend.from is required when resend is enabled")
		}
	}
	return nil
}
