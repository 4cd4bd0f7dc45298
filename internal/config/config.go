package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"bridge-sentinel/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig              `mapstructure:"app"`
	Logging    logging.Config         `mapstructure:"logging"`
	Scheduler  SchedulerConfig        `mapstructure:"scheduler"`
	Chains     map[string]ChainConfig `mapstructure:"chains"`
	Registry   RegistryConfig         `mapstructure:"registry"`
	Thresholds ThresholdsConfig       `mapstructure:"thresholds"`
	Alerting   AlertingConfig         `mapstructure:"alerting"`
	Operator   OperatorConfig         `mapstructure:"operator"`
	Workers    WorkerConfig           `mapstructure:"workers"`
	Retry      RetryConfig            `mapstructure:"retry"`
	Database   DatabaseConfig         `mapstructure:"database"`
	Metrics    MetricsConfig          `mapstructure:"metrics"`
	Export     ExportConfig           `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs reconciliation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// ChainConfig describes one RPC endpoint, keyed by decimal chain id.
// RequestTimeout bounds a single RPC call; ConfirmTimeout bounds the
// whole wait for a submitted transaction's receipt.
type ChainConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
}

// RegistryConfig locates the deployment registry file.
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// ThresholdsConfig carries the process-wide decision thresholds.
type ThresholdsConfig struct {
	FreshnessSeconds int64 `mapstructure:"freshness_seconds"`
	SourceRatioD3    int64 `mapstructure:"source_ratio_d3"`
	MaxSourceRatioD3 int64 `mapstructure:"max_source_ratio_d3"`
}

// AlertingConfig defines alert routing and dry-run behaviour.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	DryRun   bool           `mapstructure:"dry_run"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot transport.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// OperatorConfig holds signing material for the rebalance path.
type OperatorConfig struct {
	PrivateKey string   `mapstructure:"private_key"`
	Units      []string `mapstructure:"units"`
}

// WorkerConfig bounds per-pass concurrency.
type WorkerConfig struct {
	PoolSize int `mapstructure:"pool_size"`
}

// RetryConfig tunes chain read retry behaviour.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// DatabaseConfig encapsulates the optional PostgreSQL audit store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MetricsConfig exposes the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BRIDGESENTINEL")
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
	v.SetDefault("app.name", "bridge-sentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x62726773))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("registry.path", "registry.json")

	v.SetDefault("thresholds.freshness_seconds", int64(3600))
	v.SetDefault("thresholds.source_ratio_d3", int64(50))
	v.SetDefault("thresholds.max_source_ratio_d3", int64(100))

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.dry_run", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("workers.pool_size", 4)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.backoff", "500ms")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("export.max_data_points", 100000)
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
	if c.Thresholds.FreshnessSeconds <= 0 {
		return fmt.Errorf("thresholds.freshness_seconds must be greater than zero")
	}
	if c.Thresholds.SourceRatioD3 >= c.Thresholds.MaxSourceRatioD3 {
		return fmt.Errorf("thresholds.source_ratio_d3 must be below thresholds.max_source_ratio_d3")
	}
	if c.Workers.PoolSize <= 0 {
		return fmt.Errorf("workers.pool_size must be greater than zero")
	}
	if c.Retry.Attempts <= 0 {
		return fmt.Errorf("retry.attempts must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled && !c.Alerting.DryRun {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
