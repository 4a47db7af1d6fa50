// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Fields are populated by
// viper (file + environment + flag bindings) and validated before use.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Vitals  VitalsConfig  `mapstructure:"vitals" yaml:"vitals"`
	Profile ProfileConfig `mapstructure:"profile" yaml:"profile"`
	Budgets BudgetsConfig `mapstructure:"budgets" yaml:"budgets"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Batch   BatchConfig   `mapstructure:"batch" yaml:"batch"`

	// Run gets its marching orders from CLI flags, not the config file.
	Run RunConfig `mapstructure:"-" yaml:"-"`
}

// LoggerConfig controls log output, verbosity and rotation.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the ANSI color codes for console log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ViewportConfig sets the emulated window size for every scenario context.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the shared headless browser process.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache    bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
}

// NetworkConfig tunes navigation and the network telemetry capture.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SettleWait        time.Duration     `mapstructure:"settle_wait" yaml:"settle_wait"`
	IdleQuietPeriod   time.Duration     `mapstructure:"idle_quiet_period" yaml:"idle_quiet_period"`
	CaptureHeaders    bool              `mapstructure:"capture_headers" yaml:"capture_headers"`
	ExtraHeaders      map[string]string `mapstructure:"extra_headers" yaml:"extra_headers"`
}

// VitalsConfig tunes the web-vitals observers and their collection.
type VitalsConfig struct {
	// SettleWait is the pause between the last step and metric collection.
	SettleWait time.Duration `mapstructure:"settle_wait" yaml:"settle_wait"`
	// ObserverWait bounds how long collection polls for a first paint metric
	// before degrading.
	ObserverWait time.Duration `mapstructure:"observer_wait" yaml:"observer_wait"`
	// AllowFallback permits the packaged measurement script when the
	// observers produced nothing.
	AllowFallback bool `mapstructure:"allow_fallback" yaml:"allow_fallback"`
}

// ProfileConfig controls runner-process resource sampling during steps.
type ProfileConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
}

// BudgetsConfig carries the global budget thresholds. Scenario files overlay
// these per key.
type BudgetsConfig struct {
	Global map[string]float64 `mapstructure:"global" yaml:"global"`
}

// ReportConfig selects output format and destination.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"` // json, junit or both
	Out    string `mapstructure:"out" yaml:"out"`       // file or directory; empty means stdout
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// StoreConfig configures the optional run-history database.
type StoreConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// BatchConfig tunes batch execution.
type BatchConfig struct {
	// ScenarioGap paces scenario starts; zero disables pacing.
	ScenarioGap time.Duration `mapstructure:"scenario_gap" yaml:"scenario_gap"`
}

// RunConfig is assembled from CLI flags for a single invocation.
type RunConfig struct {
	ScenarioPath    string
	BaseURL         string
	Variables       map[string]string
	FailOnViolation bool
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with the defaults above.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "caliper-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport.width", 1366)
	v.SetDefault("browser.viewport.height", 768)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "90s")
	v.SetDefault("network.settle_wait", "2s")
	v.SetDefault("network.idle_quiet_period", "500ms")
	v.SetDefault("network.capture_headers", false)

	// -- Vitals --
	v.SetDefault("vitals.settle_wait", "2s")
	v.SetDefault("vitals.observer_wait", "10s")
	v.SetDefault("vitals.allow_fallback", true)

	// -- Profile --
	v.SetDefault("profile.enabled", false)
	v.SetDefault("profile.sample_interval", "100ms")

	// -- Report --
	v.SetDefault("report.format", "json")
	v.SetDefault("report.out", "")
	v.SetDefault("report.pretty", true)

	// -- Store --
	v.SetDefault("store.enabled", false)

	// -- Batch --
	v.SetDefault("batch.scenario_gap", "0s")
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// The database URL is the one credential-bearing value; make sure the
	// conventional env var reaches it even without the prefix machinery.
	v.BindEnv("store.database_url", "CALIPER_DB_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Network.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if c.Network.SettleWait < 0 || c.Vitals.SettleWait < 0 {
		return fmt.Errorf("settle waits must not be negative")
	}
	if c.Vitals.ObserverWait <= 0 {
		return fmt.Errorf("vitals.observer_wait must be a positive duration")
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport dimensions must be positive")
	}
	switch c.Report.Format {
	case "json", "junit", "both":
	default:
		return fmt.Errorf("report.format must be one of json, junit, both (got %q)", c.Report.Format)
	}
	if c.Profile.Enabled && c.Profile.SampleInterval < 10*time.Millisecond {
		return fmt.Errorf("profile.sample_interval must be at least 10ms")
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	for name, limit := range c.Budgets.Global {
		if limit < 0 {
			return fmt.Errorf("budgets.global.%s must not be negative", name)
		}
	}
	return nil
}

// Validate checks the store configuration.
func (s *StoreConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.DatabaseURL == "" {
		return fmt.Errorf("database_url is required when the store is enabled. Set store.database_url or CALIPER_DB_URL")
	}
	return nil
}
