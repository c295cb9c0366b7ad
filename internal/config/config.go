// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Redis() RedisConfig
	Session() SessionConfig
	Cache() CacheConfig
	Executor() ExecutorConfig
	Browser() BrowserConfig

	SetBrowserHeadless(bool)
	SetSessionUser(string)
}

// Config holds the entire application configuration.
// Sections are reached through the Interface getters.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	RedisCfg    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	SessionCfg  SessionConfig  `mapstructure:"session" yaml:"session"`
	CacheCfg    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	ExecutorCfg ExecutorConfig `mapstructure:"executor" yaml:"executor"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Redis() RedisConfig       { return c.RedisCfg }
func (c *Config) Session() SessionConfig   { return c.SessionCfg }
func (c *Config) Cache() CacheConfig       { return c.CacheCfg }
func (c *Config) Executor() ExecutorConfig { return c.ExecutorCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetSessionUser(u string)   { c.SessionCfg.DefaultUser = u }

// LoggerConfig holds all the configuration for the logger.
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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Durable store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects and locates the durable sequence store.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver"`
	URL        string `mapstructure:"url" yaml:"url"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns" yaml:"max_conns"`
}

// ResolvedSQLitePath expands a leading ~ in SQLitePath.
func (d DatabaseConfig) ResolvedSQLitePath() (string, error) {
	p, err := homedir.Expand(d.SQLitePath)
	if err != nil {
		return "", fmt.Errorf("failed to expand sqlite path %q: %w", d.SQLitePath, err)
	}
	return p, nil
}

// RedisConfig locates the volatile store.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr" yaml:"addr"`
	Password    string        `mapstructure:"password" yaml:"-"`
	DB          int           `mapstructure:"db" yaml:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	TTL          time.Duration `mapstructure:"ttl" yaml:"ttl"`
	DefaultUser  string        `mapstructure:"default_user" yaml:"default_user"`
	FlushWorkers int           `mapstructure:"flush_workers" yaml:"flush_workers"`
}

// CacheConfig tunes sequence lookup and maintenance.
type CacheConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	MinSuccessRate      float64 `mapstructure:"min_success_rate" yaml:"min_success_rate"`
	CleanupMaxAgeDays   int     `mapstructure:"cleanup_max_age_days" yaml:"cleanup_max_age_days"`
}

// ExecutorConfig tunes the plan-execute-verify loop.
type ExecutorConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	SettleDelay   time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	NavigateWait  time.Duration `mapstructure:"navigate_wait" yaml:"navigate_wait"`
	HistoryWindow int           `mapstructure:"history_window" yaml:"history_window"`
	// MaxRounds caps planning rounds per run, successful or not. 0 disables the cap.
	MaxRounds     int           `mapstructure:"max_rounds" yaml:"max_rounds"`
}

// BrowserConfig holds settings for the headless browser used to run actions.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	RateLimit         float64        `mapstructure:"rate_limit" yaml:"rate_limit"` // actions per second
	Burst             int            `mapstructure:"burst" yaml:"burst"`
	MaxElements       int            `mapstructure:"max_elements" yaml:"max_elements"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autopilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Database --
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "~/.autopilot/action_cache.db")
	v.SetDefault("database.max_conns", 4)

	// -- Redis --
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")

	// -- Session --
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("session.default_user", "default_user")
	v.SetDefault("session.flush_workers", 4)

	// -- Cache --
	v.SetDefault("cache.similarity_threshold", 0.8)
	v.SetDefault("cache.min_success_rate", 0.8)
	v.SetDefault("cache.cleanup_max_age_days", 30)

	// -- Executor --
	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("executor.settle_delay", "200ms")
	v.SetDefault("executor.navigate_wait", "1s")
	v.SetDefault("executor.history_window", 10)
	v.SetDefault("executor.max_rounds", 20)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.action_timeout", "15s")
	v.SetDefault("browser.rate_limit", 5.0)
	v.SetDefault("browser.burst", 10)
	v.SetDefault("browser.max_elements", 200)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix("AUTOPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind environment variables for sensitive data
	_ = v.BindEnv("redis.password", "AUTOPILOT_REDIS_PASSWORD")
	_ = v.BindEnv("database.url", "AUTOPILOT_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.RedisCfg.Password == "" {
		cfg.RedisCfg.Password = os.Getenv("REDIS_PASSWORD")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.DatabaseCfg.Validate(); err != nil {
		return fmt.Errorf("database configuration invalid: %w", err)
	}
	if c.RedisCfg.Addr == "" {
		return fmt.Errorf("redis.addr is a required configuration field")
	}
	if c.SessionCfg.TTL <= 0 {
		return fmt.Errorf("session.ttl must be a positive duration")
	}
	if c.SessionCfg.FlushWorkers <= 0 {
		return fmt.Errorf("session.flush_workers must be a positive integer")
	}
	if err := c.CacheCfg.Validate(); err != nil {
		return fmt.Errorf("cache configuration invalid: %w", err)
	}
	if err := c.ExecutorCfg.Validate(); err != nil {
		return fmt.Errorf("executor configuration invalid: %w", err)
	}
	if c.BrowserCfg.RateLimit <= 0 {
		return fmt.Errorf("browser.rate_limit must be positive")
	}
	return nil
}

// Validate checks the database configuration.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case DriverPostgres:
		if d.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver")
		}
	case DriverSQLite:
		if d.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown database.driver %q (supported: postgres, sqlite)", d.Driver)
	}
	return nil
}

// Validate checks the cache thresholds.
func (c *CacheConfig) Validate() error {
	if c.SimilarityThreshold < 0.0 || c.SimilarityThreshold > 1.0 {
		return fmt.Errorf("similarity_threshold must be between 0.0 and 1.0")
	}
	if c.MinSuccessRate < 0.0 || c.MinSuccessRate > 1.0 {
		return fmt.Errorf("min_success_rate must be between 0.0 and 1.0")
	}
	if c.CleanupMaxAgeDays <= 0 {
		return fmt.Errorf("cleanup_max_age_days must be a positive integer")
	}
	return nil
}

// Validate checks the executor settings.
func (e *ExecutorConfig) Validate() error {
	if e.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if e.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	if e.HistoryWindow <= 0 {
		return fmt.Errorf("history_window must be a positive integer")
	}
	if e.MaxRounds < 0 {
		return fmt.Errorf("max_rounds must not be negative")
	}
	return nil
}
