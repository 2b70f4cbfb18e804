package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PathEnvVar overrides the config file location
const PathEnvVar = "CONFIG_PATH"

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Pulses    PulsesConfig    `yaml:"pulses"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retention RetentionConfig `yaml:"retention"`
	Proximity ProximityConfig `yaml:"proximity"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres or memory
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// PulsesConfig bounds pulse lifetime and reads
type PulsesConfig struct {
	RetentionWindow time.Duration `yaml:"retention_window"`
	HardCapAge      time.Duration `yaml:"hard_cap_age"`
	DefaultWindow   time.Duration `yaml:"default_window"`
	MaxWindow       time.Duration `yaml:"max_window"`
	DefaultPageSize int           `yaml:"default_page_size"`
	MaxPageSize     int           `yaml:"max_page_size"`
	MaxTextLength   int           `yaml:"max_text_length"`
}

// RateLimitConfig holds admission control knobs for writes, plus the coarse read guard
type RateLimitConfig struct {
	Window          time.Duration `yaml:"window"`
	Max             int           `yaml:"max"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	ReadsPerMinute  int           `yaml:"reads_per_minute"`
	DisableReadRate bool          `yaml:"disable_read_rate"`
}

// RetentionConfig holds the expiry sweep schedule
type RetentionConfig struct {
	Interval     time.Duration `yaml:"interval"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// ProximityConfig holds graph builder defaults
type ProximityConfig struct {
	DefaultRadiusKm float64 `yaml:"default_radius_km"`
	MaxRadiusKm     float64 `yaml:"max_radius_km"`
	MaxGroupSize    int     `yaml:"max_group_size"`
}

// BroadcastConfig holds websocket fan-out settings
type BroadcastConfig struct {
	Enabled      bool          `yaml:"enabled"`
	SendBuffer   int           `yaml:"send_buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// Default returns a configuration with every knob set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    4 << 10,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "pulse",
			DBName:   "pulse",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Pulses: PulsesConfig{
			RetentionWindow: 24 * time.Hour,
			HardCapAge:      72 * time.Hour,
			DefaultWindow:   24 * time.Hour,
			MaxWindow:       168 * time.Hour,
			DefaultPageSize: 500,
			MaxPageSize:     5000,
			MaxTextLength:   280,
		},
		RateLimit: RateLimitConfig{
			Window:         time.Minute,
			Max:            5,
			ReadsPerMinute: 120,
		},
		Retention: RetentionConfig{
			Interval:     30 * time.Minute,
			InitialDelay: 5 * time.Second,
		},
		Proximity: ProximityConfig{
			DefaultRadiusKm: 5,
			MaxRadiusKm:     100,
			MaxGroupSize:    1500,
		},
		Broadcast: BroadcastConfig{
			Enabled:      true,
			SendBuffer:   32,
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file layered over Default.
// ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	if p := os.Getenv(PathEnvVar); p != "" {
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.RateLimit.SweepInterval == 0 {
		cfg.RateLimit.SweepInterval = cfg.RateLimit.Window
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the core cannot honor
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Pulses.RetentionWindow <= 0 {
		return fmt.Errorf("pulses.retention_window must be positive")
	}
	if c.Pulses.HardCapAge < c.Pulses.RetentionWindow {
		return fmt.Errorf("pulses.hard_cap_age (%s) must not be shorter than retention_window (%s)",
			c.Pulses.HardCapAge, c.Pulses.RetentionWindow)
	}
	if c.Pulses.DefaultWindow <= 0 || c.Pulses.DefaultWindow > c.Pulses.MaxWindow {
		return fmt.Errorf("pulses.default_window must be in (0, max_window]")
	}
	if c.Pulses.DefaultPageSize <= 0 || c.Pulses.DefaultPageSize > c.Pulses.MaxPageSize {
		return fmt.Errorf("pulses.default_page_size must be in (0, max_page_size]")
	}
	if c.Pulses.MaxTextLength <= 0 {
		return fmt.Errorf("pulses.max_text_length must be positive")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
		return fmt.Errorf("rate_limit.window and rate_limit.max must be positive")
	}
	if c.RateLimit.SweepInterval <= 0 || c.RateLimit.SweepInterval > c.RateLimit.Window {
		return fmt.Errorf("rate_limit.sweep_interval must be in (0, window]")
	}
	if c.Retention.Interval <= 0 {
		return fmt.Errorf("retention.interval must be positive")
	}
	if c.Proximity.DefaultRadiusKm <= 0 || c.Proximity.DefaultRadiusKm > c.Proximity.MaxRadiusKm {
		return fmt.Errorf("proximity.default_radius_km must be in (0, max_radius_km]")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Addr returns the listen address
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
