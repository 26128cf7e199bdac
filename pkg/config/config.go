// Package config defines the router configuration, its defaults, YAML
// loading, and validation. Runtime updates go through Apply, which rejects
// the whole changed set if any key fails validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Loading errors.
var (
	ErrFileNotFound = errors.New("config: file not found")
	ErrEmptyFile    = errors.New("config: file is empty")
	ErrInvalidYAML  = errors.New("config: invalid YAML")
)

// Config is the full router configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Access   AccessConfig   `yaml:"access"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProtocolConfig covers the socket engine.
type ProtocolConfig struct {
	MaxConnections int      `yaml:"maxConnections"`
	MaxMessageSize int64    `yaml:"maxMessageSize"`
	PingInterval   Duration `yaml:"pingInterval"`
	PongTimeout    Duration `yaml:"pongTimeout"`
	RequireAuth    bool     `yaml:"requireAuth"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// AccessConfig covers keys, rate limits, and the request gate.
type AccessConfig struct {
	RequireKeys        bool     `yaml:"requireKeys"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
	RateLimitPerHour   int      `yaml:"rateLimitPerHour"`
	MaxPayloadBytes    int64    `yaml:"maxPayloadBytes"`
	AllowedOrigins     []string `yaml:"allowedOrigins"`
	BlockedIPs         []string `yaml:"blockedIPs"`
}

// HealthConfig covers the metrics collector and alerting.
type HealthConfig struct {
	CollectInterval    Duration `yaml:"collectInterval"`
	Retention          Duration `yaml:"retention"`
	MaxDataPoints      int      `yaml:"maxDataPoints"`
	MemoryThresholdPct float64  `yaml:"memoryThresholdPct"`
	ErrorRateThreshold float64  `yaml:"errorRateThreshold"`
	AlertDedupWindow   Duration `yaml:"alertDedupWindow"`
	MaxAlerts          int      `yaml:"maxAlerts"`
	DataDir            string   `yaml:"dataDir"`
}

// LoggingConfig covers structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8880},
		Protocol: ProtocolConfig{
			MaxConnections: 1000,
			MaxMessageSize: 1 << 20,
			PingInterval:   Duration(30 * time.Second),
			PongTimeout:    Duration(10 * time.Second),
			RequireAuth:    true,
			AllowedOrigins: []string{"*"},
		},
		Access: AccessConfig{
			RequireKeys:        true,
			RateLimitPerMinute: 100,
			RateLimitPerHour:   1000,
			MaxPayloadBytes:    5 << 20,
			AllowedOrigins:     []string{"*"},
		},
		Health: HealthConfig{
			CollectInterval:    Duration(5 * time.Second),
			Retention:          Duration(24 * time.Hour),
			MaxDataPoints:      2880,
			MemoryThresholdPct: 85,
			ErrorRateThreshold: 0.1,
			AlertDedupWindow:   Duration(5 * time.Minute),
			MaxAlerts:          100,
			DataDir:            ".",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("config: %s invalid: %v", path, errs[0].Error())
	}
	return cfg, nil
}

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the whole configuration and returns every failure.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, message string) {
		errs = append(errs, ValidationError{Field: field, Message: message})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "must be between 1 and 65535")
	}
	if c.Protocol.MaxConnections < 1 {
		add("protocol.maxConnections", "must be at least 1")
	}
	if c.Protocol.MaxMessageSize < 1 {
		add("protocol.maxMessageSize", "must be positive")
	}
	if c.Protocol.PingInterval <= 0 {
		add("protocol.pingInterval", "must be positive")
	}
	if c.Protocol.PongTimeout <= 0 {
		add("protocol.pongTimeout", "must be positive")
	}
	if c.Access.RateLimitPerMinute < 1 {
		add("access.rateLimitPerMinute", "must be at least 1")
	}
	if c.Access.RateLimitPerHour < c.Access.RateLimitPerMinute {
		add("access.rateLimitPerHour", "must be at least the per-minute limit")
	}
	if c.Health.CollectInterval <= 0 {
		add("health.collectInterval", "must be positive")
	}
	if c.Health.MaxDataPoints < 1 {
		add("health.maxDataPoints", "must be at least 1")
	}
	if c.Health.MemoryThresholdPct <= 0 || c.Health.MemoryThresholdPct > 100 {
		add("health.memoryThresholdPct", "must be in (0, 100]")
	}
	if c.Health.ErrorRateThreshold < 0 || c.Health.ErrorRateThreshold > 1 {
		add("health.errorRateThreshold", "must be in [0, 1]")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		add("logging.level", "must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		add("logging.format", "must be text or json")
	}

	return errs
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Protocol.AllowedOrigins = append([]string(nil), c.Protocol.AllowedOrigins...)
	cp.Access.AllowedOrigins = append([]string(nil), c.Access.AllowedOrigins...)
	cp.Access.BlockedIPs = append([]string(nil), c.Access.BlockedIPs...)
	return &cp
}
