package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	// JWT settings for verifying bearer credentials issued by the platform.
	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// PersistTimeout bounds every store call made from the realtime path.
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`

	// RedisURL enables the cross-process broadcast bridge when set.
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`

	// EventBuffer is the per-connection outbound event buffer size.
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "dwellchat.db",
		LogLevel:          "info",
		JWTIssuer:         "dwellchat",
		JWTAudience:       "dwellchat",
		PersistTimeout:    3 * time.Second,
		EventBuffer:       32,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.PersistTimeout != 0 {
		c.PersistTimeout = other.PersistTimeout
	}
	if other.RedisURL != "" {
		c.RedisURL = other.RedisURL
	}
	if other.EventBuffer != 0 {
		c.EventBuffer = other.EventBuffer
	}
}
