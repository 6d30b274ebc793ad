package config

import "time"

// Config is the full service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Estimation EstimationConfig `yaml:"estimation" mapstructure:"estimation"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Port string `yaml:"port" mapstructure:"port"`
}

// DatabaseConfig selects the storage driver and its DSN
type DatabaseConfig struct {
	// Driver is "sqlite" (pure Go, default) or "postgres" (pgx).
	Driver   string `yaml:"driver" mapstructure:"driver"`
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// AuthConfig configures JWT issuance and verification
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer    string        `yaml:"issuer" mapstructure:"issuer"`
	Audience  string        `yaml:"audience" mapstructure:"audience"`
	TokenTTL  time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

// EstimationConfig tunes the estimation read path
type EstimationConfig struct {
	// CacheTTL bounds how long a computed estimate is reused. Zero disables caching.
	CacheTTL      time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`
	VelocityWeeks int           `yaml:"velocity_weeks" mapstructure:"velocity_weeks"`
}
