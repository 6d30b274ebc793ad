package config

import "time"

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: ":8008",
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			DSN:      "tasks-management.db",
			LogLevel: "warn",
		},
		Auth: AuthConfig{
			JWTSecret: "development-insecure-secret-change-me",
			Issuer:    "task-management-api",
			Audience:  "task-management-clients",
			TokenTTL:  24 * time.Hour,
		},
		Estimation: EstimationConfig{
			CacheTTL:      5 * time.Minute,
			VelocityWeeks: 4,
		},
	}
}

// setDefaults registers every key with viper so env overrides are picked up by Unmarshal.
func setDefaults(set func(key string, value any)) {
	d := DefaultConfig()
	set("server.port", d.Server.Port)
	set("database.driver", d.Database.Driver)
	set("database.dsn", d.Database.DSN)
	set("database.log_level", d.Database.LogLevel)
	set("auth.jwt_secret", d.Auth.JWTSecret)
	set("auth.issuer", d.Auth.Issuer)
	set("auth.audience", d.Auth.Audience)
	set("auth.token_ttl", d.Auth.TokenTTL)
	set("estimation.cache_ttl", d.Estimation.CacheTTL)
	set("estimation.velocity_weeks", d.Estimation.VelocityWeeks)
}
