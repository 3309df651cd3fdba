package config

import (
	"os"
	"strconv"
)

// LoadFromEnv applies environment overrides on top of a config.
func LoadFromEnv(cfg *Config) {
	if port := os.Getenv("DATASETD_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if level := os.Getenv("DATASETD_LOG_LEVEL"); level != "" {
		cfg.Server.LogLevel = level
	}

	cfg.Database.Host = GetEnvOrDefault("DATASETD_DB_HOST", cfg.Database.Host)
	cfg.Database.Database = GetEnvOrDefault("DATASETD_DB_NAME", cfg.Database.Database)
	cfg.Database.User = GetEnvOrDefault("DATASETD_DB_USER", cfg.Database.User)
	cfg.Database.Password = GetEnvOrDefault("DATASETD_DB_PASSWORD", cfg.Database.Password)
	if port := os.Getenv("DATASETD_DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}

	cfg.Storage.Endpoint = GetEnvOrDefault("DATASETD_S3_ENDPOINT", cfg.Storage.Endpoint)
	cfg.Storage.Region = GetEnvOrDefault("DATASETD_S3_REGION", cfg.Storage.Region)
	cfg.Storage.AccessKey = GetEnvOrDefault("DATASETD_S3_ACCESS_KEY", cfg.Storage.AccessKey)
	cfg.Storage.SecretKey = GetEnvOrDefault("DATASETD_S3_SECRET_KEY", cfg.Storage.SecretKey)

	cfg.Dispatcher.Endpoint = GetEnvOrDefault("DATASETD_DISPATCH_ENDPOINT", cfg.Dispatcher.Endpoint)
	cfg.Dispatcher.CallbackToken = GetEnvOrDefault("DATASETD_CALLBACK_TOKEN", cfg.Dispatcher.CallbackToken)
	cfg.Auth.JWTSecret = GetEnvOrDefault("DATASETD_JWT_SECRET", cfg.Auth.JWTSecret)
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
