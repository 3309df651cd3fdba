package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Capability CapabilityConfig `yaml:"capability"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Auth       AuthConfig       `yaml:"auth"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"` // empty selects the in-memory repository
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

type StorageConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	Region    string        `yaml:"region"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	UseSSL    bool          `yaml:"use_ssl"`
	Buckets   BucketsConfig `yaml:"buckets"`
}

// BucketsConfig names the bucket scope for each flow. Initial uploads
// land in a queue bucket and are moved to the primary bucket by the
// processing service; appends and previews have their own scopes so
// capabilities never collide across flows.
type BucketsConfig struct {
	Datasets string `yaml:"datasets"`
	Uploads  string `yaml:"uploads"`
	Appends  string `yaml:"appends"`
	Previews string `yaml:"previews"`
}

type CapabilityConfig struct {
	UploadTTL  time.Duration `yaml:"upload_ttl"`
	AppendTTL  time.Duration `yaml:"append_ttl"`
	PreviewTTL time.Duration `yaml:"preview_ttl"`
}

type DispatcherConfig struct {
	Endpoint      string `yaml:"endpoint"`
	CallbackToken string `yaml:"callback_token"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Port:    5432,
			SSLMode: "disable",
		},
		Storage: StorageConfig{
			Region: "us-east-2",
			UseSSL: true,
			Buckets: BucketsConfig{
				Datasets: "datasetd-datasets",
				Uploads:  "datasetd-uploads-queue",
				Appends:  "datasetd-appends",
				Previews: "datasetd-previews",
			},
		},
		Capability: CapabilityConfig{
			UploadTTL:  time.Hour,
			AppendTTL:  30 * time.Second,
			PreviewTTL: 30 * time.Second,
		},
	}
}

// Load reads a yaml config file over the defaults, then applies env
// overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	LoadFromEnv(cfg)
	return cfg, nil
}
