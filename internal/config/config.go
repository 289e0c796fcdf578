// Package config loads exporter settings from an optional YAML file and
// MOESCAPE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "MOESCAPE"

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
	Output  OutputConfig  `mapstructure:"output"`
	Storage StorageConfig `mapstructure:"storage"`
	Images  ImagesConfig  `mapstructure:"images"`
}

// APIConfig describes the remote chat service.
type APIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Token      string `mapstructure:"token"`
	Cookie     string `mapstructure:"cookie"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
	PageSize   int    `mapstructure:"page_size"`
	MaxRetries int    `mapstructure:"max_retries"`
	MetaHeader string `mapstructure:"meta_header"`
}

type CacheConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	MinIO   MinIOConfig `mapstructure:"minio"`
}

// MinIOConfig configures the S3-compatible export sink.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
}

type ImagesConfig struct {
	CountBatchSize    int `mapstructure:"count_batch_size"`
	CountBatchDelayMs int `mapstructure:"count_batch_delay_ms"`
	DownloadParallel  int `mapstructure:"download_parallel"`
	// StrictHosts limits downloads and previews to the service's own hosts.
	StrictHosts bool `mapstructure:"strict_hosts"`
}

var defaults = map[string]interface{}{
	"api.base_url":                    "https://api.moescape.ai",
	"api.token":                       "",
	"api.cookie":                      "",
	"api.timeout_sec":                 60,
	"api.page_size":                   500,
	"api.max_retries":                 6,
	"api.meta_header":                 "X-Request-Id",
	"cache.backend":                   "sqlite",
	"cache.redis.addr":                "",
	"cache.redis.password":            "",
	"cache.redis.db":                  0,
	"cache.redis.prefix":              "moescape",
	"store.path":                      "",
	"log.level":                       "info",
	"log.format":                      "console",
	"output.dir":                      ".",
	"storage.backend":                 "local",
	"storage.minio.endpoint":          "",
	"storage.minio.access_key_id":     "",
	"storage.minio.secret_access_key": "",
	"storage.minio.use_ssl":           true,
	"storage.minio.bucket":            "",
	"storage.minio.region":            "us-east-1",
	"storage.minio.prefix":            "exports",
	"images.count_batch_size":         5,
	"images.count_batch_delay_ms":     1000,
	"images.download_parallel":        4,
	"images.strict_hosts":             false,
}

// Load reads configuration. An empty path means the default location, which
// is allowed to be missing; an explicit path must exist.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		if dir, err := ConfigDir(); err == nil {
			path = filepath.Join(dir, "config.yaml")
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if explicit {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var (
	ErrInvalidCacheBackend   = errors.New("cache.backend must be sqlite, memory or redis")
	ErrInvalidStorageBackend = errors.New("storage.backend must be local or minio")
	ErrInvalidPageSize       = errors.New("api.page_size must be positive")
)

func (c Config) Validate() error {
	switch c.Cache.Backend {
	case "sqlite", "memory", "redis":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCacheBackend, c.Cache.Backend)
	}
	switch c.Storage.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStorageBackend, c.Storage.Backend)
	}
	if c.API.PageSize <= 0 {
		return ErrInvalidPageSize
	}
	return nil
}

// ConfigDir returns $MOESCAPE_CONFIG_DIR, else the XDG config directory.
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "moescape"), nil
}

// StorePath resolves the bookmarks database location.
func (c Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "moescape.db"), nil
}
