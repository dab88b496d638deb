// Package config loads console settings from an optional YAML file and
// THREATSCOPE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// replaced by underscores: THREATSCOPE_BACKEND_URL.
const EnvPrefix = "THREATSCOPE"

// Cache drivers.
const (
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
	CacheMemory   = "memory"
)

type BackendConfig struct {
	URL     string        `mapstructure:"url" yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type UploadConfig struct {
	MaxBytes int64 `mapstructure:"max_bytes" yaml:"max_bytes"`
}

type CacheConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type ServerConfig struct {
	Port       int    `mapstructure:"port" yaml:"port"`
	TLSDomain  string `mapstructure:"tls_domain" yaml:"tls_domain"`
	ACMEEmail  string `mapstructure:"acme_email" yaml:"acme_email"`
	Production bool   `mapstructure:"production" yaml:"production"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

type AuthConfig struct {
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key"`
}

type ExplainConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Model  string `mapstructure:"model" yaml:"model"`
}

type RateLimitConfig struct {
	ScanPerMinute int `mapstructure:"scan_per_minute" yaml:"scan_per_minute"`
}

// Config is the full console configuration.
type Config struct {
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Upload    UploadConfig    `mapstructure:"upload" yaml:"upload"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Explain   ExplainConfig   `mapstructure:"explain" yaml:"explain"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.url", "http://127.0.0.1:5001")
	v.SetDefault("backend.timeout", "60s")
	v.SetDefault("upload.max_bytes", 5<<20)
	v.SetDefault("cache.driver", CacheSQLite)
	v.SetDefault("cache.path", defaultCachePath())
	v.SetDefault("database.url", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls_domain", "")
	v.SetDefault("server.acme_email", "")
	v.SetDefault("server.production", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("auth.encryption_key", "")
	v.SetDefault("explain.api_key", "")
	v.SetDefault("explain.model", "claude-sonnet-4-5")
	v.SetDefault("ratelimit.scan_per_minute", 10)
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "threatscope", "cache.db")
}

// Load reads file (or ./threatscope.yaml when file is empty) plus the
// environment into a validated Config. A missing default file is not an
// error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("threatscope")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url must be an absolute URL, got %q", c.Backend.URL))
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, errors.New("backend.timeout must be positive"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.max_bytes must be positive"))
	}
	switch c.Cache.Driver {
	case CacheSQLite:
		if c.Cache.Path == "" {
			errs = append(errs, errors.New("cache.path is required for the sqlite driver"))
		}
	case CachePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres cache driver"))
		}
	case CacheMemory:
	default:
		errs = append(errs, fmt.Errorf("cache.driver must be sqlite, postgres or memory, got %q", c.Cache.Driver))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.TLSDomain != "" && c.Server.ACMEEmail == "" {
		errs = append(errs, errors.New("server.acme_email is required with server.tls_domain"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if k := c.Auth.EncryptionKey; k != "" && len(k) != 64 {
		errs = append(errs, errors.New("auth.encryption_key must be 64 hex chars"))
	}
	if c.RateLimit.ScanPerMinute <= 0 {
		errs = append(errs, errors.New("ratelimit.scan_per_minute must be positive"))
	}
	return errors.Join(errs...)
}
