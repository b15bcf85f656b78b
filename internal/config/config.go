// Package config loads the service configuration from YAML with environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	MinioPublicBaseURL string `yaml:"minioPublicBaseURL"`

	RabbitURL string `yaml:"rabbitURL"`
	MailQueue string `yaml:"mailQueue"`

	// SiteBaseURL is the public storefront address embedded in magic link mail.
	SiteBaseURL string `yaml:"siteBaseURL"`

	// MediaAPIKey is normally supplied via LUMINA_MEDIA_API_KEY rather than
	// the file. An empty key disables generation endpoints.
	MediaAPIKey          string `yaml:"mediaAPIKey"`
	MediaBaseURL         string `yaml:"mediaBaseURL"`
	VideoPollInterval    string `yaml:"videoPollInterval"`
	VideoPollMaxAttempts int    `yaml:"videoPollMaxAttempts"`
	VideoWorkers         int    `yaml:"videoWorkers"`

	SessionTTL   string `yaml:"sessionTTL"`
	MagicLinkTTL string `yaml:"magicLinkTTL"`
	DraftTTL     string `yaml:"draftTTL"`

	FeaturedLimit  int    `yaml:"featuredLimit"`
	SearchDebounce string `yaml:"searchDebounce"`

	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`
	AllowedExtensions []string `yaml:"allowedExtensions"`

	SignupRateLimitPerMinute    int `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute     int `yaml:"loginRateLimitPerMinute"`
	MagicLinkRateLimitPerMinute int `yaml:"magicLinkRateLimitPerMinute"`
	GenerateRateLimitPerMinute  int `yaml:"generateRateLimitPerMinute"`

	// DistinguishFetchErrors makes a failing detail read answer 502 instead
	// of collapsing into the 404 given for a missing book.
	DistinguishFetchErrors bool `yaml:"distinguishFetchErrors"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("LUMINA_PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LUMINA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_PUBLIC_BASE_URL"); v != "" {
		cfg.MinioPublicBaseURL = v
	}
	if v := os.Getenv("RABBIT_URL"); v != "" {
		cfg.RabbitURL = v
	}
	if v := os.Getenv("LUMINA_MAIL_QUEUE"); v != "" {
		cfg.MailQueue = strings.TrimSpace(v)
	}
	if v := os.Getenv("LUMINA_SITE_BASE_URL"); v != "" {
		cfg.SiteBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("LUMINA_MEDIA_API_KEY"); v != "" {
		cfg.MediaAPIKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("LUMINA_MEDIA_BASE_URL"); v != "" {
		cfg.MediaBaseURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("LUMINA_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("LUMINA_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitCSV(v)
	}
	if v := os.Getenv("LUMINA_DISTINGUISH_FETCH_ERRORS"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.DistinguishFetchErrors = b
		}
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required (sessions, magic links, rate limits, jobs)")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) == "" || strings.TrimSpace(cfg.MinioBucket) == "" {
		return errors.New("config: minioEndpoint and minioBucket are required")
	}
	if cfg.FeaturedLimit < 0 {
		return errors.New("config: featuredLimit must be >= 0")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 ||
		cfg.MagicLinkRateLimitPerMinute < 0 || cfg.GenerateRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	for _, field := range []struct{ name, value string }{
		{"sessionTTL", cfg.SessionTTL},
		{"magicLinkTTL", cfg.MagicLinkTTL},
		{"draftTTL", cfg.DraftTTL},
		{"videoPollInterval", cfg.VideoPollInterval},
		{"searchDebounce", cfg.SearchDebounce},
	} {
		if _, err := ParseOptionalDuration(field.value, 0); err != nil {
			return fmt.Errorf("config: invalid %s: %w", field.name, err)
		}
	}
	return nil
}

// ParseOptionalDuration parses a duration string, falling back to def when
// the string is empty.
func ParseOptionalDuration(value string, def time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	return dur, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
