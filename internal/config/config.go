// Package config loads the portal configuration
package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PORTAL_DATABASE_DRIVER
const EnvPrefix = "PORTAL"

// Config holds the runtime configuration. It is loaded once and never mutated.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Reports   ReportsConfig   `mapstructure:"reports"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port         string `mapstructure:"port"`
	Mode         string `mapstructure:"mode"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// DatabaseConfig holds database settings. URL wins over the discrete fields.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres, mysql, sqlite
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Path     string `mapstructure:"path"` // sqlite file
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret         string `mapstructure:"jwt_secret"`
	AccessExpiryHours int    `mapstructure:"access_expiry_hours"`
	CookieName        string `mapstructure:"cookie_name"`
	CookieSecure      bool   `mapstructure:"cookie_secure"`
}

// AccessExpiry returns the token lifetime
func (a AuthConfig) AccessExpiry() time.Duration {
	return time.Duration(a.AccessExpiryHours) * time.Hour
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// StorageConfig holds upload settings
type StorageConfig struct {
	Root        string `mapstructure:"root"`
	MaxUploadMB int    `mapstructure:"max_upload_mb"`
}

// MaxUploadBytes returns the upload limit in bytes
func (s StorageConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

// ReportsConfig switches export formats and branding
type ReportsConfig struct {
	ExcelEnabled bool   `mapstructure:"excel_enabled"`
	PDFEnabled   bool   `mapstructure:"pdf_enabled"`
	LogoPath     string `mapstructure:"logo_path"`
	CompanyName  string `mapstructure:"company_name"`
}

// SchedulerConfig controls background jobs
type SchedulerConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	OverdueIntervalMinutes int  `mapstructure:"overdue_interval_minutes"`
	Workers                int  `mapstructure:"workers"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "taskportal")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "taskportal.db")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_expiry_hours", 24)
	v.SetDefault("auth.cookie_name", "portal_session")
	v.SetDefault("auth.cookie_secure", false)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allow_credentials", true)

	v.SetDefault("storage.root", "uploads")
	v.SetDefault("storage.max_upload_mb", 25)

	v.SetDefault("reports.excel_enabled", true)
	v.SetDefault("reports.pdf_enabled", true)
	v.SetDefault("reports.logo_path", "")
	v.SetDefault("reports.company_name", "Task Portal")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.overdue_interval_minutes", 60)
	v.SetDefault("scheduler.workers", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/portal.log")
}

// Load reads config.yaml (if present) and PORTAL_* environment overrides.
// An explicit file path takes precedence over the search paths.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/taskportal")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.CORS.AllowedOrigins = normalizeOrigins(cfg.CORS.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = GenerateJWTSecret()
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Server.Mode == "release" && c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required in release mode")
	}
	if c.Auth.AccessExpiryHours <= 0 {
		return errors.New("auth.access_expiry_hours must be positive")
	}
	if c.Storage.MaxUploadMB <= 0 {
		return errors.New("storage.max_upload_mb must be positive")
	}
	if c.Scheduler.Enabled && c.Scheduler.OverdueIntervalMinutes <= 0 {
		return errors.New("scheduler.overdue_interval_minutes must be positive")
	}
	return nil
}

// GenerateJWTSecret generates a random secret for development runs
func GenerateJWTSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "portal-fallback-secret-" + uuid.New().String()
	}
	return base64.URLEncoding.EncodeToString(bytes)
}

// normalizeOrigins accepts both a YAML list and a comma separated env value
func normalizeOrigins(in []string) []string {
	var out []string
	for _, item := range in {
		out = append(out, splitString(item)...)
	}
	return out
}

// splitString splits a comma-separated string into a slice
func splitString(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
