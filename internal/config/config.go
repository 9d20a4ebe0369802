package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Paths     PathsConfig     `json:"paths"`
	Storage   StorageConfig   `json:"storage"`
	Fonts     FontsConfig     `json:"fonts"`
	Issuance  IssuanceConfig  `json:"issuance"`
	Audit     AuditConfig     `json:"audit"`
	Notify    NotifyConfig    `json:"notify"`
	Logging   LoggingConfig   `json:"logging"`
	Reconcile ReconcileConfig `json:"reconcile"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver         string   `json:"driver"` // postgres, sqlite3
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	User           string   `json:"user"`
	Password       string   `json:"password"`
	DBName         string   `json:"db_name"`
	SSLMode        string   `json:"ssl_mode"`
	Path           string   `json:"path"` // sqlite3 only
	MaxConnections int      `json:"max_connections"`
	MaxIdleConns   int      `json:"max_idle_conns"`
	MaxLifetime    Duration `json:"max_lifetime"`
}

// PathsConfig holds the three working directories
type PathsConfig struct {
	Uploads   string `json:"uploads"`
	Fonts     string `json:"fonts"`
	Templates string `json:"certificate_templates"`
}

// StorageConfig selects the artifact backend
type StorageConfig struct {
	Backend string   `json:"backend"` // fs, s3
	S3      S3Config `json:"s3"`
}

// S3Config configures the S3 artifact backend
type S3Config struct {
	Bucket          string   `json:"bucket"`
	Prefix          string   `json:"prefix"`
	Region          string   `json:"region"`
	Endpoint        string   `json:"endpoint"`
	AccessKeyID     string   `json:"access_key_id"`
	SecretAccessKey string   `json:"secret_access_key"`
	UsePathStyle    bool     `json:"use_path_style"`
	PresignTTL      Duration `json:"presign_ttl"` // zero streams downloads through the API
}

// FontsConfig holds the optional fallback font
type FontsConfig struct {
	FallbackFamily string `json:"fallback_family"`
	FallbackStyle  string `json:"fallback_style"`
}

// IssuanceConfig tunes the pipeline
type IssuanceConfig struct {
	RetryAttempts      int      `json:"retry_attempts"`
	RetryDelay         Duration `json:"retry_delay"`
	LeaseTimeout       Duration `json:"lease_timeout"`
	VerificationSecret string   `json:"verification_secret"`
	VerifyURL          string   `json:"verify_url"` // printf pattern, %s is the code
}

// AuditConfig enables the audit trail
type AuditConfig struct {
	Enabled bool `json:"enabled"`
}

// NotifyConfig configures completion notifications
type NotifyConfig struct {
	SNSTopicARN string `json:"sns_topic_arn"`
	Region      string `json:"region"`
}

// LoggingConfig
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json, console
}

// ReconcileConfig schedules the stale issuance reconciler
type ReconcileConfig struct {
	Schedule  string `json:"schedule"` // cron expression
	BatchSize int    `json:"batch_size"`
}

// Duration is a time.Duration that reads "30s" style strings or nanoseconds from JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration(15 * time.Second),
			WriteTimeout: Duration(60 * time.Second),
			IdleTimeout:  Duration(120 * time.Second),
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "certificates",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    Duration(30 * time.Minute),
		},
		Paths: PathsConfig{
			Uploads:   "uploads",
			Fonts:     "fonts",
			Templates: "certificate_templates",
		},
		Storage: StorageConfig{
			Backend: "fs",
		},
		Issuance: IssuanceConfig{
			RetryAttempts: 3,
			RetryDelay:    Duration(200 * time.Millisecond),
			LeaseTimeout:  Duration(10 * time.Minute),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Reconcile: ReconcileConfig{
			Schedule:  "@every 5m",
			BatchSize: 50,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
// A .env file in the working directory is applied to the environment first.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Default()

	// Load from file if exists
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Override with environment variables
	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func overrideWithEnv(config *Config) error {
	strs := map[string]*string{
		"SERVER_HOST":               &config.Server.Host,
		"DATABASE_DRIVER":           &config.Database.Driver,
		"DATABASE_HOST":             &config.Database.Host,
		"DATABASE_USER":             &config.Database.User,
		"DATABASE_PASSWORD":         &config.Database.Password,
		"DATABASE_DBNAME":           &config.Database.DBName,
		"DATABASE_SSLMODE":          &config.Database.SSLMode,
		"DATABASE_PATH":             &config.Database.Path,
		"UPLOADS_DIR":               &config.Paths.Uploads,
		"FONTS_DIR":                 &config.Paths.Fonts,
		"CERTIFICATE_TEMPLATES_DIR": &config.Paths.Templates,
		"STORAGE_BACKEND":           &config.Storage.Backend,
		"S3_BUCKET":                 &config.Storage.S3.Bucket,
		"S3_PREFIX":                 &config.Storage.S3.Prefix,
		"S3_ENDPOINT":               &config.Storage.S3.Endpoint,
		"AWS_REGION":                &config.Storage.S3.Region,
		"AWS_ACCESS_KEY_ID":         &config.Storage.S3.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY":     &config.Storage.S3.SecretAccessKey,
		"FONT_FALLBACK_FAMILY":      &config.Fonts.FallbackFamily,
		"FONT_FALLBACK_STYLE":       &config.Fonts.FallbackStyle,
		"VERIFICATION_SECRET":       &config.Issuance.VerificationSecret,
		"VERIFY_URL":                &config.Issuance.VerifyURL,
		"NOTIFY_SNS_TOPIC_ARN":      &config.Notify.SNSTopicARN,
		"LOG_LEVEL":                 &config.Logging.Level,
		"LOG_FORMAT":                &config.Logging.Format,
		"RECONCILE_SCHEDULE":        &config.Reconcile.Schedule,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SERVER_PORT":             &config.Server.Port,
		"DATABASE_PORT":           &config.Database.Port,
		"ISSUANCE_RETRY_ATTEMPTS": &config.Issuance.RetryAttempts,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s must be an integer: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"ISSUANCE_RETRY_DELAY":   &config.Issuance.RetryDelay,
		"ISSUANCE_LEASE_TIMEOUT": &config.Issuance.LeaseTimeout,
		"S3_PRESIGN_TTL":         &config.Storage.S3.PresignTTL,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s must be a duration: %w", key, err)
			}
			*dst = Duration(d)
		}
	}

	if v := os.Getenv("AUDIT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUDIT_ENABLED must be a boolean: %w", err)
		}
		config.Audit.Enabled = enabled
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database.host and database.db_name are required for postgres")
		}
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite3")
		}
	default:
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite3'")
	}

	if c.Paths.Uploads == "" || c.Paths.Fonts == "" || c.Paths.Templates == "" {
		return fmt.Errorf("paths.uploads, paths.fonts and paths.certificate_templates are required")
	}

	switch c.Storage.Backend {
	case "fs":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'fs' or 's3'")
	}

	if c.Issuance.RetryAttempts < 1 {
		return fmt.Errorf("issuance.retry_attempts must be at least 1")
	}
	if c.Issuance.LeaseTimeout.Std() <= 0 {
		return fmt.Errorf("issuance.lease_timeout must be positive")
	}
	if c.Issuance.VerificationSecret == "" {
		return fmt.Errorf("issuance.verification_secret is required")
	}
	if c.Issuance.VerifyURL != "" && strings.Count(c.Issuance.VerifyURL, "%s") != 1 {
		return fmt.Errorf("issuance.verify_url must contain exactly one %%s")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}

// GetDatabaseURL returns the database connection string for the configured driver
func (c *DatabaseConfig) GetDatabaseURL() string {
	if c.Driver == "sqlite3" {
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", filepath.ToSlash(c.Path))
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RedactedURL returns the connection string without the password, for logging
func (c *DatabaseConfig) RedactedURL() string {
	if c.Driver == "sqlite3" {
		return c.GetDatabaseURL()
	}
	return fmt.Sprintf("postgres://%s:***@%s:%d/%s?sslmode=%s",
		c.User, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
