// Package config provides centralized configuration management for the notevault server.
// It loads configuration from CLI flags and environment variables, validates required fields,
// and provides sensible defaults.
//
// CLI flags control which services are replaced by local stand-ins (--no-s3, --test).
// Environment variables provide secrets and service configuration.
package config

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/notevault/internal/ratelimit"
)

const (
	defaultS3Region = "auto"

	AuditSinkFile   = "file"
	AuditSinkSQLite = "sqlite"

	HasherArgon2 = "argon2"
	HasherBcrypt = "bcrypt"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr string
	DataDir    string
	LogLevel   string // debug | info | warn | error

	// Secrets
	MasterKey          string // 64 hex characters (32 bytes)
	AccessTokenSecret  string // optional hex, derived from MasterKey when empty
	RefreshTokenSecret string // optional hex, derived from MasterKey when empty

	// Tokens
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Accounts and notes
	PasswordHasher         string // argon2 | bcrypt
	AuditSink              string // file | sqlite
	NoteQuotaBytes         int64
	BootstrapAdminUsername string
	BootstrapAdminPassword string

	// RestrictAdminRegistration requires an admin bearer token to register
	// another admin (RESTRICT_ADMIN_REGISTRATION).
	RestrictAdminRegistration bool

	// Rate limiting
	RateLimitConfig ratelimit.Config

	// Local stand-in flags (controlled by CLI flags, not env vars)
	NoS3 bool // If true, keep the document on local disk under DataDir (--no-s3)

	// S3 document storage
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
	S3Prefix           string // S3_PREFIX
	AWSUsePathStyle    bool   // AWS_S3_USE_PATH_STYLE
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// ParseFlags parses CLI flags and returns them. Call before LoadConfig.
// This registers and parses --no-s3, --test, and --addr flags.
func ParseFlags() (noS3 bool, addr string) {
	return parseFlags(flag.CommandLine, os.Args[1:])
}

func parseFlags(fs *flag.FlagSet, args []string) (noS3 bool, addr string) {
	var testMode bool
	fs.BoolVar(&noS3, "no-s3", false, "Store the document on local disk instead of S3")
	fs.BoolVar(&testMode, "test", false, "Shorthand for --no-s3")
	fs.StringVar(&addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	_ = fs.Parse(args)

	if testMode {
		noS3 = true
	}
	return noS3, addr
}

// LoadConfig loads configuration from environment variables and CLI flag values.
// The addr flag overrides the LISTEN_ADDR env var if non-empty.
func LoadConfig(noS3 bool, addr string) (*Config, error) {
	cfg := &Config{}

	cfg.NoS3 = noS3

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if addr != "" {
		cfg.ListenAddr = addr
	}
	cfg.DataDir = getEnvOrDefault("DATA_DIR", "./data")
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))

	// Secrets
	cfg.MasterKey = strings.TrimSpace(os.Getenv("MASTER_KEY"))
	cfg.AccessTokenSecret = strings.TrimSpace(os.Getenv("ACCESS_TOKEN_SECRET"))
	cfg.RefreshTokenSecret = strings.TrimSpace(os.Getenv("REFRESH_TOKEN_SECRET"))

	cfg.AccessTokenTTL = parseDurationOrDefault("ACCESS_TOKEN_TTL", time.Hour)
	cfg.RefreshTokenTTL = parseDurationOrDefault("REFRESH_TOKEN_TTL", 7*24*time.Hour)

	cfg.PasswordHasher = getEnvOrDefault("PASSWORD_HASHER", HasherArgon2)
	cfg.AuditSink = getEnvOrDefault("AUDIT_SINK", AuditSinkFile)
	cfg.NoteQuotaBytes = int64(parseIntOrDefault("NOTE_QUOTA_BYTES", 10<<20))
	cfg.BootstrapAdminUsername = getEnvOrDefault("BOOTSTRAP_ADMIN_USERNAME", "")
	cfg.BootstrapAdminPassword = os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")
	cfg.RestrictAdminRegistration = parseBoolOrDefault("RESTRICT_ADMIN_REGISTRATION", false)

	// Rate limiting
	cfg.RateLimitConfig = ratelimit.Config{
		UserRPS:         parseFloat64OrDefault("RATE_LIMIT_USER_RPS", ratelimit.DefaultConfig.UserRPS),
		UserBurst:       parseIntOrDefault("RATE_LIMIT_USER_BURST", ratelimit.DefaultConfig.UserBurst),
		AdminRPS:        parseFloat64OrDefault("RATE_LIMIT_ADMIN_RPS", ratelimit.DefaultConfig.AdminRPS),
		AdminBurst:      parseIntOrDefault("RATE_LIMIT_ADMIN_BURST", ratelimit.DefaultConfig.AdminBurst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", time.Hour),
	}

	// S3 document storage
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = strings.TrimSpace(os.Getenv("BUCKET_NAME"))
	cfg.S3Prefix = getEnvOrDefault("S3_PREFIX", "notevault/")
	cfg.AWSUsePathStyle = parseBoolOrDefault("AWS_S3_USE_PATH_STYLE", false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// When --no-s3 is not set, the S3 credentials are required.
func (c *Config) Validate() error {
	var errs []string

	if !c.NoS3 {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required (set env var or use --no-s3)")
		}
		if c.AWSBucketName == "" {
			errs = append(errs, "BUCKET_NAME is required (set env var or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required (set env var or use --no-s3)")
		}
	}

	if c.DataDir == "" {
		errs = append(errs, "DATA_DIR must not be empty")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, "LOG_LEVEL must be one of debug, info, warn, error")
	}

	// MasterKey: always required (audit database key and token secrets derive from it)
	if c.MasterKey == "" {
		errs = append(errs, "MASTER_KEY is required (generate with: openssl rand -hex 32)")
	} else if len(c.MasterKey) != 64 || !isHex(c.MasterKey) {
		errs = append(errs, "MASTER_KEY must be 64 hex characters (32 bytes)")
	}

	errs = append(errs, validateSecret("ACCESS_TOKEN_SECRET", c.AccessTokenSecret)...)
	errs = append(errs, validateSecret("REFRESH_TOKEN_SECRET", c.RefreshTokenSecret)...)
	if c.AccessTokenSecret != "" && strings.EqualFold(c.AccessTokenSecret, c.RefreshTokenSecret) {
		errs = append(errs, "ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	if c.AccessTokenTTL <= 0 {
		errs = append(errs, "ACCESS_TOKEN_TTL must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		errs = append(errs, "REFRESH_TOKEN_TTL must be positive")
	}

	switch c.PasswordHasher {
	case HasherArgon2, HasherBcrypt:
	default:
		errs = append(errs, fmt.Sprintf("PASSWORD_HASHER must be %q or %q", HasherArgon2, HasherBcrypt))
	}
	switch c.AuditSink {
	case AuditSinkFile, AuditSinkSQLite:
	default:
		errs = append(errs, fmt.Sprintf("AUDIT_SINK must be %q or %q", AuditSinkFile, AuditSinkSQLite))
	}

	if c.NoteQuotaBytes < 0 {
		errs = append(errs, "NOTE_QUOTA_BYTES must not be negative (0 disables the quota)")
	}

	if (c.BootstrapAdminUsername == "") != (c.BootstrapAdminPassword == "") {
		errs = append(errs, "BOOTSTRAP_ADMIN_USERNAME and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}

	// Validate rate limit config
	if c.RateLimitConfig.UserRPS <= 0 {
		errs = append(errs, "RATE_LIMIT_USER_RPS must be positive")
	}
	if c.RateLimitConfig.UserBurst <= 0 {
		errs = append(errs, "RATE_LIMIT_USER_BURST must be positive")
	}
	if c.RateLimitConfig.AdminRPS <= 0 {
		errs = append(errs, "RATE_LIMIT_ADMIN_RPS must be positive")
	}
	if c.RateLimitConfig.AdminBurst <= 0 {
		errs = append(errs, "RATE_LIMIT_ADMIN_BURST must be positive")
	}
	if c.RateLimitConfig.CleanupInterval <= 0 {
		errs = append(errs, "RATE_LIMIT_CLEANUP_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateSecret(name, value string) []string {
	if value == "" {
		return nil
	}
	if !isHex(value) {
		return []string{name + " must be hex encoded"}
	}
	if len(value) < 64 {
		return []string{name + " must be at least 64 hex characters (32 bytes)"}
	}
	return nil
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

// IsProduction returns true if no local stand-ins are active.
func (c *Config) IsProduction() bool {
	return !c.NoS3
}

// PrintStartupSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "notevault server starting...")

	if c.NoS3 {
		fmt.Fprintf(os.Stderr, "  Storage: Local disk (--no-s3, dir: %s)\n", c.DataDir)
	} else {
		fmt.Fprintf(os.Stderr, "  Storage: S3 (endpoint: %s, bucket: %s)\n", c.AWSEndpointS3, c.AWSBucketName)
	}
	fmt.Fprintf(os.Stderr, "  Audit:   %s (dir: %s)\n", c.AuditSink, c.DataDir)
	fmt.Fprintf(os.Stderr, "  Hasher:  %s\n", c.PasswordHasher)

	if c.AccessTokenSecret != "" {
		fmt.Fprintln(os.Stderr, "  Tokens:  Secrets from ACCESS_TOKEN_SECRET / REFRESH_TOKEN_SECRET")
	} else {
		fmt.Fprintln(os.Stderr, "  Tokens:  Secrets derived from MASTER_KEY")
	}
	if c.BootstrapAdminUsername != "" {
		fmt.Fprintf(os.Stderr, "  Admin:   Bootstrap account %q\n", c.BootstrapAdminUsername)
	}
	if c.RestrictAdminRegistration {
		fmt.Fprintln(os.Stderr, "  Admin:   Registering admins requires an admin token")
	}

	fmt.Fprintf(os.Stderr, "  Listen:  %s (log level %s)\n", c.ListenAddr, c.LogLevel)
	fmt.Fprintln(os.Stderr, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// MustLoadConfig loads configuration and panics if validation fails.
// Use this in main() when you want the application to fail fast on bad config.
func MustLoadConfig(noS3 bool, addr string) *Config {
	cfg, err := LoadConfig(noS3, addr)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
