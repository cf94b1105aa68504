package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTokenTTL       = time.Hour
	DefaultBcryptCost     = 10
	DefaultMaxUploadBytes = 5 << 20
)

type Config struct {
	ServerAddr      string
	DatabaseURL     string
	JWTSecret       string
	TokenTTL        time.Duration
	BcryptCost      int
	RedisURL        string
	LogLevel        string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration

	// Object storage (S3 or MinIO) for profile pictures
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	S3UsePathStyle bool
	S3UseSSL       bool
	S3PublicURL    string
	MaxUploadBytes int64
}

// Load reads the configuration from the environment. Malformed values are
// reported by Validate rather than silently replaced.
func Load() (*Config, error) {
	var errs []error

	tokenTTL, err := time.ParseDuration(getEnvOrDefault("TOKEN_TTL", DefaultTokenTTL.String()))
	if err != nil {
		errs = append(errs, fmt.Errorf("TOKEN_TTL: %w", err))
	}

	shutdownTimeout, err := time.ParseDuration(getEnvOrDefault("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err))
	}

	bcryptCost, err := strconv.Atoi(getEnvOrDefault("BCRYPT_COST", strconv.Itoa(DefaultBcryptCost)))
	if err != nil {
		errs = append(errs, fmt.Errorf("BCRYPT_COST: %w", err))
	}

	maxUpload, err := strconv.ParseInt(getEnvOrDefault("MAX_UPLOAD_BYTES", strconv.Itoa(DefaultMaxUploadBytes)), 10, 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err))
	}

	usePathStyle, err := strconv.ParseBool(getEnvOrDefault("S3_USE_PATH_STYLE", "true"))
	if err != nil {
		errs = append(errs, fmt.Errorf("S3_USE_PATH_STYLE: %w", err))
	}

	useSSL, err := strconv.ParseBool(getEnvOrDefault("S3_USE_SSL", "false"))
	if err != nil {
		errs = append(errs, fmt.Errorf("S3_USE_SSL: %w", err))
	}

	cfg := &Config{
		ServerAddr:      serverAddr(),
		DatabaseURL:     getEnvOrDefault("DATABASE_URL", "postgres://localhost:5432/globalchat?sslmode=disable"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		TokenTTL:        tokenTTL,
		BcryptCost:      bcryptCost,
		RedisURL:        os.Getenv("REDIS_URL"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
		AllowedOrigins:  splitList(getEnvOrDefault("ALLOWED_ORIGINS", "*")),
		ShutdownTimeout: shutdownTimeout,
		S3Endpoint:      getEnvOrDefault("S3_ENDPOINT", "http://localhost:9000"),
		S3Region:        getEnvOrDefault("S3_REGION", "us-east-1"),
		S3AccessKey:     getEnvOrDefault("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:     getEnvOrDefault("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:        getEnvOrDefault("S3_BUCKET", "profile-pictures"),
		S3UsePathStyle:  usePathStyle,
		S3UseSSL:        useSSL,
		S3PublicURL:     os.Getenv("S3_PUBLIC_URL"),
		MaxUploadBytes:  maxUpload,
	}

	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}
	return cfg, cfg.Validate()
}

// Validate reports configuration the server cannot start with. A missing
// JWT secret is not one of them: protected routes answer 500 instead.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST %d out of range 4..31", c.BcryptCost))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// PublicObjectURL returns the URL clients use to fetch an uploaded object.
func (c *Config) PublicObjectURL(key string) string {
	base := c.S3PublicURL
	if base == "" {
		base = strings.TrimRight(c.S3Endpoint, "/") + "/" + c.S3Bucket
	}
	return strings.TrimRight(base, "/") + "/" + key
}

func serverAddr() string {
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		return addr
	}
	return ":" + getEnvOrDefault("PORT", "3000")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
