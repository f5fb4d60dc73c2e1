package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Session  SessionConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port         string
	Environment  string
	LogLevel     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// Prefix namespaces every key the service writes
	Prefix string
}

type SigningKey struct {
	ID     string
	Secret string
}

type JWTConfig struct {
	Secret string
	KeyID  string
	// PreviousKeys still verify tokens signed before the last rotation
	PreviousKeys []SigningKey
	Issuer       string
}

type SessionConfig struct {
	TokenTTL     time.Duration
	Grace        time.Duration
	StoreTimeout time.Duration
	// TokenName is both the header and the query parameter carrying the token
	TokenName string
}

type AuthConfig struct {
	MaxFailedLogins int
	LockDuration    time.Duration
	// Argon2id cost for new password hashes; memory in KiB
	HashMemory      int
	HashIterations  int
	HashParallelism int
}

func Load() (*Config, error) {
	// .env is optional outside development
	_ = godotenv.Load()

	previous, err := parseSigningKeys(os.Getenv("JWT_PREVIOUS_KEYS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			LogLevel:     getEnv("LOG_LEVEL", "info"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			CORSOrigins:  getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "opsli"),
			Password: getEnv("DB_PASSWORD", "opsli"),
			DBName:   getEnv("DB_NAME", "opsli"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			Prefix:   getEnv("KV_PREFIX", "opsli:"),
		},
		JWT: JWTConfig{
			Secret:       getEnv("JWT_SECRET", ""),
			KeyID:        getEnv("JWT_KEY_ID", "default"),
			PreviousKeys: previous,
			Issuer:       getEnv("JWT_ISSUER", "opsli-boot"),
		},
		Session: SessionConfig{
			TokenTTL:     getDurationEnv("SESSION_TOKEN_TTL", time.Hour),
			Grace:        getDurationEnv("SESSION_GRACE", 20*time.Minute),
			StoreTimeout: getDurationEnv("SESSION_STORE_TIMEOUT", 3*time.Second),
			TokenName:    getEnv("SESSION_TOKEN_NAME", "token"),
		},
		Auth: AuthConfig{
			MaxFailedLogins: getIntEnv("AUTH_MAX_FAILED_LOGINS", 5),
			LockDuration:    getDurationEnv("AUTH_LOCK_DURATION", 15*time.Minute),
			HashMemory:      getIntEnv("AUTH_HASH_MEMORY_KIB", 64*1024),
			HashIterations:  getIntEnv("AUTH_HASH_ITERATIONS", 3),
			HashParallelism: getIntEnv("AUTH_HASH_PARALLELISM", 2),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Session.TokenTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TOKEN_TTL must be positive"))
	}
	if c.Session.Grace < 0 {
		errs = append(errs, errors.New("SESSION_GRACE must not be negative"))
	}
	if c.Session.TokenName == "" {
		errs = append(errs, errors.New("SESSION_TOKEN_NAME is required"))
	}
	if c.Auth.HashMemory <= 0 || c.Auth.HashIterations <= 0 || c.Auth.HashParallelism <= 0 || c.Auth.HashParallelism > 255 {
		errs = append(errs, errors.New("AUTH_HASH_* settings must be positive, parallelism at most 255"))
	}
	for _, k := range c.JWT.PreviousKeys {
		if k.ID == c.JWT.KeyID {
			errs = append(errs, fmt.Errorf("JWT_PREVIOUS_KEYS reuses active key id %q", k.ID))
		}
	}
	return errors.Join(errs...)
}

func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// parseSigningKeys reads "kid:secret,kid:secret"
func parseSigningKeys(value string) ([]SigningKey, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	var keys []SigningKey
	for _, pair := range strings.Split(value, ",") {
		id, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("invalid JWT_PREVIOUS_KEYS entry %q, expected kid:secret", pair)
		}
		keys = append(keys, SigningKey{ID: id, Secret: secret})
	}
	return keys, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
