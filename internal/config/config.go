package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Environment string

	Server  ServerConfig
	Redis   RedisConfig
	Backend BackendConfig
	Session SessionConfig
	Toast   ToastConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// BackendConfig describes the remote SMS backend API.
type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	SenderEmail    string
}

// SessionConfig drives the idle/expiry timer. WarnBefore is measured back
// from the hard expiry, so the warning fires at IdleTimeout-WarnBefore.
type SessionConfig struct {
	IdleTimeout time.Duration
	WarnBefore  time.Duration
}

type ToastConfig struct {
	TTL time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment, with a best-effort
// .env load for local development.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("ENABLE_TLS", false),
			AutoCert:     getEnvBool("AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("TLS_CERT_FILE", ""),
			KeyFile:      getEnv("TLS_KEY_FILE", ""),
			AutoCertDir:  getEnv("AUTO_CERT_DIR", "./certs"),
			Email:        getEnv("TLS_CONTACT_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Backend: BackendConfig{
			BaseURL:        getEnv("BACKEND_BASE_URL", ""),
			RequestTimeout: getEnvDuration("BACKEND_REQUEST_TIMEOUT", 15*time.Second),
			SenderEmail:    getEnv("SENDER_EMAIL", ""),
		},
		Session: SessionConfig{
			IdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			WarnBefore:  getEnvDuration("SESSION_WARN_BEFORE", 5*time.Minute),
		},
		Toast: ToastConfig{
			TTL: getEnvDuration("TOAST_TTL", 4*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}
}

// GetServerAddress returns the plain-HTTP listen address.
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
