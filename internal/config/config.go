package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Booking  BookingConfig
	Pricing  PricingConfig
	Esewa    EsewaConfig
	Khalti   KhaltiConfig
	AMQP     AMQPConfig
	CORS     CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// AuthConfig holds bearer-token configuration. Only access tokens are
// verified here; session issuance lives in the identity service.
type AuthConfig struct {
	AccessSecret      string
	AccessTokenExpiry time.Duration
}

// BookingConfig holds reservation-hold configuration
type BookingConfig struct {
	HoldTTL   time.Duration // how long an unpaid pending booking holds its bike
	SweepSpec string        // cron spec (with seconds) for the expiration sweep
}

// PricingConfig holds pricing defaults
type PricingConfig struct {
	Currency string
}

// EsewaConfig holds the HMAC form gateway configuration
type EsewaConfig struct {
	ProductCode string
	SecretKey   string // HMAC key (SECRET - never expose to client)
	GatewayURL  string
	SuccessURL  string
	FailureURL  string
}

// KhaltiConfig holds the lookup-verified gateway configuration
type KhaltiConfig struct {
	BaseURL    string
	SecretKey  string
	ReturnURL  string
	WebsiteURL string
}

// AMQPConfig holds the notification broker configuration. An empty URL
// disables publishing.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
		},
		Auth: AuthConfig{
			AccessSecret:      getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
		},
		Booking: BookingConfig{
			HoldTTL:   time.Duration(getEnvAsInt("BOOKING_HOLD_TTL_SECONDS", 900)) * time.Second,
			SweepSpec: getEnv("BOOKING_SWEEP_SPEC", "*/30 * * * * *"),
		},
		Pricing: PricingConfig{
			Currency: getEnv("PRICING_CURRENCY", "NPR"),
		},
		Esewa: EsewaConfig{
			ProductCode: getEnv("ESEWA_PRODUCT_CODE", "EPAYTEST"),
			SecretKey:   getEnv("ESEWA_SECRET_KEY", ""),
			GatewayURL:  getEnv("ESEWA_GATEWAY_URL", "https://rc-epay.esewa.com.np/api/epay/main/v2/form"),
			SuccessURL:  getEnv("ESEWA_SUCCESS_URL", ""),
			FailureURL:  getEnv("ESEWA_FAILURE_URL", ""),
		},
		Khalti: KhaltiConfig{
			BaseURL:    getEnv("KHALTI_BASE_URL", "https://a.khalti.com/api/v2"),
			SecretKey:  getEnv("KHALTI_SECRET_KEY", ""),
			ReturnURL:  getEnv("KHALTI_RETURN_URL", ""),
			WebsiteURL: getEnv("KHALTI_WEBSITE_URL", ""),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "rental.events"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Booking.HoldTTL <= 0 {
		return fmt.Errorf("BOOKING_HOLD_TTL_SECONDS must be positive")
	}

	// Gateway credentials are required outside development so a misconfigured
	// deployment fails at startup, not on the first payment.
	if c.Server.Environment == "production" {
		if c.Esewa.SecretKey == "" {
			return fmt.Errorf("ESEWA_SECRET_KEY is required in production")
		}
		if c.Khalti.SecretKey == "" {
			return fmt.Errorf("KHALTI_SECRET_KEY is required in production")
		}
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
