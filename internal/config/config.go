package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Patient backend
	PatientAPIBaseURL    string
	PatientAPITimeout    time.Duration
	PatientAPIMaxRetries int
	PatientAPIRetryDelay time.Duration
	UnauthorizedOnAny4xx bool
	AppVersion           string
	DevicePlatform       string
	DeviceModel          string
	DeviceOSVersion      string
	ClinicTimezone       string

	// Redis; an empty address keeps every store in memory
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	GatewayJWTSecret   string
	GatewayTokenTTL    time.Duration
	BookingSessionTTL  time.Duration
	LocationsCacheTTL  time.Duration
	DocumentsCacheTTL  time.Duration
	OTPRateLimitRPS    float64
	OTPRateLimitBurst  int
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		PatientAPIBaseURL:    strings.TrimRight(getEnv("PATIENT_API_BASE_URL", "https://www.oncarecancer.com/mobile-app"), "/"),
		PatientAPITimeout:    getEnvAsDuration("PATIENT_API_TIMEOUT", 20*time.Second),
		PatientAPIMaxRetries: getEnvAsInt("PATIENT_API_MAX_RETRIES", 2),
		PatientAPIRetryDelay: getEnvAsDuration("PATIENT_API_RETRY_DELAY", 800*time.Millisecond),
		UnauthorizedOnAny4xx: getEnvAsBool("PATIENT_API_UNAUTHORIZED_ANY_4XX", true),
		AppVersion:           getEnv("APP_VERSION", "N/A"),
		DevicePlatform:       getEnv("DEVICE_PLATFORM", "server"),
		DeviceModel:          getEnv("DEVICE_MODEL", "unknown"),
		DeviceOSVersion:      getEnv("DEVICE_OS_VERSION", "unknown"),
		ClinicTimezone:       getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		GatewayJWTSecret:   getEnv("GATEWAY_JWT_SECRET", ""),
		GatewayTokenTTL:    getEnvAsDuration("GATEWAY_TOKEN_TTL", 24*time.Hour),
		BookingSessionTTL:  getEnvAsDuration("BOOKING_SESSION_TTL", 30*time.Minute),
		LocationsCacheTTL:  getEnvAsDuration("LOCATIONS_CACHE_TTL", time.Hour),
		DocumentsCacheTTL:  getEnvAsDuration("DOCUMENTS_CACHE_TTL", 5*time.Minute),
		OTPRateLimitRPS:    getEnvAsFloat("OTP_RATE_LIMIT_RPS", 1),
		OTPRateLimitBurst:  getEnvAsInt("OTP_RATE_LIMIT_BURST", 5),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
	}
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production") || strings.EqualFold(c.Env, "prod")
}

// ClinicLocation loads the clinic time zone used to bucket slots.
func (c *Config) ClinicLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("config: CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.PatientAPIBaseURL == "" {
		errs = append(errs, errors.New("PATIENT_API_BASE_URL is required"))
	}
	if c.PatientAPIMaxRetries < 0 {
		errs = append(errs, errors.New("PATIENT_API_MAX_RETRIES must not be negative"))
	}
	if c.IsProduction() && strings.TrimSpace(c.GatewayJWTSecret) == "" {
		errs = append(errs, errors.New("GATEWAY_JWT_SECRET is required in production"))
	}
	if c.OTPRateLimitRPS <= 0 {
		errs = append(errs, errors.New("OTP_RATE_LIMIT_RPS must be positive"))
	}
	if _, err := c.ClinicLocation(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
