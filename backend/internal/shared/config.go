// ============================================================================
// backend/internal/shared/config.go
// Process configuration and environment variable helpers
// ============================================================================

package shared

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// ============================================================================
// Configuration Structs
// ============================================================================

// ServiceConfig holds the configuration of the API process
type ServiceConfig struct {
	ServiceName string
	HTTPPort    string
	GRPCPort    string // gRPC health endpoint
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error

	// StoreBackend selects the persistence layer: "mongo" or "memory"
	StoreBackend string

	RequestTimeout time.Duration

	MongoDB  MongoConfig
	Security SecurityConfig
	CORS     CORSConfig
	Policy   PolicyConfig
	Events   EventsConfig
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	JWTSecret          string
	JWTIssuer          string
	JWTExpirationHours int
	BCryptCost         int // BCrypt hashing cost (10-12 recommended)
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int // in seconds
}

// PolicyConfig holds authorization knobs that differ between deployments
type PolicyConfig struct {
	// RankingAccess is one of "admin", "authenticated", "public"
	RankingAccess string
}

// EventsConfig tunes event-day writes
type EventsConfig struct {
	MaxWriteRetries int
}

// Store backends
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Ranking access modes
const (
	RankingAccessAdmin         = "admin"
	RankingAccessAuthenticated = "authenticated"
	RankingAccessPublic        = "public"
)

// ============================================================================
// Configuration Loading Functions
// ============================================================================

// LoadEnv loads environment variables from .env file
func LoadEnv(envFile string) error {
	if envFile == "" {
		envFile = ".env"
	}

	if err := godotenv.Load(envFile); err != nil {
		zap.S().Warnf("%s file not found, using system environment variables", envFile)
		return err
	}

	zap.S().Infof("Loaded environment from %s", envFile)
	return nil
}

// LoadServiceConfig loads the process configuration from environment
func LoadServiceConfig(serviceName string) (*ServiceConfig, error) {
	config := &ServiceConfig{
		ServiceName:    serviceName,
		HTTPPort:       GetEnv("HTTP_PORT", DefaultHTTPPort),
		GRPCPort:       GetEnv("GRPC_PORT", DefaultGRPCPort),
		Environment:    GetEnv("ENVIRONMENT", "development"),
		LogLevel:       GetEnv("LOG_LEVEL", "info"),
		StoreBackend:   strings.ToLower(GetEnv("STORE_BACKEND", StoreMongo)),
		RequestTimeout: GetDurationEnv("REQUEST_TIMEOUT", 60*time.Second),
	}

	config.MongoDB = MongoConfig{
		URI:             GetEnv("MONGO_URI", ""),
		Database:        GetEnv("MONGO_DB_NAME", "school_points"),
		ConnectTimeout:  GetDurationEnv("MONGO_CONNECT_TIMEOUT", 20*time.Second),
		QueryTimeout:    GetDurationEnv("MONGO_QUERY_TIMEOUT", 10*time.Second),
		MaxPoolSize:     uint64(GetIntEnv("MONGO_MAX_POOL_SIZE", 50)),
		MinPoolSize:     uint64(GetIntEnv("MONGO_MIN_POOL_SIZE", 5)),
		MaxIdleTime:     GetDurationEnv("MONGO_MAX_IDLE_TIME", 30*time.Second),
		UseTransactions: GetBoolEnv("MONGO_USE_TRANSACTIONS", false),
	}

	config.Security = SecurityConfig{
		JWTSecret:          GetEnv("JWT_SECRET", ""),
		JWTIssuer:          GetEnv("JWT_ISSUER", "school-points"),
		JWTExpirationHours: GetIntEnv("JWT_EXPIRATION_HOURS", 24),
		BCryptCost:         GetIntEnv("BCRYPT_COST", 10),
	}

	config.CORS = CORSConfig{
		AllowedOrigins:   GetStringSliceEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		AllowedMethods:   GetStringSliceEnv("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		AllowedHeaders:   GetStringSliceEnv("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type"}),
		AllowCredentials: GetBoolEnv("CORS_ALLOW_CREDENTIALS", true),
		MaxAge:           GetIntEnv("CORS_MAX_AGE", 300),
	}

	config.Policy = PolicyConfig{
		RankingAccess: strings.ToLower(GetEnv("RANKING_ACCESS", RankingAccessAdmin)),
	}

	config.Events = EventsConfig{
		MaxWriteRetries: GetIntEnv("EVENT_MAX_WRITE_RETRIES", 5),
	}

	if err := ValidateServiceConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ============================================================================
// Environment Variable Helper Functions
// ============================================================================

// GetEnv retrieves an environment variable or returns a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetIntEnv retrieves an integer environment variable or returns a default value
func GetIntEnv(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		zap.S().Warnf("Invalid integer value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

// GetBoolEnv retrieves a boolean environment variable or returns a default value
func GetBoolEnv(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		zap.S().Warnf("Invalid boolean value for %s: %s, using default: %t", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

// GetDurationEnv retrieves a duration environment variable or returns a default value
// Supports format like "30s", "5m", "1h"
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		zap.S().Warnf("Invalid duration value for %s: %s, using default: %v", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

// GetStringSliceEnv retrieves a comma-separated string list or returns a default value
func GetStringSliceEnv(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var result []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}

// ============================================================================
// Configuration Validation
// ============================================================================

// ValidateServiceConfig validates service configuration
func ValidateServiceConfig(config *ServiceConfig) error {
	if config.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if config.HTTPPort == "" {
		return fmt.Errorf("HTTP port is required")
	}

	switch config.StoreBackend {
	case StoreMongo:
		if config.MongoDB.URI == "" {
			return fmt.Errorf("MONGO_URI environment variable is required")
		}
		if config.MongoDB.Database == "" {
			return fmt.Errorf("MongoDB database name is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", config.StoreBackend)
	}

	if config.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	switch config.Policy.RankingAccess {
	case RankingAccessAdmin, RankingAccessAuthenticated, RankingAccessPublic:
	default:
		return fmt.Errorf("unknown RANKING_ACCESS %q", config.Policy.RankingAccess)
	}

	if config.Events.MaxWriteRetries < 1 {
		return fmt.Errorf("EVENT_MAX_WRITE_RETRIES must be at least 1")
	}

	return nil
}

// ============================================================================
// Configuration Display (for debugging)
// ============================================================================

// LogConfig logs the configuration without secrets
func LogConfig(logger *zap.Logger, config *ServiceConfig) {
	logger.Info("service configuration",
		zap.String("service", config.ServiceName),
		zap.String("http_port", config.HTTPPort),
		zap.String("grpc_port", config.GRPCPort),
		zap.String("environment", config.Environment),
		zap.String("log_level", config.LogLevel),
		zap.String("store", config.StoreBackend),
		zap.String("mongo_db", config.MongoDB.Database),
		zap.Uint64("mongo_max_pool", config.MongoDB.MaxPoolSize),
		zap.Bool("mongo_transactions", config.MongoDB.UseTransactions),
		zap.Int("jwt_expiration_hours", config.Security.JWTExpirationHours),
		zap.Int("bcrypt_cost", config.Security.BCryptCost),
		zap.Strings("cors_origins", config.CORS.AllowedOrigins),
		zap.String("ranking_access", config.Policy.RankingAccess),
		zap.Int("event_write_retries", config.Events.MaxWriteRetries),
	)
}

// ============================================================================
// Default Ports
// ============================================================================

const (
	DefaultHTTPPort = "8080"
	DefaultGRPCPort = "50051"
)
