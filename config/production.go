// Package config provides configuration management and environment variable handling for the application
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Security   SecurityConfig   `json:"security"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Engraving  EngravingConfig  `json:"engraving"`
	Vision     VisionConfig     `json:"vision"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

// DSN returns the postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type ServerConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	BodyLimit         int           `json:"body_limit"`
	EnableCompression bool          `json:"enable_compression"`
}

type SecurityConfig struct {
	// CORS
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers"`
	CORSMaxAge     int      `json:"cors_max_age"`

	// Rate Limiting
	GlobalRateLimit int           `json:"global_rate_limit"` // requests per window
	DecodeRateLimit int           `json:"decode_rate_limit"` // image decodes per window
	RateLimitWindow time.Duration `json:"rate_limit_window"`

	// API Security
	RequireAPIKey  bool     `json:"require_api_key"`
	APIKeyHeader   string   `json:"api_key_header"`
	AllowedAPIKeys []string `json:"allowed_api_keys"`
	IPBlacklist    []string `json:"ip_blacklist"`
}

type LoggingConfig struct {
	Level        string `json:"level"`  // debug, info, warn, error
	Format       string `json:"format"` // json, console
	Output       string `json:"output"` // stdout, file, both
	FilePath     string `json:"file_path"`
	MaxSize      int    `json:"max_size"` // MB
	MaxBackups   int    `json:"max_backups"`
	MaxAge       int    `json:"max_age"` // days
	Compress     bool   `json:"compress"`
	EnableCaller bool   `json:"enable_caller"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled       bool          `json:"enabled"`
	RedisURL      string        `json:"redis_url"`
	RedisDB       int           `json:"redis_db"`
	RedisPassword string        `json:"redis_password"`
	ConfigTTL     time.Duration `json:"config_ttl"`
	HealthEvery   time.Duration `json:"health_every"`
}

// EngravingConfig bounds batch packing and the serial counters
type EngravingConfig struct {
	ArrayCapacity            int           `json:"array_capacity"`
	CanvasWidth              float64       `json:"canvas_width"`  // mm
	CanvasHeight             float64       `json:"canvas_height"` // mm
	AllocationMaxRetries     int           `json:"allocation_max_retries"`
	AllocationInitialBackoff time.Duration `json:"allocation_initial_backoff"`
	AllocationMaxBackoff     time.Duration `json:"allocation_max_backoff"`
}

// VisionConfig points at an OpenAI-compatible chat endpoint that reads grids
// from photos. An empty APIKey disables image decoding.
type VisionConfig struct {
	APIURL       string        `json:"api_url"`
	APIKey       string        `json:"-"`
	Model        string        `json:"model"`
	Referer      string        `json:"referer"`
	Timeout      time.Duration `json:"timeout"`
	RetryCount   int           `json:"retry_count"`
	RetryWait    time.Duration `json:"retry_wait"`
	MaxImageEdge int           `json:"max_image_edge"`
	MaxUpload    int           `json:"max_upload"` // bytes
}

// Enabled reports whether image decoding can be offered
func (v VisionConfig) Enabled() bool { return v.APIKey != "" && v.APIURL != "" }

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "kusanagi"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:              getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:       getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:      getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:       getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout:   getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RequestTimeout:    getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			BodyLimit:         getEnvInt("SERVER_BODY_LIMIT", 16*1024*1024), // 16MB, photos included
			EnableCompression: getEnvBool("SERVER_ENABLE_COMPRESSION", true),
		},
		Security: SecurityConfig{
			AllowedOrigins:  getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:  getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "OPTIONS"}),
			AllowedHeaders:  getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "X-Request-ID", "X-API-Key"}),
			CORSMaxAge:      getEnvInt("CORS_MAX_AGE", 86400),
			GlobalRateLimit: getEnvInt("GLOBAL_RATE_LIMIT", 2000),
			DecodeRateLimit: getEnvInt("DECODE_RATE_LIMIT", 60),
			RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", 1*time.Minute),
			RequireAPIKey:   getEnvBool("REQUIRE_API_KEY", false),
			APIKeyHeader:    getEnvString("API_KEY_HEADER", "X-API-Key"),
			AllowedAPIKeys:  getEnvStringSlice("ALLOWED_API_KEYS", []string{}),
			IPBlacklist:     getEnvStringSlice("IP_BLACKLIST", []string{}),
		},
		Logging: LoggingConfig{
			Level:        getEnvString("LOG_LEVEL", "info"),
			Format:       getEnvString("LOG_FORMAT", "json"),
			Output:       getEnvString("LOG_OUTPUT", "stdout"),
			FilePath:     getEnvString("LOG_FILE_PATH", "/var/log/kusanagi/app.log"),
			MaxSize:      getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:   getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:       getEnvInt("LOG_MAX_AGE", 30),
			Compress:     getEnvBool("LOG_COMPRESS", true),
			EnableCaller: getEnvBool("LOG_ENABLE_CALLER", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:       getEnvBool("CACHE_ENABLED", true),
			RedisURL:      getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:       getEnvInt("CACHE_REDIS_DB", 0),
			RedisPassword: getEnvString("REDIS_PASSWORD", ""),
			ConfigTTL:     getEnvDuration("CACHE_CONFIG_TTL", 10*time.Minute),
			HealthEvery:   getEnvDuration("CACHE_HEALTH_INTERVAL", 30*time.Second),
		},
		Engraving: loadEngravingConfig(),
		Vision:    loadVisionConfig(),
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadEngravingConfig() EngravingConfig {
	return EngravingConfig{
		ArrayCapacity:            getEnvInt("ENGRAVING_ARRAY_CAPACITY", 8),
		CanvasWidth:              getEnvFloat("ENGRAVING_CANVAS_WIDTH", 210),
		CanvasHeight:             getEnvFloat("ENGRAVING_CANVAS_HEIGHT", 210),
		AllocationMaxRetries:     getEnvInt("ENGRAVING_ALLOCATION_MAX_RETRIES", 10),
		AllocationInitialBackoff: getEnvDuration("ENGRAVING_ALLOCATION_INITIAL_BACKOFF", 10*time.Millisecond),
		AllocationMaxBackoff:     getEnvDuration("ENGRAVING_ALLOCATION_MAX_BACKOFF", 500*time.Millisecond),
	}
}

func loadVisionConfig() VisionConfig {
	return VisionConfig{
		APIURL:       getEnvString("VISION_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
		APIKey:       getEnvString("VISION_API_KEY", ""),
		Model:        getEnvString("VISION_MODEL", "google/gemini-2.5-flash"),
		Referer:      getEnvString("VISION_REFERER", "https://kusanagi.local"),
		Timeout:      getEnvDuration("VISION_TIMEOUT", 60*time.Second),
		RetryCount:   getEnvInt("VISION_RETRY_COUNT", 2),
		RetryWait:    getEnvDuration("VISION_RETRY_WAIT", 2*time.Second),
		MaxImageEdge: getEnvInt("VISION_MAX_IMAGE_EDGE", 1024),
		MaxUpload:    getEnvInt("VISION_MAX_UPLOAD", 10*1024*1024),
	}
}

// LoadVisionConfig reads only the vision section, for tools that never touch
// the database
func LoadVisionConfig() (VisionConfig, error) {
	if err := loadEnvFile(); err != nil {
		return VisionConfig{}, fmt.Errorf("failed to load .env file: %w", err)
	}
	v := loadVisionConfig()
	if errs := validateVision(v); len(errs) > 0 {
		return VisionConfig{}, fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return v, nil
}

// loadEnvFile loads environment variables from .env file if it exists
func loadEnvFile() error {
	envFile := ".env"

	// Check if .env file exists
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		// .env file doesn't exist, continue with environment variables
		return nil
	}

	// Open .env file
	file, err := os.Open(envFile)
	if err != nil {
		return fmt.Errorf("failed to open .env file: %w", err)
	}
	defer file.Close()

	// Read file line by line
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key=value pairs
		if strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				key := strings.TrimSpace(parts[0])
				value := strings.TrimSpace(parts[1])

				// Remove quotes if present
				if (strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`)) ||
					(strings.HasPrefix(value, `'`) && strings.HasSuffix(value, `'`)) {
					value = value[1 : len(value)-1]
				}

				// Set environment variable if not already set
				if os.Getenv(key) == "" {
					os.Setenv(key, value)
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
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

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		// Use standard library strings.Split and strings.TrimSpace
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration and reports
// every problem at once
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errs []error

	// Validate database configuration
	if cfg.Database.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errs = append(errs, errors.New("DB_PORT must be between 1 and 65535"))
	}
	if cfg.Database.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if cfg.Database.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if cfg.Database.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required"))
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, errors.New("SERVER_PORT must be between 1 and 65535"))
	}
	if cfg.Server.ReadTimeout <= 0 || cfg.Server.WriteTimeout <= 0 || cfg.Server.IdleTimeout <= 0 {
		errs = append(errs, errors.New("SERVER_READ_TIMEOUT, SERVER_WRITE_TIMEOUT and SERVER_IDLE_TIMEOUT must be positive"))
	}
	if cfg.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("SERVER_REQUEST_TIMEOUT must be positive"))
	}

	if cfg.Security.RequireAPIKey && len(cfg.Security.AllowedAPIKeys) == 0 {
		errs = append(errs, errors.New("ALLOWED_API_KEYS is required when REQUIRE_API_KEY is set"))
	}

	// Validate logging configuration
	validLevels := []string{"debug", "info", "warn", "error"}
	if cfg.Logging.Level != "" && !slices.Contains(validLevels, cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of: %v", validLevels))
	}
	validOutputs := []string{"stdout", "file", "both"}
	if !slices.Contains(validOutputs, cfg.Logging.Output) {
		errs = append(errs, fmt.Errorf("LOG_OUTPUT must be one of: %v", validOutputs))
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.FilePath == "" {
		errs = append(errs, errors.New("LOG_FILE_PATH is required when logging to a file"))
	}

	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		errs = append(errs, errors.New("CACHE_REDIS_URL is required when cache is enabled"))
	}

	// Validate engraving configuration
	if cfg.Engraving.ArrayCapacity < 1 {
		errs = append(errs, errors.New("ENGRAVING_ARRAY_CAPACITY must be at least 1"))
	}
	if cfg.Engraving.CanvasWidth <= 0 || cfg.Engraving.CanvasHeight <= 0 {
		errs = append(errs, errors.New("ENGRAVING_CANVAS_WIDTH and ENGRAVING_CANVAS_HEIGHT must be positive"))
	}
	if cfg.Engraving.AllocationMaxRetries < 1 {
		errs = append(errs, errors.New("ENGRAVING_ALLOCATION_MAX_RETRIES must be at least 1"))
	}
	if cfg.Engraving.AllocationInitialBackoff <= 0 || cfg.Engraving.AllocationMaxBackoff < cfg.Engraving.AllocationInitialBackoff {
		errs = append(errs, errors.New("ENGRAVING_ALLOCATION_MAX_BACKOFF must be at least ENGRAVING_ALLOCATION_INITIAL_BACKOFF, which must be positive"))
	}

	errs = append(errs, validateVision(cfg.Vision)...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// validateVision only checks the bounds; a missing key just disables decoding
func validateVision(v VisionConfig) []error {
	var errs []error
	if v.Timeout <= 0 {
		errs = append(errs, errors.New("VISION_TIMEOUT must be positive"))
	}
	if v.RetryCount < 0 {
		errs = append(errs, errors.New("VISION_RETRY_COUNT must not be negative"))
	}
	if v.MaxImageEdge < 64 {
		errs = append(errs, errors.New("VISION_MAX_IMAGE_EDGE must be at least 64"))
	}
	if v.MaxUpload <= 0 {
		errs = append(errs, errors.New("VISION_MAX_UPLOAD must be positive"))
	}
	if v.APIKey != "" && v.Model == "" {
		errs = append(errs, errors.New("VISION_MODEL is required when VISION_API_KEY is set"))
	}
	return errs
}
