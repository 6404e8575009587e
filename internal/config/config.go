package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort      string
	ServiceName      string
	DownloadsDir     string
	MessageTimeDelay time.Duration
	ChunkSizeKB      int

	// Logging configuration
	LogLevel  string
	LogFormat string

	// Redis configuration (progress channel)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	ChannelPrefix string

	// MinIO configuration (optional mirror)
	MirrorEnabled   bool
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool

	// TiDB configuration (optional upload ledger)
	LedgerEnabled bool
	TiDBHost      string
	TiDBPort      string
	TiDBUser      string
	TiDBPassword  string
	TiDBDatabase  string

	// Tracing configuration
	TracingEnabled bool
	JaegerEndpoint string
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		// Service defaults
		ServicePort:      getEnv("SERVICE_PORT", "3000"),
		ServiceName:      getEnv("SERVICE_NAME", "dropstream"),
		DownloadsDir:     getEnv("DOWNLOADS_DIR", "./downloads"),
		MessageTimeDelay: getEnvAsDuration("MESSAGE_TIME_DELAY_MS", 300*time.Millisecond),
		ChunkSizeKB:      getEnvAsInt("CHUNK_SIZE_KB", 64),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		// Redis defaults
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		ChannelPrefix: getEnv("PROGRESS_CHANNEL_PREFIX", "dropstream:progress"),

		// MinIO defaults
		MirrorEnabled:   getEnvAsBool("MIRROR_ENABLED", false),
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "dropstream"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),

		// TiDB defaults
		LedgerEnabled: getEnvAsBool("LEDGER_ENABLED", false),
		TiDBHost:      getEnv("TIDB_HOST", "localhost"),
		TiDBPort:      getEnv("TIDB_PORT", "4000"),
		TiDBUser:      getEnv("TIDB_USER", "root"),
		TiDBPassword:  getEnv("TIDB_PASSWORD", ""),
		TiDBDatabase:  getEnv("TIDB_DATABASE", "dropstream"),

		// Tracing defaults
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", false),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "localhost:4318"),
	}

	dir, err := filepath.Abs(config.DownloadsDir)
	if err != nil {
		return nil, fmt.Errorf("invalid DOWNLOADS_DIR: %w", err)
	}
	config.DownloadsDir = dir

	if config.ChunkSizeKB <= 0 {
		return nil, fmt.Errorf("CHUNK_SIZE_KB must be positive, got %d", config.ChunkSizeKB)
	}

	return config, nil
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetChunkSizeBytes returns chunk size in bytes
func (c *Config) GetChunkSizeBytes() int64 {
	return int64(c.ChunkSizeKB) * 1024
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration reads a whole number of milliseconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil && value >= 0 {
		return time.Duration(value) * time.Millisecond
	}
	return defaultValue
}
