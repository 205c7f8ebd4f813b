package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host               string
	Port               string
	LogLevel           string
	RequestTimeout     time.Duration
	ImageFetchTimeout  time.Duration
	DetectionTimeout   time.Duration
	AnalysisTimeout    time.Duration
	EmbeddingTimeout   time.Duration
	MaxRequestBodySize int64

	// Capture sources
	AllowedImageHosts []string
	AzureAccountName  string
	AzureAccountKey   string

	// Text detection
	OCRLanguages        []string
	OCRLevel            string
	RedisURL            string
	ObservationCacheTTL time.Duration

	// AI analysis backend
	AnalysisURL    string
	AnalysisAPIKey string

	// Embedding indexing, disabled when EmbeddingURL or QdrantAddress is empty
	EmbeddingURL        string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbeddingDimensions int64
	QdrantAddress       string
	QdrantCollection    string

	// Presentation sessions
	TouchPadding   float64
	MaxSessions    int64
	SessionIdleTTL time.Duration
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// IndexingEnabled reports whether both the embedding backend and the vector store are configured
func (c *Config) IndexingEnabled() bool {
	return c.EmbeddingURL != "" && c.QdrantAddress != ""
}

// LoadFromEnv reads configuration from the environment, loading a .env file first when present
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		ImageFetchTimeout:  parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", 15*time.Second),
		DetectionTimeout:   parseDurationOrDefault("DETECTION_TIMEOUT", 20*time.Second),
		AnalysisTimeout:    parseDurationOrDefault("ANALYSIS_TIMEOUT", 45*time.Second),
		EmbeddingTimeout:   parseDurationOrDefault("EMBEDDING_TIMEOUT", 15*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 10*1024*1024), // 10MB

		AllowedImageHosts: parseListOrDefault("ALLOWED_IMAGE_HOSTS", nil),
		AzureAccountName:  os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureAccountKey:   os.Getenv("AZURE_STORAGE_KEY"),

		OCRLanguages:        parseListOrDefault("OCR_LANGUAGES", []string{"eng"}),
		OCRLevel:            getEnvOrDefault("OCR_LEVEL", "line"),
		RedisURL:            os.Getenv("REDIS_URL"),
		ObservationCacheTTL: parseDurationOrDefault("OBSERVATION_CACHE_TTL", time.Hour),

		AnalysisURL:    getEnvOrDefault("ANALYSIS_URL", "http://localhost:9000/analyze"),
		AnalysisAPIKey: os.Getenv("ANALYSIS_API_KEY"),

		EmbeddingURL:        os.Getenv("EMBEDDING_URL"),
		EmbeddingAPIKey:     os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:      getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: parseIntOrDefault("EMBEDDING_DIMENSIONS", 1536),
		QdrantAddress:       os.Getenv("QDRANT_ADDRESS"),
		QdrantCollection:    getEnvOrDefault("QDRANT_COLLECTION", "menu_items"),

		TouchPadding:   parseFloatOrDefault("TOUCH_PADDING", 8),
		MaxSessions:    parseIntOrDefault("MAX_SESSIONS", 1000),
		SessionIdleTTL: parseDurationOrDefault("SESSION_IDLE_TTL", 30*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded values for consistency
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.ImageFetchTimeout <= 0 || c.DetectionTimeout <= 0 ||
		c.AnalysisTimeout <= 0 || c.EmbeddingTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s, detection=%s, analysis=%s, embedding=%s)",
			c.RequestTimeout, c.ImageFetchTimeout, c.DetectionTimeout, c.AnalysisTimeout, c.EmbeddingTimeout)
	}
	if c.OCRLevel != "line" && c.OCRLevel != "word" {
		return fmt.Errorf("OCR_LEVEL must be line or word (got %q)", c.OCRLevel)
	}
	if strings.TrimSpace(c.AnalysisURL) == "" {
		return fmt.Errorf("ANALYSIS_URL is required")
	}
	if c.IndexingEnabled() && c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be > 0 (got %d)", c.EmbeddingDimensions)
	}
	if (c.AzureAccountName == "") != (c.AzureAccountKey == "") {
		return fmt.Errorf("AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY must be set together")
	}
	if c.TouchPadding < 0 {
		return fmt.Errorf("TOUCH_PADDING must be >= 0 (got %g)", c.TouchPadding)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be > 0 (got %d)", c.MaxSessions)
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0 (got %s)", c.SessionIdleTTL)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
