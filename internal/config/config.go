package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StorageType controls the relay's storage backend.
type StorageType string

const (
	StorageSQLite StorageType = "sqlite"
	StorageMemory StorageType = "memory"
)

// Config contains all runtime configuration for the results relay.
type Config struct {
	// Core
	ListenAddr string
	BasePath   string
	LogLevel   string

	// Storage
	Storage        StorageType
	StoragePath    string
	StorageMaxRows int
	DataExpiry     time.Duration
	SeedFile       string

	// HTTP
	RateLimitRPS        float64
	RateLimitBurst      int
	RateLimitIdleTTL    time.Duration
	TrustProxyHeaders   bool
	CORSAllowOrigin     string
	RequestBodyMaxBytes int64
	StreamBuffer        int

	// MaxStackFrames trims service call stacks in served payloads; 0 keeps all.
	MaxStackFrames int

	// Resources
	HTMLIDPrefix       string
	ResourceCacheHours int
}

// WidgetConfig configures a headless widget session.
type WidgetConfig struct {
	BaseURL      string
	FetchTimeout time.Duration
	HTMLIDPrefix string
	LogLevel     string
}

var prefixPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Load reads an optional .env file, parses env vars and returns a validated
// Config. Variables already set in the environment win over the file.
func Load() (Config, error) {
	loadDotEnv()

	cfg := Config{
		// Core
		ListenAddr: getEnvString("LISTEN_ADDR", ":8088"),
		BasePath:   normalizeBasePath(getEnvString("BASE_PATH", "/gae_mini_profile/")),
		LogLevel:   getEnvString("LOG_LEVEL", "info"),

		// Storage
		Storage:        StorageType(getEnvString("STORAGE", string(StorageMemory))),
		StoragePath:    getEnvString("STORAGE_PATH", "/data/mini-profiler.sqlite"),
		StorageMaxRows: getEnvInt("STORAGE_MAX_ROWS", 5000),
		DataExpiry:     getEnvDuration("DATA_EXPIRY", 30*time.Second),
		SeedFile:       getEnvString("SEED_FILE", ""),

		// HTTP
		RateLimitRPS:        getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 40),
		RateLimitIdleTTL:    getEnvDuration("RATE_LIMIT_IDLE_TTL", 10*time.Minute),
		TrustProxyHeaders:   getEnvBool("TRUST_PROXY_HEADERS", false),
		CORSAllowOrigin:     getEnvString("CORS_ALLOW_ORIGIN", "*"),
		RequestBodyMaxBytes: getEnvInt64("REQUEST_BODY_MAX_BYTES", 4*1024*1024),
		StreamBuffer:        getEnvInt("STREAM_BUFFER", 64),

		MaxStackFrames: getEnvInt("MAX_STACK_FRAMES", 0),

		// Resources
		HTMLIDPrefix:       getEnvString("HTML_ID_PREFIX", "mp"),
		ResourceCacheHours: getEnvInt("RESOURCE_CACHE_HOURS", 0),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration constraints.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageSQLite, StorageMemory:
		// ok
	default:
		return fmt.Errorf("invalid STORAGE: %q (must be sqlite|memory)", c.Storage)
	}
	if c.Storage == StorageSQLite && strings.TrimSpace(c.StoragePath) == "" {
		return fmt.Errorf("STORAGE_PATH is required for sqlite storage")
	}
	if c.StorageMaxRows < 100 {
		return fmt.Errorf("STORAGE_MAX_ROWS must be >= 100")
	}
	if c.DataExpiry <= 0 {
		return fmt.Errorf("DATA_EXPIRY must be > 0")
	}

	if !strings.HasPrefix(c.BasePath, "/") || !strings.HasSuffix(c.BasePath, "/") {
		return fmt.Errorf("BASE_PATH must start and end with '/': %q", c.BasePath)
	}

	// Rate limiting is disabled at 0.
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 1 when rate limiting is enabled")
	}
	if c.RateLimitRPS > 0 && c.RateLimitIdleTTL <= 0 {
		return fmt.Errorf("RATE_LIMIT_IDLE_TTL must be > 0 when rate limiting is enabled")
	}
	if c.RequestBodyMaxBytes <= 0 {
		return fmt.Errorf("REQUEST_BODY_MAX_BYTES must be > 0")
	}
	if c.StreamBuffer < 1 {
		return fmt.Errorf("STREAM_BUFFER must be >= 1")
	}

	if c.MaxStackFrames < 0 {
		return fmt.Errorf("MAX_STACK_FRAMES must be >= 0")
	}

	if !prefixPattern.MatchString(c.HTMLIDPrefix) {
		return fmt.Errorf("invalid HTML_ID_PREFIX: %q", c.HTMLIDPrefix)
	}
	if c.ResourceCacheHours < 0 {
		return fmt.Errorf("RESOURCE_CACHE_HOURS must be >= 0")
	}
	return nil
}

// LoadWidget reads the settings for a widget session.
func LoadWidget() (WidgetConfig, error) {
	loadDotEnv()

	cfg := WidgetConfig{
		BaseURL:      getEnvString("BASE_URL", "http://127.0.0.1:8088/gae_mini_profile/"),
		FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
		HTMLIDPrefix: getEnvString("HTML_ID_PREFIX", "mp"),
		LogLevel:     getEnvString("LOG_LEVEL", "warn"),
	}
	if err := cfg.Validate(); err != nil {
		return WidgetConfig{}, err
	}
	return cfg, nil
}

// Validate checks configuration constraints.
func (c WidgetConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("BASE_URL is required")
	}
	if !strings.HasSuffix(c.BaseURL, "/") {
		return fmt.Errorf("BASE_URL must end with '/': %q", c.BaseURL)
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be > 0")
	}
	if !prefixPattern.MatchString(c.HTMLIDPrefix) {
		return fmt.Errorf("invalid HTML_ID_PREFIX: %q", c.HTMLIDPrefix)
	}
	return nil
}

// loadDotEnv loads ENV_FILE (default .env) when present.
func loadDotEnv() {
	path := getEnvString("ENV_FILE", ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// Helper functions for parsing environment variables

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}
