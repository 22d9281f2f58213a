package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// AppName is used for the default cache directory
const AppName = "image-classifier"

type Config struct {
	Host               string        `yaml:"host"`
	Port               string        `yaml:"port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ImageFetchTimeout  time.Duration `yaml:"image_fetch_timeout"`
	AnalysisTimeout    time.Duration `yaml:"analysis_timeout"`
	ModelLoadTimeout   time.Duration `yaml:"model_load_timeout"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`
	MaxImageBytes      int64         `yaml:"max_image_bytes"`
	ImageHostAllowlist []string      `yaml:"image_host_allowlist"`
	BlockPrivateHosts  bool          `yaml:"block_private_hosts"`

	ModelID         string `yaml:"model_id"`
	Quantized       bool   `yaml:"model_quantized"`
	ModelHubURL     string `yaml:"model_hub_url"`
	ModelCacheDir   string `yaml:"model_cache_dir"`
	ONNXLibraryPath string `yaml:"onnxruntime_shared_library_path"`
	TopK            int    `yaml:"top_k"`
	WarmupModel     bool   `yaml:"warmup_model"`

	Workers          int           `yaml:"workers"`
	QueueSize        int           `yaml:"queue_size"`
	AnalyzeRateLimit float64       `yaml:"analyze_rate_limit"`
	AnalyzeBurst     int           `yaml:"analyze_burst"`
	SessionTTL       time.Duration `yaml:"session_ttl"`

	AzureAccountName string `yaml:"azure_storage_account"`
	AzureAccountKey  string `yaml:"azure_storage_key"`
	SentryDSN        string `yaml:"sentry_dsn"`
	LogLevel         string `yaml:"log_level"`
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// AzureEnabled reports whether blob image references can be resolved
func (c *Config) AzureEnabled() bool {
	return c.AzureAccountName != "" && c.AzureAccountKey != ""
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               "8080",
		RequestTimeout:     30 * time.Second,
		ImageFetchTimeout:  15 * time.Second,
		AnalysisTimeout:    60 * time.Second,
		ModelLoadTimeout:   10 * time.Minute,
		MaxRequestBodySize: 10 * 1024 * 1024, // 10MB
		MaxImageBytes:      20 * 1024 * 1024,
		ModelID:            "Xenova/vit-base-patch16-224",
		Quantized:          false,
		ModelHubURL:        "https://huggingface.co",
		ModelCacheDir:      filepath.Join(xdg.CacheHome, AppName, "models"),
		TopK:               5,
		WarmupModel:        true,
		Workers:            0, // Use default CPU count
		QueueSize:          64,
		AnalyzeRateLimit:   5,
		AnalyzeBurst:       10,
		SessionTTL:         30 * time.Minute,
		LogLevel:           "info",
	}
}

// LoadFromEnv builds the configuration from defaults, the optional file named
// by CONFIG_FILE, and environment variables, in that order.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load is LoadFromEnv with an explicit config file path. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Host = getEnvOrDefault("HOST", cfg.Host)
	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	cfg.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ImageFetchTimeout = parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", cfg.ImageFetchTimeout)
	cfg.AnalysisTimeout = parseDurationOrDefault("ANALYSIS_TIMEOUT", cfg.AnalysisTimeout)
	cfg.ModelLoadTimeout = parseDurationOrDefault("MODEL_LOAD_TIMEOUT", cfg.ModelLoadTimeout)
	cfg.MaxRequestBodySize = parseIntOrDefault("MAX_REQUEST_BODY_SIZE", cfg.MaxRequestBodySize)
	cfg.MaxImageBytes = parseIntOrDefault("MAX_IMAGE_BYTES", cfg.MaxImageBytes)
	cfg.ImageHostAllowlist = parseListOrDefault("IMAGE_HOST_ALLOWLIST", cfg.ImageHostAllowlist)
	cfg.BlockPrivateHosts = parseBoolOrDefault("BLOCK_PRIVATE_HOSTS", cfg.BlockPrivateHosts)

	cfg.ModelID = getEnvOrDefault("MODEL_ID", cfg.ModelID)
	cfg.Quantized = parseBoolOrDefault("MODEL_QUANTIZED", cfg.Quantized)
	cfg.ModelHubURL = getEnvOrDefault("MODEL_HUB_URL", cfg.ModelHubURL)
	cfg.ModelCacheDir = getEnvOrDefault("MODEL_CACHE_DIR", cfg.ModelCacheDir)
	cfg.ONNXLibraryPath = getEnvOrDefault("ONNXRUNTIME_SHARED_LIBRARY_PATH", cfg.ONNXLibraryPath)
	cfg.TopK = int(parseIntOrDefault("TOP_K", int64(cfg.TopK)))
	cfg.WarmupModel = parseBoolOrDefault("WARMUP_MODEL", cfg.WarmupModel)

	cfg.Workers = int(parseIntOrDefault("WORKERS", int64(cfg.Workers)))
	cfg.QueueSize = int(parseIntOrDefault("QUEUE_SIZE", int64(cfg.QueueSize)))
	cfg.AnalyzeRateLimit = parseFloatOrDefault("ANALYZE_RATE_LIMIT", cfg.AnalyzeRateLimit)
	cfg.AnalyzeBurst = int(parseIntOrDefault("ANALYZE_BURST", int64(cfg.AnalyzeBurst)))
	cfg.SessionTTL = parseDurationOrDefault("SESSION_TTL", cfg.SessionTTL)

	cfg.AzureAccountName = getEnvOrDefault("AZURE_STORAGE_ACCOUNT", cfg.AzureAccountName)
	cfg.AzureAccountKey = getEnvOrDefault("AZURE_STORAGE_KEY", cfg.AzureAccountKey)
	cfg.SentryDSN = getEnvOrDefault("SENTRY_DSN", cfg.SentryDSN)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
}

// Validate checks ranges that would otherwise fail later at runtime
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be > 0 (got %d)", c.MaxImageBytes)
	}
	if c.RequestTimeout <= 0 || c.ImageFetchTimeout <= 0 || c.AnalysisTimeout <= 0 || c.ModelLoadTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s, analysis=%s, model_load=%s)",
			c.RequestTimeout, c.ImageFetchTimeout, c.AnalysisTimeout, c.ModelLoadTimeout)
	}
	if strings.TrimSpace(c.ModelID) == "" {
		return fmt.Errorf("MODEL_ID must not be empty")
	}
	if c.TopK <= 0 {
		return fmt.Errorf("TOP_K must be > 0 (got %d)", c.TopK)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be > 0 (got %d)", c.QueueSize)
	}
	if c.AnalyzeRateLimit < 0 || c.AnalyzeBurst < 0 {
		return fmt.Errorf("ANALYZE_RATE_LIMIT and ANALYZE_BURST must be >= 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0 (got %s)", c.SessionTTL)
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
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
