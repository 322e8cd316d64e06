package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoragePath string

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
	MaxDownloadBytes   int64

	BatchMaxBytes   int
	BatchDelay      time.Duration
	ItemDelay       time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	ProviderTimeout time.Duration

	GeminiModel string
	LocalSDURL  string
	// ProviderBaseURLs overrides adapter endpoints, keyed by provider id.
	ProviderBaseURLs map[string]string
}

// providerBaseURLEnv maps provider ids to the variable overriding their endpoint.
var providerBaseURLEnv = map[string]string{
	"openai":     "OPENAI_BASE_URL",
	"google":     "GEMINI_BASE_URL",
	"stability":  "STABILITY_BASE_URL",
	"leonardo":   "LEONARDO_BASE_URL",
	"clipdrop":   "CLIPDROP_BASE_URL",
	"togetherai": "TOGETHER_BASE_URL",
	"qwen":       "QWEN_BASE_URL",
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StoragePath:        getEnv("STORAGE_PATH", "./data"),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 180)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		MaxDownloadBytes:   int64(getEnvInt("MAX_DOWNLOAD_BYTES", 4_500_000)),
		BatchMaxBytes:      getEnvInt("BATCH_MAX_BYTES", 3<<20),
		BatchDelay:         time.Millisecond * time.Duration(getEnvInt("BATCH_DELAY_MS", 500)),
		ItemDelay:          time.Millisecond * time.Duration(getEnvInt("ITEM_DELAY_MS", 1000)),
		RetryAttempts:      getEnvInt("RETRY_ATTEMPTS", 2),
		RetryDelay:         time.Millisecond * time.Duration(getEnvInt("RETRY_DELAY_MS", 2000)),
		ProviderTimeout:    time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 120)),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		LocalSDURL:         os.Getenv("LOCALSD_URL"),
		ProviderBaseURLs:   map[string]string{},
	}
	for provider, key := range providerBaseURLEnv {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			cfg.ProviderBaseURLs[provider] = v
		}
	}
	if cfg.LocalSDURL != "" {
		cfg.ProviderBaseURLs["localsd"] = cfg.LocalSDURL
	}

	if cfg.RetryAttempts < 1 {
		return nil, fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", cfg.RetryAttempts)
	}
	if cfg.BatchMaxBytes <= 0 {
		return nil, fmt.Errorf("BATCH_MAX_BYTES must be positive, got %d", cfg.BatchMaxBytes)
	}
	if cfg.RateLimitPerMin <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", cfg.RateLimitPerMin)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
