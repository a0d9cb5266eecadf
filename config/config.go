// Package config loads engine-scoped configuration: a JSON file base with
// environment-variable overrides, plus a YAML-described set of correlated
// asset groups.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates every tunable the engine needs: rate limiter, cache,
// retry, provider credentials, and correlation-crack strategy defaults.
type Config struct {
	RateLimiter RateLimiterConfig `json:"rate_limiter"`
	Cache       CacheConfig       `json:"cache"`
	Retry       RetryConfig       `json:"retry"`
	Provider    ProviderConfig    `json:"provider"`
	Strategy    StrategyConfig    `json:"strategy"`
	Logging     LoggingConfig     `json:"logging"`
	Timezone    string            `json:"timezone"`
}

type RateLimiterConfig struct {
	MaxTokens      int           `json:"max_tokens"`
	WindowDuration time.Duration `json:"window_duration"`
	WaitInterval   time.Duration `json:"wait_interval"`
}

type CacheConfig struct {
	Backend         string        `json:"backend"` // "memory" or "redis"
	DefaultTTL      time.Duration `json:"default_ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	RedisAddress    string        `json:"redis_address"`
	RedisPassword   string        `json:"redis_password"`
	RedisDB         int           `json:"redis_db"`
}

type RetryConfig struct {
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

type ProviderConfig struct {
	CryptoBaseURL   string `json:"crypto_base_url"`
	CryptoAPIKey    string `json:"crypto_api_key"`
	CryptoSecretKey string `json:"crypto_secret_key"`
	CFDBaseURL      string `json:"cfd_base_url"`
	CFDAPIKey       string `json:"cfd_api_key"`
	CFDPassword     string `json:"cfd_password"`
	CFDAccountID    string `json:"cfd_account_id"`
}

type StrategyConfig struct {
	MinCorrelatedAssets    int           `json:"min_correlated_assets"`
	MarketDataInterval     string        `json:"market_data_interval"`
	CandlesLimit           int           `json:"candles_limit"`
	CrossDetectionLookback int           `json:"cross_detection_lookback"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	JSONFormat bool   `json:"json_format"`
}

// CorrelatedGroup names a set of instruments expected to move together,
// along with the period used to compute their shared reference level.
type CorrelatedGroup struct {
	Name         string   `yaml:"name"`
	PrimaryAssets []string `yaml:"primary_assets"`
	Direction    string   `yaml:"direction"`
	Period       string   `yaml:"period"`
	Timezone     string   `yaml:"timezone,omitempty"`
}

// GroupsFile is the top-level shape of the YAML correlated-group topology.
type GroupsFile struct {
	Groups []CorrelatedGroup `yaml:"groups"`
}

// Load reads config.json if present, then applies environment overrides.
// godotenv.Load is attempted first (best-effort, ignored if absent) so a
// .env file can populate the environment before the overrides run.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = defaultConfig()
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		RateLimiter: RateLimiterConfig{MaxTokens: 1200, WindowDuration: 60 * time.Second, WaitInterval: 100 * time.Millisecond},
		Cache:       CacheConfig{Backend: "memory", DefaultTTL: 60 * time.Second, CleanupInterval: 30 * time.Second},
		Retry:       RetryConfig{RetryAttempts: 3, RetryDelay: time.Second, RequestTimeout: 30 * time.Second},
		Strategy:    StrategyConfig{MinCorrelatedAssets: 1, MarketDataInterval: "5m", CandlesLimit: 100, CrossDetectionLookback: 10},
		Timezone:    "America/New_York",
	}
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadGroups reads the correlated-group topology from a YAML file.
func LoadGroups(filename string) (*GroupsFile, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading groups file: %w", err)
	}

	var groups GroupsFile
	if err := yaml.Unmarshal(file, &groups); err != nil {
		return nil, fmt.Errorf("error parsing groups file: %w", err)
	}
	return &groups, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.RateLimiter.MaxTokens = getEnvIntOrDefault("RATE_LIMITER_MAX_TOKENS", cfg.RateLimiter.MaxTokens)
	cfg.RateLimiter.WindowDuration = getEnvDurationOrDefault("RATE_LIMITER_WINDOW", cfg.RateLimiter.WindowDuration)
	cfg.RateLimiter.WaitInterval = getEnvDurationOrDefault("RATE_LIMITER_WAIT_INTERVAL", cfg.RateLimiter.WaitInterval)

	cfg.Cache.Backend = getEnvOrDefault("CACHE_BACKEND", cfg.Cache.Backend)
	cfg.Cache.DefaultTTL = getEnvDurationOrDefault("CACHE_DEFAULT_TTL", cfg.Cache.DefaultTTL)
	cfg.Cache.CleanupInterval = getEnvDurationOrDefault("CACHE_CLEANUP_INTERVAL", cfg.Cache.CleanupInterval)
	cfg.Cache.RedisAddress = getEnvOrDefault("CACHE_REDIS_ADDRESS", cfg.Cache.RedisAddress)
	cfg.Cache.RedisPassword = getEnvOrDefault("CACHE_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvIntOrDefault("CACHE_REDIS_DB", cfg.Cache.RedisDB)

	cfg.Retry.RetryAttempts = getEnvIntOrDefault("RETRY_ATTEMPTS", cfg.Retry.RetryAttempts)
	cfg.Retry.RetryDelay = getEnvDurationOrDefault("RETRY_DELAY", cfg.Retry.RetryDelay)
	cfg.Retry.RequestTimeout = getEnvDurationOrDefault("REQUEST_TIMEOUT", cfg.Retry.RequestTimeout)

	cfg.Provider.CryptoBaseURL = getEnvOrDefault("CRYPTO_BASE_URL", valueOr(cfg.Provider.CryptoBaseURL, "https://api.binance.com"))
	cfg.Provider.CryptoAPIKey = getEnvOrDefault("CRYPTO_API_KEY", cfg.Provider.CryptoAPIKey)
	cfg.Provider.CryptoSecretKey = getEnvOrDefault("CRYPTO_SECRET_KEY", cfg.Provider.CryptoSecretKey)
	cfg.Provider.CFDBaseURL = getEnvOrDefault("CFD_BASE_URL", cfg.Provider.CFDBaseURL)
	cfg.Provider.CFDAPIKey = getEnvOrDefault("CFD_API_KEY", cfg.Provider.CFDAPIKey)
	cfg.Provider.CFDPassword = getEnvOrDefault("CFD_PASSWORD", cfg.Provider.CFDPassword)
	cfg.Provider.CFDAccountID = getEnvOrDefault("CFD_ACCOUNT_ID", cfg.Provider.CFDAccountID)

	cfg.Strategy.MinCorrelatedAssets = getEnvIntOrDefault("STRATEGY_MIN_CORRELATED_ASSETS", cfg.Strategy.MinCorrelatedAssets)
	cfg.Strategy.MarketDataInterval = getEnvOrDefault("STRATEGY_MARKET_DATA_INTERVAL", cfg.Strategy.MarketDataInterval)
	cfg.Strategy.CandlesLimit = getEnvIntOrDefault("STRATEGY_CANDLES_LIMIT", cfg.Strategy.CandlesLimit)
	cfg.Strategy.CrossDetectionLookback = getEnvIntOrDefault("STRATEGY_CROSS_DETECTION_LOOKBACK", cfg.Strategy.CrossDetectionLookback)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", valueOr(cfg.Logging.Level, "INFO"))
	cfg.Logging.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	cfg.Timezone = getEnvOrDefault("ENGINE_TIMEZONE", valueOr(cfg.Timezone, "America/New_York"))
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
