// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	token := cfg.Freee.AccessToken
//	tolerance := cfg.Matching.TolerancePercent
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Freee    FreeeConfig    `yaml:"freee"`
	Gmail    GmailConfig    `yaml:"gmail"`
	LLM      LLMConfig      `yaml:"llm"`
	FXRates  FXRateConfig   `yaml:"fx_rates"`
	Matching MatchingConfig `yaml:"matching"`
	Storage  StorageConfig  `yaml:"storage"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	TempDir  string         `yaml:"temp_dir"`
}

// FreeeConfig holds freee API credentials
type FreeeConfig struct {
	AccessToken string `yaml:"access_token"`
	CompanyID   int64  `yaml:"company_id"`
}

// GmailConfig holds Gmail OAuth2 settings
type GmailConfig struct {
	CredentialsPath string `yaml:"credentials_path"`
	TokenPath       string `yaml:"token_path"`
	Query           string `yaml:"query"` // extra Gmail search terms, e.g. "subject:(receipt OR 領収書)"
}

// LLMConfig holds receipt extraction model settings
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// FXRateConfig holds exchange-rate provider settings
type FXRateConfig struct {
	BaseURL       string `yaml:"base_url"`
	MaxRetries    int    `yaml:"max_retries"`
	MaxNearbyDays int    `yaml:"max_nearby_days"`
}

// MatchingConfig holds matcher thresholds
type MatchingConfig struct {
	TolerancePercent float64 `yaml:"tolerance_percent"`
	MinConfidence    float64 `yaml:"min_confidence"`
	HomeCurrency     string  `yaml:"home_currency"`
	DateRangeDays    int     `yaml:"date_range_days"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// APIConfig holds the dashboard API settings
type APIConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${FREEE_ACCESS_TOKEN})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := &Config{
		Freee: FreeeConfig{
			AccessToken: os.Getenv("FREEE_ACCESS_TOKEN"),
			CompanyID:   getEnvInt64("FREEE_COMPANY_ID", 0),
		},
		Gmail: GmailConfig{
			CredentialsPath: getEnv("GMAIL_CREDENTIALS_PATH", "credentials/gmail_credentials.json"),
			TokenPath:       getEnv("GMAIL_TOKEN_PATH", "credentials/gmail_token.json"),
			Query:           os.Getenv("GMAIL_QUERY"),
		},
		LLM: LLMConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  getEnv("GEMINI_MODEL", ""),
		},
		Storage: StorageConfig{
			DatabasePath: getEnv("MATCHER_DB_PATH", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from the given path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// applyDefaults fills in zero-valued fields
func (c *Config) applyDefaults() {
	if c.LLM.Model == "" {
		c.LLM.Model = "gemini-2.0-flash"
	}
	if c.FXRates.MaxRetries == 0 {
		c.FXRates.MaxRetries = 3
	}
	if c.FXRates.MaxNearbyDays == 0 {
		c.FXRates.MaxNearbyDays = 3
	}
	if c.Matching.TolerancePercent == 0 {
		c.Matching.TolerancePercent = 3.0
	}
	if c.Matching.MinConfidence == 0 {
		c.Matching.MinConfidence = 0.7
	}
	if c.Matching.HomeCurrency == "" {
		c.Matching.HomeCurrency = "JPY"
	}
	if c.Matching.DateRangeDays == 0 {
		c.Matching.DateRangeDays = 90
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "receipt_matcher.db"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8787"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.TempDir == "" {
		c.TempDir = "./temp"
	}
}

// Validate checks that credentials required for a live run are present
func (c *Config) Validate() error {
	if c.Freee.AccessToken == "" {
		return fmt.Errorf("freee access token is not configured (freee.access_token or FREEE_ACCESS_TOKEN)")
	}
	if c.Freee.CompanyID == 0 {
		return fmt.Errorf("freee company ID is not configured (freee.company_id or FREEE_COMPANY_ID)")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key is not configured (llm.api_key or GEMINI_API_KEY)")
	}
	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt64 retrieves an integer environment variable with a fallback default
func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
