package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds client configuration.
type Config struct {
	APIBaseURL     string
	Timeout        time.Duration
	UserAgent      string
	ProxyURL       string
	SessionDB      string
	FirebaseAPIKey string
	TokenEndpoint  string
	TokenSkew      time.Duration
	TokenCacheSize int
	IDToken        string // pre-issued token; bypasses the session store when set
	DedupeMaxSize  int
	BatchSize      int
	OutputFormat   string // csv, json, or dual
	MetricsAddr    string
	Verbose        bool
}

// DefaultConfig returns defaults for a local backend.
func DefaultConfig() *Config {
	return &Config{
		APIBaseURL:     "http://localhost:8000",
		Timeout:        30 * time.Second,
		UserAgent:      "bookshelf-cli/1.0",
		SessionDB:      "data/session.db",
		TokenEndpoint:  "https://securetoken.googleapis.com/v1/token",
		TokenSkew:      5 * time.Minute,
		TokenCacheSize: 8,
		DedupeMaxSize:  10000,
		BatchSize:      64,
		OutputFormat:   "csv",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return fmt.Errorf("invalid api base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("api base URL must include a host")
	}

	if c.ProxyURL != "" {
		if _, err := url.Parse(c.ProxyURL); err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.IDToken == "" && c.SessionDB == "" {
		return fmt.Errorf("session db cannot be empty without an id token")
	}
	if c.TokenEndpoint == "" {
		return fmt.Errorf("token endpoint cannot be empty")
	}
	if c.TokenSkew < 0 {
		return fmt.Errorf("token skew cannot be negative")
	}
	if c.TokenCacheSize <= 0 {
		return fmt.Errorf("token cache size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}

	return nil
}
