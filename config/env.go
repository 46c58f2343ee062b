package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads an optional .env file and overlays BOOKSHELF_* variables on the defaults.
// A missing .env file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		slog.Debug("no .env file loaded, using process environment", slog.Any("error", err))
	}

	cfg := DefaultConfig()
	if v, ok := EnvString("BOOKSHELF_API_URL"); ok {
		cfg.APIBaseURL = v
	}
	if v, ok := EnvString("BOOKSHELF_SESSION_DB"); ok {
		cfg.SessionDB = v
	}
	if v, ok := EnvString("BOOKSHELF_FIREBASE_API_KEY"); ok {
		cfg.FirebaseAPIKey = v
	}
	if v, ok := EnvString("BOOKSHELF_TOKEN_ENDPOINT"); ok {
		cfg.TokenEndpoint = v
	}
	if v, ok := EnvString("BOOKSHELF_PROXY"); ok {
		cfg.ProxyURL = v
	}
	if v, ok := EnvString("BOOKSHELF_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := EnvString("BOOKSHELF_ID_TOKEN"); ok {
		cfg.IDToken = v
	}

	if v, ok, err := EnvDuration("BOOKSHELF_TIMEOUT"); err != nil {
		return nil, err
	} else if ok {
		cfg.Timeout = v
	}
	if v, ok, err := EnvDuration("BOOKSHELF_TOKEN_SKEW"); err != nil {
		return nil, err
	} else if ok {
		cfg.TokenSkew = v
	}
	if v, ok, err := EnvInt("BOOKSHELF_DEDUPE_MAX"); err != nil {
		return nil, err
	} else if ok {
		cfg.DedupeMaxSize = v
	}

	return cfg, nil
}

// EnvString returns the trimmed value of key and whether it was set to something non-blank.
func EnvString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key as a time.Duration ("30s", "5m").
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}
