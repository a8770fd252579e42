package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	APIKey       string
	BaseURL      string
	Models       []string
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffScale float64
	LLMTimeout   time.Duration
	Referer      string
	AppTitle     string

	PollInterval    time.Duration
	PollMaxAttempts int

	// OCRModels are vision-capable models for scanned PDFs; empty disables OCR.
	OCRModels   []string
	OCRMaxPages int
	Ghostscript string

	Database  string
	UploadDir string
	Port      string

	LogLevel string
	Env      string
}

// Load reads configuration from the environment, providing sensible defaults.
// The API key is never defaulted; generation commands fail fast without it.
func Load() (Config, error) {
	// Load .env file if it exists (useful for development)
	_ = godotenv.Load()

	cfg := Config{
		APIKey:      os.Getenv("OPENROUTER_API_KEY"),
		BaseURL:     getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		Models:      splitList(getEnv("LLM_MODELS", "meta-llama/llama-3.3-70b-instruct:free,mistralai/mistral-7b-instruct:free,google/gemma-2-9b-it:free")),
		Referer:     getEnv("APP_REFERER", ""),
		AppTitle:    getEnv("APP_TITLE", "CiteWise"),
		OCRModels:   splitList(getEnv("OCR_MODELS", "")),
		Ghostscript: getEnv("GHOSTSCRIPT_BIN", "gs"),
		Database:    getEnv("DATABASE_PATH", "./data/citewise.db"),
		UploadDir:   getEnv("UPLOAD_DIR", "./data/uploads"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Env:         getEnv("APP_ENV", "development"),
	}

	var err error
	if cfg.MaxRetries, err = getInt("LLM_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.BackoffBase, err = getDuration("LLM_BACKOFF_BASE", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.BackoffScale, err = getFloat("LLM_BACKOFF_FACTOR", 2); err != nil {
		return Config{}, err
	}
	if cfg.LLMTimeout, err = getDuration("LLM_TIMEOUT", 2*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = getDuration("EXTRACTION_POLL_INTERVAL", 3*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PollMaxAttempts, err = getInt("EXTRACTION_MAX_ATTEMPTS", 100); err != nil {
		return Config{}, err
	}
	if cfg.OCRMaxPages, err = getInt("OCR_MAX_PAGES", 20); err != nil {
		return Config{}, err
	}

	if len(cfg.Models) == 0 {
		return Config{}, fmt.Errorf("LLM_MODELS must name at least one model")
	}
	if cfg.MaxRetries < 0 {
		return Config{}, fmt.Errorf("LLM_MAX_RETRIES must be non-negative")
	}
	if cfg.BackoffScale < 1 {
		return Config{}, fmt.Errorf("LLM_BACKOFF_FACTOR must be >= 1")
	}

	return cfg, nil
}

// EnsureDirs creates the upload and database directories used by the server.
func (c Config) EnsureDirs() error {
	if err := os.MkdirAll(c.UploadDir, 0o755); err != nil {
		return fmt.Errorf("ensure upload dir %s: %w", c.UploadDir, err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Database), 0o755); err != nil {
		return fmt.Errorf("ensure database dir %s: %w", c.Database, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
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
