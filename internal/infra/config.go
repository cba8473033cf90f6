package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string
	GrsaiAPIKey  string
	GrsaiBaseURL string
	Model        string

	AspectRatio string
	Duration    int

	MaxAttempts   int
	PollInterval  time.Duration
	PollTimeout   time.Duration
	RetryBaseWait time.Duration
	RetryMaxWait  time.Duration

	SubmitTimeout  time.Duration
	RequestTimeout time.Duration
	RequestSpacing time.Duration

	DownloadDir   string
	HistoryDBPath string
	BatchWorkers  int

	WebhookAddr    string
	WebhookBaseURL string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. A .env file in the working directory is honored but
// not required.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		GrsaiAPIKey:    os.Getenv("GRSAI_API_KEY"),
		GrsaiBaseURL:   getEnv("GRSAI_BASE_URL", "https://grsai.dakka.com.cn"),
		Model:          getEnv("GRSAI_MODEL", "sora-2"),
		AspectRatio:    getEnv("VIDEO_ASPECT_RATIO", "16:9"),
		Duration:       getEnvInt("VIDEO_DURATION_SECONDS", 15),
		MaxAttempts:    getEnvInt("MAX_ATTEMPTS", 20),
		PollInterval:   time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 15)),
		PollTimeout:    time.Minute * time.Duration(getEnvInt("POLL_TIMEOUT_MINUTES", 30)),
		RetryBaseWait:  time.Second * time.Duration(getEnvInt("RETRY_BASE_WAIT_SECONDS", 2)),
		RetryMaxWait:   time.Second * time.Duration(getEnvInt("RETRY_MAX_WAIT_SECONDS", 60)),
		SubmitTimeout:  time.Second * time.Duration(getEnvInt("SUBMIT_TIMEOUT_SECONDS", 120)),
		RequestTimeout: time.Second * time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 30)),
		RequestSpacing: time.Second * time.Duration(getEnvInt("REQUEST_SPACING_SECONDS", 1)),
		DownloadDir:    getEnv("DOWNLOAD_DIR", "./download"),
		HistoryDBPath:  getEnv("HISTORY_DB_PATH", "./soragen.db"),
		BatchWorkers:   getEnvInt("BATCH_WORKERS", 5),
		WebhookAddr:    os.Getenv("WEBHOOK_ADDR"),
		WebhookBaseURL: os.Getenv("WEBHOOK_BASE_URL"),
	}

	if cfg.GrsaiAPIKey == "" {
		return nil, fmt.Errorf("GRSAI_API_KEY is required")
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}

	if cfg.BatchWorkers < 1 {
		cfg.BatchWorkers = 1
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
