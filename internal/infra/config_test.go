package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("GRSAI_API_KEY", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when GRSAI_API_KEY is unset")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GRSAI_API_KEY", "sk-test")
	t.Setenv("GRSAI_BASE_URL", "")
	t.Setenv("MAX_ATTEMPTS", "")
	t.Setenv("POLL_INTERVAL_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.GrsaiBaseURL != "https://grsai.dakka.com.cn" {
		t.Fatalf("GrsaiBaseURL mismatch: %q", cfg.GrsaiBaseURL)
	}
	if cfg.Model != "sora-2" {
		t.Fatalf("Model mismatch: %q", cfg.Model)
	}
	if cfg.MaxAttempts != 20 {
		t.Fatalf("MaxAttempts = %d, want 20", cfg.MaxAttempts)
	}
	if cfg.PollInterval != 15*time.Second {
		t.Fatalf("PollInterval = %s, want 15s", cfg.PollInterval)
	}
	if cfg.PollTimeout != 30*time.Minute {
		t.Fatalf("PollTimeout = %s, want 30m", cfg.PollTimeout)
	}
}

func TestLoadConfigHonorsOverrides(t *testing.T) {
	t.Setenv("GRSAI_API_KEY", "sk-test")
	t.Setenv("MAX_ATTEMPTS", "3")
	t.Setenv("POLL_INTERVAL_SECONDS", "5")
	t.Setenv("VIDEO_ASPECT_RATIO", "9:16")
	t.Setenv("VIDEO_DURATION_SECONDS", "10")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("PollInterval = %s, want 5s", cfg.PollInterval)
	}
	if cfg.AspectRatio != "9:16" {
		t.Fatalf("AspectRatio = %q, want 9:16", cfg.AspectRatio)
	}
	if cfg.Duration != 10 {
		t.Fatalf("Duration = %d, want 10", cfg.Duration)
	}
}

func TestLoadConfigRejectsZeroAttempts(t *testing.T) {
	t.Setenv("GRSAI_API_KEY", "sk-test")
	t.Setenv("MAX_ATTEMPTS", "0")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when MAX_ATTEMPTS is zero")
	}
}
