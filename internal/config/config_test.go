package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "EMA_TALK_LANGUAGE", "EMA_TALK_CHAT_ENDPOINT", "EMA_TALK_AUDIO_BACKEND", "EMA_TALK_SILENCE_TIMEOUT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.Language != "ja-JP" {
		t.Fatalf("expected ja-JP, got %q", cfg.Language)
	}
	if cfg.Timing.SilenceTimeout != 2*time.Second {
		t.Fatalf("expected 2s silence timeout, got %s", cfg.Timing.SilenceTimeout)
	}
	if cfg.Timing.InitTimeout != 5*time.Second {
		t.Fatalf("expected 5s init timeout, got %s", cfg.Timing.InitTimeout)
	}
	if cfg.Timing.RelistenDelay != time.Second || cfg.Timing.MountDelay != time.Second {
		t.Fatalf("expected 1s mount and relisten delays, got %s and %s", cfg.Timing.MountDelay, cfg.Timing.RelistenDelay)
	}
	if cfg.AudioBackend != AudioBackendMiniaudio {
		t.Fatalf("expected miniaudio backend, got %q", cfg.AudioBackend)
	}
}

func TestGetEnvDuration(t *testing.T) {
	testCases := []struct {
		value string
		want  time.Duration
	}{
		{value: "500ms", want: 500 * time.Millisecond},
		{value: "1500", want: 1500 * time.Millisecond},
		{value: "soon", want: time.Minute},
	}

	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			t.Setenv("EMA_TALK_TEST_DURATION", tc.value)
			if got := getEnvDuration("EMA_TALK_TEST_DURATION", time.Minute); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:         "8080",
			Language:     "ja-JP",
			ChatEndpoint: "http://localhost:8080/api/chat",
			AudioBackend: AudioBackendNone,
		}
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty port", mutate: func(c *Config) { c.Port = "" }},
		{name: "empty language", mutate: func(c *Config) { c.Language = "" }},
		{name: "relative endpoint", mutate: func(c *Config) { c.ChatEndpoint = "/api/chat" }},
		{name: "unknown backend", mutate: func(c *Config) { c.AudioBackend = "alsa" }},
		{name: "negative delay", mutate: func(c *Config) { c.Timing.RelistenDelay = -time.Second }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadDotEnvKeepsExistingVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("EMA_TALK_TEST_FROM_FILE=file\nEMA_TALK_TEST_EXISTING=file\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("EMA_TALK_TEST_EXISTING", "env")
	t.Setenv("EMA_TALK_TEST_FROM_FILE", "")
	os.Unsetenv("EMA_TALK_TEST_FROM_FILE")
	t.Cleanup(func() { os.Unsetenv("EMA_TALK_TEST_FROM_FILE") })

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("expected env file to load, got %v", err)
	}
	if got := os.Getenv("EMA_TALK_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("EMA_TALK_TEST_EXISTING"); got != "env" {
		t.Fatalf("expected existing value to win, got %q", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}
