// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	AudioBackendMiniaudio = "miniaudio"
	AudioBackendPortaudio = "portaudio"
	AudioBackendNone      = "none"
)

// Config holds the settings of both executables.
type Config struct {
	DeepgramAPIKey string
	GeminiAPIKey   string
	GeminiModel    string

	Port         string
	ChatEndpoint string

	Language     string
	AudioBackend string
	StorePath    string
	LogPath      string

	Timing TimingConfig
}

// TimingConfig holds the heuristic delays of the voice loop.
type TimingConfig struct {
	SilenceTimeout  time.Duration
	CancelSettle    time.Duration
	InitValidity    time.Duration
	InitTimeout     time.Duration
	MountDelay      time.Duration
	RelistenDelay   time.Duration
	DuplicateWindow time.Duration
}

// LoadDotEnv loads variables from the given files, or .env when none are
// given. Variables already set in the environment win. A missing file is
// not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("No .env file found, using environment variables")
			return nil
		}
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DeepgramAPIKey: getEnv("DEEPGRAM_API_KEY", ""),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.0-flash-lite"),
		Port:           getEnv("PORT", "8080"),
		ChatEndpoint:   getEnv("EMA_TALK_CHAT_ENDPOINT", "http://localhost:8080/api/chat"),
		Language:       getEnv("EMA_TALK_LANGUAGE", "ja-JP"),
		AudioBackend:   strings.ToLower(getEnv("EMA_TALK_AUDIO_BACKEND", AudioBackendMiniaudio)),
		StorePath:      getEnv("EMA_TALK_STORE_PATH", "./data/ema-talk.db"),
		LogPath:        getEnv("EMA_TALK_LOG_FILE", "ema-talk.log"),
		Timing: TimingConfig{
			SilenceTimeout:  getEnvDuration("EMA_TALK_SILENCE_TIMEOUT", 2*time.Second),
			CancelSettle:    getEnvDuration("EMA_TALK_CANCEL_SETTLE", 200*time.Millisecond),
			InitValidity:    getEnvDuration("EMA_TALK_INIT_VALIDITY", 24*time.Hour),
			InitTimeout:     getEnvDuration("EMA_TALK_INIT_TIMEOUT", 5*time.Second),
			MountDelay:      getEnvDuration("EMA_TALK_MOUNT_DELAY", time.Second),
			RelistenDelay:   getEnvDuration("EMA_TALK_RELISTEN_DELAY", time.Second),
			DuplicateWindow: getEnvDuration("EMA_TALK_DUPLICATE_WINDOW", time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Language == "" {
		return fmt.Errorf("EMA_TALK_LANGUAGE cannot be empty")
	}
	endpoint, err := url.Parse(c.ChatEndpoint)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return fmt.Errorf("EMA_TALK_CHAT_ENDPOINT must be an absolute URL, got %q", c.ChatEndpoint)
	}
	switch c.AudioBackend {
	case AudioBackendMiniaudio, AudioBackendPortaudio, AudioBackendNone:
	default:
		return fmt.Errorf("EMA_TALK_AUDIO_BACKEND must be one of %s, %s or %s, got %q",
			AudioBackendMiniaudio, AudioBackendPortaudio, AudioBackendNone, c.AudioBackend)
	}

	durations := map[string]time.Duration{
		"EMA_TALK_SILENCE_TIMEOUT":  c.Timing.SilenceTimeout,
		"EMA_TALK_CANCEL_SETTLE":    c.Timing.CancelSettle,
		"EMA_TALK_INIT_VALIDITY":    c.Timing.InitValidity,
		"EMA_TALK_INIT_TIMEOUT":     c.Timing.InitTimeout,
		"EMA_TALK_MOUNT_DELAY":      c.Timing.MountDelay,
		"EMA_TALK_RELISTEN_DELAY":   c.Timing.RelistenDelay,
		"EMA_TALK_DUPLICATE_WINDOW": c.Timing.DuplicateWindow,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	return nil
}

// HasVoice reports whether speech recognition and synthesis can be wired.
func (c *Config) HasVoice() bool {
	return c.DeepgramAPIKey != "" && c.AudioBackend != AudioBackendNone
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	// Bare numbers are milliseconds.
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
