package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Synthesis
	Seed       uint64  // 0 seeds from the clock
	VoiceDir   string  // extra voice banks; empty = builtin only
	DefaultBPM float64 // tempo when a project omits one

	// Preview playback
	CrossfadeDuration time.Duration
	StreamBitrate     string // MP3 bitrate for /stream

	LogLevel logrus.Level
}

// Load reads configuration from environment variables with sane defaults.
// Variables in a .env file in the working directory are applied first;
// a missing file is not an error.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("Loaded environment variables from .env file")
	}

	return Config{
		Port: envInt("KANASYNTH_PORT", 8080),

		Seed:       envUint("KANASYNTH_SEED", 0),
		VoiceDir:   envStr("KANASYNTH_VOICE_DIR", ""),
		DefaultBPM: envFloat("KANASYNTH_DEFAULT_BPM", 120),

		CrossfadeDuration: time.Duration(envFloat("KANASYNTH_CROSSFADE", 1) * float64(time.Second)),
		StreamBitrate:     envStr("KANASYNTH_STREAM_BITRATE", "128k"),

		LogLevel: envLevel("KANASYNTH_LOG_LEVEL", logrus.InfoLevel),
	}
}

// ConfigureLogging applies the configured level and the text formatter used
// across the service.
func (c Config) ConfigureLogging() {
	logrus.SetLevel(c.LogLevel)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envLevel(key string, fallback logrus.Level) logrus.Level {
	if v := os.Getenv(key); v != "" {
		if lvl, err := logrus.ParseLevel(v); err == nil {
			return lvl
		}
	}
	return fallback
}
