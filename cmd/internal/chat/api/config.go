package chatapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls chat API limits.
type Config struct {
	MaxBodyBytes int64

	// SendRateMax messages per SendRateWindow per user. Zero disables the limit.
	SendRateMax    int
	SendRateWindow time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   64 << 10,
		SendRateMax:    30,
		SendRateWindow: time.Minute,
	}
}

// LoadConfigFromEnv loads chat API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		MaxBodyBytes:   envInt64("LOSTFOUND_API_MAX_BODY_BYTES", def.MaxBodyBytes),
		SendRateMax:    envInt("LOSTFOUND_API_SEND_RATE_MAX", def.SendRateMax),
		SendRateWindow: envDuration("LOSTFOUND_API_SEND_RATE_WINDOW", def.SendRateWindow),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 64 << 10
	}
	if c.SendRateMax < 0 {
		c.SendRateMax = 0
	}
	if c.SendRateWindow <= 0 {
		c.SendRateWindow = time.Minute
	}
	return c
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
