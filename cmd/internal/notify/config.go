package notify

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Modes for the notification trigger.
const (
	ModeLog   = "log"
	ModeAsynq = "asynq"
	ModeOff   = "off"
)

// Config configures both the enqueue side and the worker.
type Config struct {
	Mode     string
	RedisURL string

	Queue    string
	MaxRetry int
	Timeout  time.Duration

	// Worker only.
	Concurrency int
	Queues      map[string]int
}

// DefaultConfig returns log-only notifications.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeLog,
		Queue:       "chat",
		MaxRetry:    5,
		Timeout:     30 * time.Second,
		Concurrency: 10,
		Queues:      map[string]int{"chat": 1},
	}
}

// LoadConfigFromEnv reads LOSTFOUND_NOTIFY_* (and LOSTFOUND_REDIS_URL) over the defaults.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("LOSTFOUND_NOTIFY_MODE"))); v != "" {
		cfg.Mode = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("LOSTFOUND_REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("LOSTFOUND_NOTIFY_QUEUE")); v != "" {
		cfg.Queue = v
		cfg.Queues = map[string]int{v: 1}
	}
	if v := strings.TrimSpace(os.Getenv("LOSTFOUND_NOTIFY_MAX_RETRY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRetry = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOSTFOUND_NOTIFY_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOSTFOUND_NOTIFY_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOSTFOUND_NOTIFY_QUEUES")); v != "" {
		if q := parseQueueWeights(v); len(q) > 0 {
			cfg.Queues = q
		}
	}
	return cfg
}

// Validate rejects unknown modes and asynq mode without Redis.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeLog, ModeOff:
		return nil
	case ModeAsynq:
		if c.RedisURL == "" {
			return errors.New("notify: asynq mode requires LOSTFOUND_REDIS_URL")
		}
		if strings.TrimSpace(c.Queue) == "" {
			return errors.New("notify: empty queue name")
		}
		return nil
	default:
		return fmt.Errorf("notify: unknown mode %q", c.Mode)
	}
}

// parseQueueWeights parses strings like "chat=6,default=1" into a map.
func parseQueueWeights(s string) map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		w := 1
		if len(kv) == 2 {
			if i, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil && i > 0 {
				w = i
			}
		}
		res[name] = w
	}
	return res
}
