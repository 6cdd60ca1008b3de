package app

import (
	"fmt"
	"time"

	"lostfound/cmd/internal/auth"
	chatapi "lostfound/cmd/internal/chat/api"
	"lostfound/cmd/internal/migrations"
	"lostfound/cmd/internal/notify"
	"lostfound/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	AutoMigrate bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// RedisURL enables the cross-instance realtime broker.
	RedisURL string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// AllowHeaderAuth must be set to run with LOSTFOUND_AUTH_MODE=header.
	AllowHeaderAuth bool

	Auth   auth.Config
	WS     realtime.GatewayConfig
	API    chatapi.Config
	Notify notify.Config
}

// LoadConfig loads Config from environment variables with defaults.
// Call LoadDotEnv first to pick up a .env file.
func LoadConfig() (Config, error) {
	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("auth config: %w", err)
	}
	notifyCfg := notify.LoadConfigFromEnv()
	if err := notifyCfg.Validate(); err != nil {
		return Config{}, err
	}

	return Config{
		HTTPAddr:  EnvString("LOSTFOUND_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("LOSTFOUND_LOG_LEVEL", "info"),
		LogFormat: EnvString("LOSTFOUND_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("LOSTFOUND_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("LOSTFOUND_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("LOSTFOUND_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("LOSTFOUND_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("LOSTFOUND_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("LOSTFOUND_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("LOSTFOUND_DATABASE_URL", ""),
		DBSchema:    EnvString("LOSTFOUND_DB_SCHEMA", migrations.DefaultSchema),
		DBMaxConns:  EnvInt32("LOSTFOUND_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("LOSTFOUND_DB_MIN_CONNS", 0),
		AutoMigrate: EnvBool("LOSTFOUND_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("LOSTFOUND_READINESS_REQUIRE_DB", false),

		RedisURL: EnvString("LOSTFOUND_REDIS_URL", ""),

		CORSAllowedOrigins:   EnvCSV("LOSTFOUND_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("LOSTFOUND_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("LOSTFOUND_CORS_MAX_AGE_SECONDS", 600),

		AllowHeaderAuth: EnvBool("LOSTFOUND_ALLOW_HEADER_AUTH", false),

		Auth:   authCfg,
		WS:     realtime.GatewayConfigFromEnv(),
		API:    chatapi.LoadConfigFromEnv(),
		Notify: notifyCfg,
	}, nil
}
