// Package app wires the lostfound server runtime: config, logging, storage, HTTP routes,
// and the realtime push channel.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"lostfound/cmd/internal/auth"
	"lostfound/cmd/internal/chat"
	chatapi "lostfound/cmd/internal/chat/api"
	"lostfound/cmd/internal/migrations"
	"lostfound/cmd/internal/notify"
	"lostfound/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// App is the lostfound server runtime: it owns the HTTP server and every long-lived dependency.
type App struct {
	cfg Config
	log Logger

	reg         *prometheus.Registry
	httpMetrics *HTTPMetrics

	pool  *pgxpool.Pool
	redis *redis.Client

	hub     *realtime.Hub
	broker  realtime.Broker
	service *chat.Service
	chatAPI *chatapi.Handler
	ws      *realtime.WSGateway

	checks  []readyCheck
	closers []func() error
}

// New constructs a fully wired App instance from config and logger.
// On error every resource opened so far is released.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, reg: NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.httpMetrics = NewHTTPMetrics(a.reg)
	rtMetrics := realtime.NewMetrics(a.reg)

	convs, msgs, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	a.hub = realtime.NewHub(log, rtMetrics)
	if a.broker, err = a.openBroker(ctx, rtMetrics); err != nil {
		return nil, err
	}

	notifier, err := a.openNotifier()
	if err != nil {
		return nil, err
	}

	a.service, err = chat.NewService(convs, msgs,
		chat.WithLogger(log),
		chat.WithPublisher(realtime.NewFanout(log, a.broker)),
		chat.WithNotifier(notifier),
	)
	if err != nil {
		return nil, err
	}

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if cfg.Auth.Mode == auth.ModeHeader {
		log.Warn("auth.header_mode", "detail", "trusting X-User-ID, development only")
	}

	if a.chatAPI, err = chatapi.NewHandler(log, a.service, authn, cfg.API); err != nil {
		return nil, err
	}
	if a.ws, err = realtime.NewWSGateway(log, a.hub, a.broker, authn, a.service, cfg.WS); err != nil {
		return nil, err
	}
	return a, nil
}

// openStore picks Postgres when a database is configured and the in-memory store otherwise.
func (a *App) openStore(ctx context.Context) (chat.ConversationStore, chat.MessageStore, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		st := chat.NewMemoryStore()
		return st, st, nil
	}

	pool, err := NewDBPool(ctx, a.cfg, a.log)
	if err != nil {
		return nil, nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.checks = append(a.checks, readyCheck{name: "db", fn: pool.Ping})

	if a.cfg.AutoMigrate {
		if err := migrations.Up(ctx, pool, a.cfg.DatabaseURL, a.cfg.DBSchema, a.log); err != nil {
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	st, err := chat.NewPostgresStore(pool, chat.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, err
	}
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	return st, st, nil
}

// openBroker picks the Redis pub/sub broker when Redis is configured.
func (a *App) openBroker(ctx context.Context, m *realtime.Metrics) (realtime.Broker, error) {
	if a.cfg.RedisURL == "" {
		a.log.Info("realtime.broker.local")
		return realtime.NewLocalBroker(a.hub), nil
	}

	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	a.redis = client
	a.closers = append(a.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	a.checks = append(a.checks, readyCheck{name: "redis", fn: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}})

	a.log.Info("realtime.broker.redis", "addr", opts.Addr)
	return realtime.NewRedisBroker(a.log, client, a.hub, m)
}

func (a *App) openNotifier() (chat.Notifier, error) {
	switch a.cfg.Notify.Mode {
	case notify.ModeAsynq:
		n, err := notify.NewAsynqNotifier(a.log, a.cfg.Notify)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n.Close)
		return n, nil
	case notify.ModeOff:
		return chat.NoopNotifier{}, nil
	default:
		return chat.LogNotifier{Log: a.log}, nil
	}
}

// Run starts the HTTP server and the broker, and blocks until context cancellation
// or a fatal error. Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	defer func() { _ = a.Close() }()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}
	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"http_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.pool != nil,
		"redis_enabled", a.redis != nil,
		"auth_mode", a.cfg.Auth.Mode,
	)

	brokerCtx, stopBroker := context.WithCancel(context.Background())
	defer stopBroker()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.broker.Run(brokerCtx); err != nil {
			errCh <- fmt.Errorf("broker: %w", err)
		}
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	a.ws.Shutdown()

	stopBroker()
	wg.Wait()

	a.log.Info("server.stopped")
	return runErr
}

// Close releases every resource opened by New. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	default:
		return "ws://" + httpURL
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
