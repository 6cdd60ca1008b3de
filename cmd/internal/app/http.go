package app

import (
	"context"
	"net/http"
	"time"
)

// readyCheck is one dependency probed by /readyz.
type readyCheck struct {
	name string
	fn   func(ctx context.Context) error
}

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && a.pool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for _, c := range a.checks {
			if err := c.fn(ctx); err != nil {
				http.Error(w, c.name+" not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.not_ready", "dependency", c.name, "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", MetricsHandler(a.reg))
	mux.Handle("GET /ws", a.ws)

	a.chatAPI.Register(mux)
}

// Handler returns the fully wrapped HTTP handler of the app.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var h http.Handler = mux
	h = WithHTTPMetrics(h, a.httpMetrics)
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRequestLogging(h, a.log)
	h = WithRecover(h, a.log)
	h = WithRequestID(h)
	return h
}
