// Package app wires the relay server runtime: config, logging, the optional
// session database, the backplane, HTTP routes and graceful shutdown.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"studytracker/cmd/internal/auth/access"
	"studytracker/cmd/internal/backplane"
	"studytracker/cmd/internal/relay"
)

// App owns the process-wide Registry, the relay built on it and every resource
// the relay depends on.
type App struct {
	cfg Config
	log Logger

	metricsReg *prometheus.Registry
	dbPool     *pgxpool.Pool
	backplane  relay.Backplane

	relay   *relay.Relay
	gateway *relay.Gateway
	handler http.Handler

	closeOnce sync.Once
}

// New constructs a fully wired App from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	ctx := context.Background()

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := relay.NewMetrics(metricsReg)

	tokens, err := access.NewTokenManager(cfg.Auth)
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err = NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("db.enabled", "schema", cfg.DBSchema)
	} else {
		log.Info("db.disabled")
	}

	var sessions access.SessionStore
	if cfg.Auth.CheckSession {
		store, err := access.NewPostgresSessionStore(pool, access.WithSchema(cfg.DBSchema))
		if err != nil {
			closePool(pool)
			return nil, err
		}
		sessions = store
	}
	authSvc := access.NewService(tokens, sessions)

	bp, err := backplane.Open(ctx, cfg.Backplane, log)
	if err != nil {
		closePool(pool)
		return nil, err
	}

	rel := relay.New(relay.NewRegistry(),
		relay.WithLogger(log),
		relay.WithMetrics(metrics),
		relay.WithBackplane(bp),
		relay.WithInstanceID(cfg.InstanceID),
	)
	gw := relay.NewGateway(log, rel, authSvc, metrics, cfg.Gateway)

	a := &App{
		cfg:        cfg,
		log:        log,
		metricsReg: metricsReg,
		dbPool:     pool,
		backplane:  bp,
		relay:      rel,
		gateway:    gw,
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, pool, bp, metricsReg, gw)
	a.handler = WithRequestLogging(mux, log)

	log.Info("app.ready",
		"instance", rel.InstanceID(),
		"token_format", string(cfg.Auth.Format),
		"session_check", authSvc.SessionChecking(),
		"backplane", string(cfg.Backplane.Kind),
	)
	return a, nil
}

// Handler returns the root HTTP handler with request logging applied.
func (a *App) Handler() http.Handler { return a.handler }

// Notifier is the in-process entry point for code that mutates study data and
// needs the user's other devices to hear about it.
func (a *App) Notifier() relay.Notifier { return a.relay }

// Run listens on cfg.HTTPAddr and serves until ctx is done or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.Close()
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done. All resources are released on return.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.Close()

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	relayCtx, cancelRelay := context.WithCancel(ctx)
	defer cancelRelay()
	relayErr := make(chan error, 1)
	go func() { relayErr <- a.relay.Run(relayCtx) }()

	addr := ln.Addr().String()
	a.log.Info("server.start", "addr", addr, "ws_url", wsBaseURL(runtimeBaseURL(addr))+"/ws")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var cause error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		cause = err
	case err := <-relayErr:
		if err != nil {
			a.log.Error("relay.backplane.fail", "err", err)
			cause = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Hijacked WebSocket connections are invisible to srv.Shutdown, so the
	// gateway closes them first.
	if err := a.gateway.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("ws.shutdown.incomplete", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if cause == nil {
			cause = err
		}
	}
	cancelRelay()

	a.log.Info("server.stopped")
	return cause
}

// Close releases the backplane and the database pool. Safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.backplane != nil {
			if err := a.backplane.Close(); err != nil {
				a.log.Warn("backplane.close.fail", "err", err)
			}
		}
		closePool(a.dbPool)
	})
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
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

// runtimeBaseURL turns a listen address into a dialable http URL.
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

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
