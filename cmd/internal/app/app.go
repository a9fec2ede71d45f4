// Package app wires the Parley server runtime: config, logging, stores, the
// freshness watermark, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"parley/cmd/identity"
	"parley/cmd/internal/auth/api"
	"parley/cmd/internal/auth/session"
	"parley/cmd/internal/chat"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is a small app-level lifecycle abstraction for DB-backed resources.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Parley server runtime.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	mark    *chat.Watermark
	metrics *prometheus.Registry

	auth     *api.Handler
	messages *chat.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		st.closeAll()
		return nil, err
	}
	sessions := session.NewService(sessCfg, st.sessions)

	authHandler, err := api.NewHandler(log, api.LoadConfigFromEnv(), st.users, sessions)
	if err != nil {
		st.closeAll()
		return nil, err
	}

	mark := chat.NewWatermark()
	reg := NewMetricsRegistry()
	chatMetrics := chat.NewMetrics(reg, mark)
	chatHandler := chat.NewHandler(log, st.messages, mark, authHandler, chatMetrics)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    st.pool,
		dbEnabled: st.dbEnabled,
		mark:      mark,
		metrics:   reg,
		auth:      authHandler,
		messages:  chatHandler,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or a fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth, a.messages, a.metrics)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
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

// appStores groups the per-domain stores behind one lifecycle.
type appStores struct {
	pool      *pgxpool.Pool
	dbEnabled bool

	users    identity.Store
	sessions session.Store
	messages chat.Store
}

func (s *appStores) Close(_ context.Context) error {
	s.closeAll()
	return nil
}

func (s *appStores) closeAll() {
	// Ownership model: the app owns the pool; store Close methods are no-ops
	// for Postgres-backed stores.
	if s.messages != nil {
		_ = s.messages.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// newStores decides between Postgres-backed persistence and the in-memory
// dev stores. Both modes serve the full API.
func newStores(ctx context.Context, cfg Config, log Logger) (*appStores, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		users := identity.NewMemoryStore()
		return &appStores{
			users:    users,
			sessions: session.NewMemoryStore(),
			messages: chat.NewInMemoryStore(users),
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	messages, err := chat.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("db.enabled.postgres_store")
	return &appStores{
		pool:      pool,
		dbEnabled: true,
		users:     users,
		sessions:  session.NewPostgresStore(pool),
		messages:  messages,
	}, nil
}
