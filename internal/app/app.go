// Package app wires the Plume server runtime: config, logging, persistence,
// the change-feed pipeline, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"plume/internal/auth"
	authapi "plume/internal/auth/api"
	"plume/internal/blog"
	"plume/internal/identity"
	"plume/internal/stream"
)

// Store is a small app-level lifecycle abstraction for DB-backed resources.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Plume server runtime: it owns the HTTP server and the stream
// pipeline (change source -> tap -> router -> subscribers).
type App struct {
	cfg Config
	log Logger

	store     Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	sessions auth.SessionStore
	router   *stream.Router

	authHandler *authapi.Handler
	blogHandler *blog.Handler
	sse         *stream.SSEHandler
	ws          *stream.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	deps, err := newStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	secretHex := cfg.SecretKeyHex
	if secretHex == "" {
		// Ephemeral key: fine for dev, but credentials die with the process.
		secretHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
		log.Warn("credential.key.ephemeral")
	}
	creds, err := auth.NewPasetoManager(auth.CredentialConfig{
		Issuer:       cfg.CredentialIssuer,
		TTL:          cfg.CredentialTTL,
		ClockSkew:    cfg.CredentialClockSkew,
		SecretKeyHex: secretHex,
	})
	if err != nil {
		_ = deps.store.Close(ctx)
		return nil, err
	}

	gate := auth.NewGate(auth.NewVerifier(creds, deps.ids))

	metrics := stream.NewMetrics(prometheus.DefaultRegisterer)
	reg := stream.NewRegistry(metrics)
	tap := stream.NewTap(log, deps.source, metrics)

	return &App{
		cfg:         cfg,
		log:         log,
		store:       deps.store,
		dbPool:      deps.pool,
		dbEnabled:   deps.pool != nil,
		sessions:    deps.sessions,
		router:      stream.NewRouter(log, tap, reg, metrics),
		authHandler: authapi.NewHandler(log, deps.ids, deps.sessions, creds, gate),
		blogHandler: blog.NewHandler(log, deps.blog, deps.ids, deps.sessions, gate),
		sse: stream.NewSSEHandler(log, gate, reg, stream.SSEConfig{
			QueueSize:    cfg.StreamQueueSize,
			KeepAlive:    cfg.StreamKeepAlive,
			WriteTimeout: cfg.StreamWriteTimeout,
		}),
		ws: stream.NewWSGateway(log, gate, reg, stream.WSConfig{
			QueueSize:      cfg.StreamQueueSize,
			WriteTimeout:   cfg.StreamWriteTimeout,
			OriginPatterns: cfg.WSOrigins,
		}),
	}, nil
}

// Run starts the stream router and the HTTP server, blocking until context
// cancellation or a fatal error. A terminal change-source failure stops the
// whole process: supervision restarts it against a healthy upstream.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.authHandler, a.blogHandler, a.sse, a.ws)

	handler := auth.WithSession(mux, a.sessions, auth.SessionCookieOptions{
		Secure: a.cfg.CookieSecure,
		TTL:    a.cfg.SessionTTL,
	}, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(handler, a.log),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		// Zero by default: stream sessions outlive any whole-response
		// deadline and bound their writes per frame instead.
		WriteTimeout:   a.cfg.WriteTimeout,
		IdleTimeout:    a.cfg.IdleTimeout,
		MaxHeaderBytes: a.cfg.MaxHeaderBytes,
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.router.Run(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-gctx.Done():
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
		return nil
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := a.store.Close(closeCtx); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}

	a.log.Info("server.stopped")
	return err
}

// storeDeps bundles the persistence choices made at startup.
type storeDeps struct {
	store Store
	pool  *pgxpool.Pool

	ids      identity.Store
	sessions auth.SessionStore
	blog     blog.Store
	source   stream.ChangeSource
}

// newStore decides between Postgres-backed persistence and the in-memory dev
// store. In memory mode the blog store and the change source share one feed,
// so writes still reach live streams without a database.
func newStore(ctx context.Context, cfg Config, log Logger) (storeDeps, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")

		feed := stream.NewFeed()
		return storeDeps{
			store:    nopStore{},
			ids:      identity.NewMemoryStore(),
			sessions: auth.NewMemorySessionStore(),
			blog:     blog.NewMemoryStore(feed),
			source:   feed,
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return storeDeps{}, err
	}
	log.Info("db.enabled.postgres_store")

	ids, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return storeDeps{}, err
	}
	sessions, err := auth.NewPostgresSessionStore(pool)
	if err != nil {
		pool.Close()
		return storeDeps{}, err
	}
	blogStore, err := blog.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return storeDeps{}, err
	}

	// The change source rides a dedicated LISTEN connection, not the pool.
	source, err := stream.NewPostgresSource(ctx, cfg.DatabaseURL, log)
	if err != nil {
		pool.Close()
		return storeDeps{}, err
	}

	return storeDeps{
		store:    dbStore{pool: pool, source: source},
		pool:     pool,
		ids:      ids,
		sessions: sessions,
		blog:     blogStore,
		source:   source,
	}, nil
}

type dbStore struct {
	pool   *pgxpool.Pool
	source *stream.PostgresSource
}

func (s dbStore) Close(_ context.Context) error {
	if s.source != nil {
		s.source.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
