package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/l3book/internal/api"
	"github.com/rickgao/l3book/internal/auth"
	"github.com/rickgao/l3book/internal/config"
	"github.com/rickgao/l3book/internal/connection"
	"github.com/rickgao/l3book/internal/database"
	"github.com/rickgao/l3book/internal/metrics"
	"github.com/rickgao/l3book/internal/model"
	"github.com/rickgao/l3book/internal/poller"
	"github.com/rickgao/l3book/internal/product"
	"github.com/rickgao/l3book/internal/publish"
	"github.com/rickgao/l3book/internal/replica"
	"github.com/rickgao/l3book/internal/router"
	"github.com/rickgao/l3book/internal/writer"
)

const shutdownTimeout = 30 * time.Second

// stopper is a started component, stopped in reverse start order.
type stopper struct {
	name string
	stop func(context.Context) error
}

// app holds every component of a bookd process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	reg    *prometheus.Registry

	client   *api.Client
	products *product.Registry
	conn     connection.Manager
	router   router.Router
	replicas []*replica.Replica
	byID     map[string]*replica.Replica
	quotes   chan model.Quote

	// Created during start when enabled. livePool is the same pool, read by
	// the status server.
	pool      *pgxpool.Pool
	livePool  atomic.Pointer[pgxpool.Pool]
	matches   *writer.MatchWriter
	books     *writer.BookWriter
	poller    *poller.Poller
	publisher *publish.QuotePublisher

	started []stopper
}

// newApp builds the components. Nothing touches the network until run.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		reg:    metrics.Init(logger),
		byID:   make(map[string]*replica.Replica, len(cfg.Products)),
	}

	var creds *auth.Credentials
	if cfg.API.HasCredentials() {
		c, err := auth.NewCredentials(cfg.API.Key, cfg.API.Secret, cfg.API.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("api credentials: %w", err)
		}
		creds = c
	}

	opts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	}
	if creds != nil {
		opts = append(opts, api.WithCredentials(creds))
	}
	a.client = api.NewClient(cfg.API.RestURL, opts...)

	registryCfg := product.DefaultConfig()
	registryCfg.ProductIDs = cfg.Products
	a.products = product.NewRegistry(registryCfg, a.client, logger)

	connCfg := connection.DefaultManagerConfig()
	connCfg.WSURL = cfg.API.WSURL
	connCfg.ProductIDs = cfg.Products
	connCfg.Channels = cfg.Connection.Channels
	connCfg.Credentials = creds
	connCfg.ReconnectBaseWait = cfg.Connection.ReconnectBaseDelay
	connCfg.ReconnectMaxWait = cfg.Connection.ReconnectMaxDelay
	connCfg.Client.PingInterval = cfg.Connection.PingInterval
	connCfg.Client.PingTimeout = cfg.Connection.PingTimeout
	connCfg.Client.WriteTimeout = cfg.Connection.WriteTimeout
	connCfg.Client.BufferSize = cfg.Connection.BufferSize
	a.conn = connection.NewManager(connCfg, logger)

	routerCfg := router.DefaultRouterConfig()
	routerCfg.ProductBufferSize = cfg.Book.EventBuffer
	if cfg.Database.Enabled {
		routerCfg.MatchBufferSize = cfg.Writers.BufferSize
		routerCfg.MatchBufferLimit = cfg.Writers.BufferSize * 10
	}
	a.router = router.NewRouter(routerCfg, cfg.Products, a.conn.Messages(), logger)

	if cfg.Kafka.Enabled() {
		a.quotes = make(chan model.Quote, cfg.Kafka.QuoteBuffer)
	}

	eviction, err := replica.ParseEviction(cfg.Book.Eviction)
	if err != nil {
		return nil, err
	}
	for _, id := range cfg.Products {
		events, ok := a.router.Events(id)
		if !ok {
			return nil, fmt.Errorf("no event channel for %s", id)
		}
		rcfg := replica.Config{
			ProductID:       id,
			MaxPending:      cfg.Book.MaxPending,
			Eviction:        eviction,
			SnapshotTimeout: cfg.Book.SnapshotTimeout,
			RetryBaseWait:   cfg.Book.ResyncBaseDelay,
			RetryMaxWait:    cfg.Book.ResyncMaxDelay,
		}
		if a.quotes != nil {
			rcfg.Quotes = a.quotes
		}
		r := replica.New(rcfg, a.client, events, logger)
		a.replicas = append(a.replicas, r)
		a.byID[id] = r
	}

	return a, nil
}

// run starts everything, serves HTTP and blocks until ctx is done or a
// component fails, then shuts down.
func (a *app) run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Health server comes up first so startup can be watched.
	g.Go(func() error {
		a.logger.Info("starting http server", "port", a.cfg.Metrics.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := a.start(gctx)
		if err == nil {
			a.logger.Info("bookd running",
				"instance_id", a.cfg.Instance.ID,
				"products", len(a.replicas),
				"health_url", fmt.Sprintf("http://localhost:%d/health", a.cfg.Metrics.Port),
			)
			a.watch(gctx)
		} else if gctx.Err() != nil {
			a.logger.Warn("startup interrupted", "error", err)
			err = nil
		}

		a.logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.shutdown(shutdownCtx)
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Warn("http server shutdown", "error", serr)
		}
		return err
	})

	return g.Wait()
}

// start brings components up in an order whose reverse is a clean shutdown:
// the feed stops first, then the final checkpoint, then the consumers.
func (a *app) start(ctx context.Context) error {
	a.logger.Info("starting product registry (initial sync)...")
	if err := a.products.Start(ctx); err != nil {
		return fmt.Errorf("start product registry: %w", err)
	}
	a.push("product registry", a.products.Stop)

	if a.cfg.Database.Enabled {
		pg := a.cfg.Database.Postgres
		a.logger.Info("connecting to database", "host", pg.Host, "port", pg.Port, "database", pg.Name)
		pool, err := database.Open(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.pool = pool
		a.livePool.Store(pool)
		a.push("database", func(context.Context) error {
			a.livePool.Store(nil)
			pool.Close()
			return nil
		})
		a.logger.Info("database connected", "migrated", a.cfg.Database.Migrate)
	}

	if a.quotes != nil {
		pubCfg := publish.DefaultConfig()
		pubCfg.Brokers = a.cfg.Kafka.Brokers
		pubCfg.Topic = a.cfg.Kafka.Topic
		pubCfg.BatchTimeout = a.cfg.Kafka.BatchTimeout
		a.publisher = publish.NewQuotePublisher(pubCfg, a.quotes, a.logger)
		if err := a.publisher.Start(ctx); err != nil {
			return fmt.Errorf("start quote publisher: %w", err)
		}
		a.push("quote publisher", a.publisher.Stop)
	}

	if a.pool != nil {
		wcfg := writer.WriterConfig{
			BatchSize:     a.cfg.Writers.BatchSize,
			FlushInterval: a.cfg.Writers.FlushInterval,
		}
		a.matches = writer.NewMatchWriter(wcfg, a.router.Matches(), a.pool, a.logger)
		if err := a.matches.Start(ctx); err != nil {
			return fmt.Errorf("start match writer: %w", err)
		}
		a.push("match writer", a.matches.Stop)
		a.books = writer.NewBookWriter(a.cfg.Instance.ID, a.pool, a.logger)
	}

	for _, r := range a.replicas {
		if err := r.Start(ctx); err != nil {
			return fmt.Errorf("start replica %s: %w", r.ProductID(), err)
		}
		a.push("replica "+r.ProductID(), r.Stop)
	}

	if err := a.router.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}
	a.push("router", a.router.Stop)

	if a.books != nil {
		pcfg := poller.DefaultConfig()
		pcfg.Interval = a.cfg.Checkpoint.Interval
		pcfg.Concurrency = a.cfg.Checkpoint.Concurrency
		books := make([]poller.Book, len(a.replicas))
		for i, r := range a.replicas {
			books[i] = r
		}
		a.poller = poller.New(pcfg, books, a.books, a.logger)
		if err := a.poller.Start(ctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
		a.push("poller", a.poller.Stop)
	}

	if err := a.conn.Start(ctx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}
	a.push("connection manager", a.conn.Stop)
	return nil
}

func (a *app) push(name string, stop func(context.Context) error) {
	a.started = append(a.started, stopper{name: name, stop: stop})
}

// shutdown stops started components in reverse order. Errors are logged and
// do not halt the remaining stops.
func (a *app) shutdown(ctx context.Context) {
	for i := len(a.started) - 1; i >= 0; i-- {
		s := a.started[i]
		if err := s.stop(ctx); err != nil {
			a.logger.Warn("component stop failed", "component", s.name, "error", err)
			continue
		}
		a.logger.Debug("component stopped", "component", s.name)
	}
	a.started = nil
}

// watch reacts to feed reconnects and product status changes until ctx is
// done. A reconnect means events were missed, so every replica resyncs
// rather than waiting for its next gap.
func (a *app) watch(ctx context.Context) {
	status := a.conn.Status()
	changes := a.products.Changes()
	for {
		select {
		case <-ctx.Done():
			return

		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			switch st.Kind {
			case connection.StatusConnected:
				a.logger.Info("feed connected", "session", st.Session)
				if st.Session > 1 {
					a.resyncAll("reconnect")
				}
			case connection.StatusDisconnected:
				a.logger.Warn("feed disconnected", "session", st.Session, "error", st.Err)
			}

		case ch := <-changes:
			a.logger.Info("product status changed",
				"product", ch.ProductID,
				"event", ch.EventType,
				"old_status", ch.OldStatus,
				"new_status", ch.NewStatus,
			)
			if ch.NowTradable && !ch.WasTradable {
				if r, ok := a.byID[ch.ProductID]; ok {
					r.Resync("product_online")
				}
			}
		}
	}
}

func (a *app) resyncAll(reason string) {
	for _, r := range a.replicas {
		if !r.Resync(reason) {
			a.logger.Debug("resync already pending", "product", r.ProductID(), "reason", reason)
		}
	}
}

// handler assembles the status server from the running components.
func (a *app) handler() http.Handler {
	s := &statusServer{
		instanceID:  a.cfg.Instance.ID,
		replicas:    a.replicas,
		conn:        a.conn,
		router:      a.router,
		metricsPath: a.cfg.Metrics.Path,
		metrics:     metrics.Handler(a.reg),
		logger:      a.logger,
	}
	if a.cfg.Database.Enabled {
		s.db = pingFunc(func(ctx context.Context) error {
			pool := a.livePool.Load()
			if pool == nil {
				return errors.New("not connected")
			}
			return pool.Ping(ctx)
		})
	}
	return s.routes()
}
