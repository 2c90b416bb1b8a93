package product

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rickgao/l3book/internal/api"
)

// ErrUnknownProduct is returned when a configured product is not listed by the exchange.
var ErrUnknownProduct = errors.New("unknown product")

// changeBufferSize bounds undelivered changes; older consumers miss changes.
const changeBufferSize = 100

// Source lists the exchange's products.
type Source interface {
	GetProducts(ctx context.Context) ([]api.Product, error)
}

// Config holds Product Registry configuration.
type Config struct {
	ProductIDs         []string
	ReconcileInterval  time.Duration
	InitialLoadTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconcileInterval:  5 * time.Minute,
		InitialLoadTimeout: 30 * time.Second,
	}
}

// Change is a status transition of a configured product.
type Change struct {
	ProductID   string
	EventType   string // "status_change" or "delisted"
	OldStatus   string
	NewStatus   string
	WasTradable bool
	NowTradable bool
	Product     *api.Product
}

// Registry tracks the configured products.
type Registry struct {
	cfg    Config
	source Source
	logger *slog.Logger

	mu         sync.RWMutex
	products   map[string]api.Product
	lastSyncAt time.Time
	changes    chan Change

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a new Product Registry.
func NewRegistry(cfg Config, source Source, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = def.ReconcileInterval
	}
	if cfg.InitialLoadTimeout <= 0 {
		cfg.InitialLoadTimeout = def.InitialLoadTimeout
	}

	return &Registry{
		cfg:      cfg,
		source:   source,
		logger:   logger,
		products: make(map[string]api.Product, len(cfg.ProductIDs)),
		changes:  make(chan Change, changeBufferSize),
	}
}

// Start loads the product list and begins reconciliation in the background.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	loadCtx, cancel := context.WithTimeout(r.ctx, r.cfg.InitialLoadTimeout)
	defer cancel()

	if err := r.initialSync(loadCtx); err != nil {
		r.cancel()
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.reconciliationLoop(r.ctx)
	}()

	r.logger.Info("product registry started",
		"products", len(r.products),
		"reconcile_interval", r.cfg.ReconcileInterval,
	)
	return nil
}

// Stop gracefully shuts down.
func (r *Registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("product registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a configured product.
func (r *Registry) Get(productID string) (api.Product, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[productID]
	return p, ok
}

// Products returns the configured products sorted by id.
func (r *Registry) Products() []api.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]api.Product, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b api.Product) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// LastSync returns when the product list was last fetched.
func (r *Registry) LastSync() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSyncAt
}

// Changes returns status transitions of configured products.
func (r *Registry) Changes() <-chan Change {
	return r.changes
}

func (r *Registry) initialSync(ctx context.Context) error {
	start := time.Now()

	listed, err := r.source.GetProducts(ctx)
	if err != nil {
		return fmt.Errorf("fetch products: %w", err)
	}
	byID := index(listed)

	var missing []string
	for _, id := range r.cfg.ProductIDs {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrUnknownProduct, missing)
	}

	r.mu.Lock()
	for _, id := range r.cfg.ProductIDs {
		p := byID[id]
		r.products[id] = p
		if !p.Tradable() {
			r.logger.Warn("product is not tradable, book may be empty",
				"product", id,
				"status", p.Status,
				"trading_disabled", p.TradingDisabled,
				"status_message", p.StatusMessage,
			)
		}
	}
	r.lastSyncAt = time.Now()
	r.mu.Unlock()

	r.logger.Info("initial product sync complete",
		"listed", len(listed),
		"configured", len(r.cfg.ProductIDs),
		"duration", time.Since(start),
	)
	return nil
}

// reconciliationLoop periodically syncs with REST API.
func (r *Registry) reconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// reconcile refetches the product list and reports transitions.
func (r *Registry) reconcile(ctx context.Context) {
	start := time.Now()

	listed, err := r.source.GetProducts(ctx)
	if err != nil {
		r.logger.Error("reconciliation failed fetching products", "err", err)
		return
	}
	byID := index(listed)

	var changed int

	r.mu.Lock()
	for _, id := range r.cfg.ProductIDs {
		existing := r.products[id]
		p, ok := byID[id]

		if !ok {
			if existing.Status == "delisted" {
				continue
			}
			gone := existing
			gone.Status = "delisted"
			r.products[id] = gone
			r.notify(Change{
				ProductID:   id,
				EventType:   "delisted",
				OldStatus:   existing.Status,
				NewStatus:   gone.Status,
				WasTradable: existing.Tradable(),
			})
			changed++
			continue
		}

		if existing.Status != p.Status || existing.TradingDisabled != p.TradingDisabled {
			r.products[id] = p
			r.notify(Change{
				ProductID:   id,
				EventType:   "status_change",
				OldStatus:   existing.Status,
				NewStatus:   p.Status,
				WasTradable: existing.Tradable(),
				NowTradable: p.Tradable(),
				Product:     &p,
			})
			changed++
			continue
		}
		r.products[id] = p
	}
	r.lastSyncAt = time.Now()
	r.mu.Unlock()

	if changed > 0 {
		r.logger.Info("reconciliation found changes",
			"changed", changed,
			"duration", time.Since(start),
		)
	} else {
		r.logger.Debug("reconciliation complete",
			"listed", len(listed),
			"duration", time.Since(start),
		)
	}
}

// notify sends a change without blocking. Must be called with lock held.
func (r *Registry) notify(c Change) {
	select {
	case r.changes <- c:
	default:
		r.logger.Warn("change channel full, dropping change", "product", c.ProductID)
	}
}

func index(products []api.Product) map[string]api.Product {
	byID := make(map[string]api.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID
}
