// Package registry implements the product registry and connection pool:
// the live map from product id to its per-tenant database pool, plus the
// server-wide configuration store (Products, Tasks) that sits beside the
// per-tenant stores.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/storage"
	"github.com/findingstore/findingstore/internal/storage/dolt"
	"github.com/findingstore/findingstore/internal/types"
)

// Config controls where product databases live and how their pools are
// sized. BaseDir holds one subdirectory per product, named by endpoint;
// ConfigDir holds the reserved server-wide configuration store.
type Config struct {
	BaseDir         string
	ConfigDir       string
	DefaultPoolSize int
	CommitterName   string
	CommitterEmail  string
}

func (c Config) withDefaults() Config {
	if c.DefaultPoolSize <= 0 {
		c.DefaultPoolSize = 8
	}
	return c
}

// entry tracks one open per-product store alongside the DBStatus last
// observed for it, so Accessible can be answered without a DB round trip
// on every caller's hot path.
type entry struct {
	store      storage.Store
	status     types.DBStatus
	accessible bool
}

// Registry is the live product_id → connection pool map plus the Product
// CRUD surface It owns the server-wide configuration store
// and lazily opens one per-product store on first use.
type Registry struct {
	cfg Config
	log *zap.SugaredLogger

	cfgStore *dolt.ConfigStore

	mu      sync.RWMutex
	entries map[int64]*entry
}

// Open opens the server-wide configuration store and returns a ready
// Registry; per-product stores are opened lazily by Open(productID).
func Open(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*Registry, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfgStore, err := dolt.OpenConfig(ctx, &dolt.Config{
		Path:           cfg.ConfigDir,
		Database:       "reportstore_config",
		CommitterName:  cfg.CommitterName,
		CommitterEmail: cfg.CommitterEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	return &Registry{cfg: cfg, log: log, cfgStore: cfgStore, entries: make(map[int64]*entry)}, nil
}

// Close closes every open per-product store and the configuration store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, e := range r.entries {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close product %d: %w", id, err)
		}
	}
	r.entries = make(map[int64]*entry)
	if err := r.cfgStore.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// CreateProduct registers a new tenant (SUPERUSER-only at the façade).
func (r *Registry) CreateProduct(ctx context.Context, p *types.Product) (*types.Product, error) {
	return r.cfgStore.CreateProduct(ctx, p)
}

// GetProduct looks up a product by id.
func (r *Registry) GetProduct(ctx context.Context, id int64) (*types.Product, error) {
	return r.cfgStore.GetProduct(ctx, id)
}

// GetProductByEndpoint looks up a product by its URL-safe slug.
func (r *Registry) GetProductByEndpoint(ctx context.Context, endpoint string) (*types.Product, error) {
	return r.cfgStore.GetProductByEndpoint(ctx, endpoint)
}

// ListProducts returns every non-retired product.
func (r *Registry) ListProducts(ctx context.Context) ([]*types.Product, error) {
	return r.cfgStore.ListProducts(ctx)
}

// RetireProduct marks a product retired (SUPERUSER-only) and closes its
// pool; in-flight operations against the pool's existing connections are
// left to complete or fail on their own.
func (r *Registry) RetireProduct(ctx context.Context, id int64) error {
	if err := r.cfgStore.RetireProduct(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if ok {
		_ = e.store.Close()
	}
	return nil
}

// Open returns the per-product Store for id, opening its embedded Dolt
// directory on first use. Concurrent callers for the same product share
// one pool.
func (r *Registry) Open(ctx context.Context, id int64) (storage.Store, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		return e.store, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok { // re-check: a racing caller may have opened it first
		return e.store, nil
	}

	product, err := r.cfgStore.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve product %d: %w", id, err)
	}

	store, err := dolt.Open(ctx, &dolt.Config{
		Path:           filepath.Join(r.cfg.BaseDir, product.Endpoint),
		CommitterName:  r.cfg.CommitterName,
		CommitterEmail: r.cfg.CommitterEmail,
		MaxOpenConns:   r.cfg.DefaultPoolSize,
	})
	if err != nil {
		r.log.Errorw("open product store failed", "product_id", id, "endpoint", product.Endpoint, "error", err)
		return nil, corekit.New(corekit.KindDatabase, "registry_open", err)
	}

	status, statusErr := store.SchemaStatus(ctx)
	if statusErr != nil {
		status = types.DBStatusFailedToConnect
	}
	r.entries[id] = &entry{store: store, status: status, accessible: status.Servable()}
	return store, nil
}

// Status reports the last-observed DBStatus for a product without forcing
// a pool open; an unopened product reports DBStatusMissing.
func (r *Registry) Status(id int64) types.DBStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return types.DBStatusMissing
	}
	return e.status
}

// Refresh re-queries SchemaStatus for an open product and updates the
// cached accessible flag, called by the façade before any read/write that
// isn't already inside Open.
func (r *Registry) Refresh(ctx context.Context, id int64) (types.DBStatus, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return types.DBStatusMissing, nil
	}
	status, err := e.store.SchemaStatus(ctx)
	if err != nil {
		status = types.DBStatusFailedToConnect
	}
	r.mu.Lock()
	e.status = status
	e.accessible = status.Servable()
	r.mu.Unlock()
	return status, err
}

// Accessible reports whether queries may currently be served for id.
func (r *Registry) Accessible(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.accessible
}

// Upgrade runs the per-product schema upgrade for a store reporting
// DBStatusMismatchOK; the upgrade never runs implicitly, an
// administrator has to ask for it.
func (r *Registry) Upgrade(ctx context.Context, id int64) error {
	store, err := r.Open(ctx, id)
	if err != nil {
		return err
	}
	if err := store.Upgrade(ctx); err != nil {
		return err
	}
	_, err = r.Refresh(ctx, id)
	return err
}

// Tasks exposes the configuration store's task persistence to the Task
// Manager, which owns the in-process worker pool and scheduling but
// not the durable record.
func (r *Registry) Tasks() *dolt.ConfigStore { return r.cfgStore }
