//go:build !cgo

package dolt

import (
	"context"
	"time"

	"github.com/findingstore/findingstore/internal/types"
)

// ConfigStore is a stub for non-CGO builds, matching store_nocgo.go's
// approach: fail loudly at startup rather than serving a broken store.
type ConfigStore struct{}

// OpenConfig always fails on non-CGO builds.
func OpenConfig(ctx context.Context, cfg *Config) (*ConfigStore, error) {
	return nil, errNoCGO
}

func (s *ConfigStore) Close() error { return nil }

func (s *ConfigStore) CreateProduct(ctx context.Context, p *types.Product) (*types.Product, error) {
	return nil, errNoCGO
}
func (s *ConfigStore) GetProduct(ctx context.Context, id int64) (*types.Product, error) {
	return nil, errNoCGO
}
func (s *ConfigStore) GetProductByEndpoint(ctx context.Context, endpoint string) (*types.Product, error) {
	return nil, errNoCGO
}
func (s *ConfigStore) ListProducts(ctx context.Context) ([]*types.Product, error) {
	return nil, errNoCGO
}
func (s *ConfigStore) RetireProduct(ctx context.Context, id int64) error { return errNoCGO }

func (s *ConfigStore) CreateTask(ctx context.Context, t *types.Task) error { return errNoCGO }
func (s *ConfigStore) GetTask(ctx context.Context, token string) (*types.Task, error) {
	return nil, errNoCGO
}
func (s *ConfigStore) UpdateTaskStatus(ctx context.Context, token string, status types.TaskStatus, errMsg string) error {
	return errNoCGO
}
func (s *ConfigStore) Heartbeat(ctx context.Context, token string) error { return errNoCGO }
func (s *ConfigStore) SetCancelFlag(ctx context.Context, token string) (bool, error) {
	return false, errNoCGO
}
func (s *ConfigStore) SetConsumed(ctx context.Context, token string) error { return errNoCGO }
func (s *ConfigStore) ListTasks(ctx context.Context, f types.TaskFilter, limit, offset int) ([]*types.Task, error) {
	return nil, errNoCGO
}
func (s *ConfigStore) DropStaleRunning(ctx context.Context) (int64, error) { return 0, errNoCGO }
func (s *ConfigStore) ReapDeadHeartbeats(ctx context.Context, maxAge time.Duration) (int64, error) {
	return 0, errNoCGO
}
