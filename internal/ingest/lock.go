package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/findingstore/findingstore/internal/corekit"
)

// runLock is the exclusive (product_id, run_name) lock. It is in-process
// only: one findingstore server owns one product's ingestion path at a
// time, so a process-wide map suffices.
type runLock struct {
	mu      sync.Mutex
	holders map[string]struct{}
}

func newRunLock() *runLock {
	return &runLock{holders: make(map[string]struct{})}
}

func lockKey(productID int64, runName string) string {
	return fmt.Sprintf("%d/%s", productID, runName)
}

// TryAcquire fails fast with corekit.ErrAlreadyOpen (ALREADY_RUNNING) rather
// than blocking: mass_store_run must reject a second
// concurrent call against the same run synchronously, before a Task token
// is even returned, not after entering the background worker.
func (l *runLock) TryAcquire(productID int64, runName string) (release func(), err error) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	metrics.lockWaitMs.Record(context.Background(), float64(time.Since(start).Milliseconds()))

	key := lockKey(productID, runName)
	if _, held := l.holders[key]; held {
		return nil, corekit.New(corekit.KindGeneral, "mass_store_run lock", corekit.ErrAlreadyOpen)
	}
	l.holders[key] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.holders, key)
		l.mu.Unlock()
	}, nil
}
