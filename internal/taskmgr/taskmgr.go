// Package taskmgr implements the background task manager: a single
// in-process task queue with a bounded worker pool, backed by the
// persisted Task records in the server-wide configuration store so
// status survives a restart.
package taskmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

// heartbeatInterval is how often a running task refreshes
// last_heartbeat; the reaper treats anything older than
// deadHeartbeatAge as dead.
const heartbeatInterval = 30 * time.Second

// reaperInterval is how often the background reaper scans for tasks whose
// heartbeat has gone stale.
const reaperInterval = 15 * time.Second

// deadHeartbeatAge is the staleness threshold past which the reaper
// declares a running task dead.
const deadHeartbeatAge = 120 * time.Second

// TaskStore is the durable side of the Task Manager: the persisted Task
// records in the server-wide configuration store. *dolt.ConfigStore
// satisfies it; tests substitute an in-memory implementation.
type TaskStore interface {
	CreateTask(ctx context.Context, t *types.Task) error
	GetTask(ctx context.Context, token string) (*types.Task, error)
	UpdateTaskStatus(ctx context.Context, token string, status types.TaskStatus, errMsg string) error
	Heartbeat(ctx context.Context, token string) error
	SetCancelFlag(ctx context.Context, token string) (bool, error)
	SetConsumed(ctx context.Context, token string) error
	ListTasks(ctx context.Context, f types.TaskFilter, limit, offset int) ([]*types.Task, error)
	DropStaleRunning(ctx context.Context) (int64, error)
	ReapDeadHeartbeats(ctx context.Context, maxAge time.Duration) (int64, error)
}

// RunFunc is the body of a background task. It must poll Heartbeat's
// Cancelled method at cooperative suspension points and return promptly
// once it observes cancellation.
type RunFunc func(ctx context.Context, hb *Heartbeat) error

// Heartbeat lets a running task refresh its liveness and check for a
// cooperative cancellation request without reaching into the config store
// directly.
type Heartbeat struct {
	token string
	store TaskStore
}

// Beat refreshes last_heartbeat. Callers should call this at least once
// per heartbeatInterval during long-running work.
func (h *Heartbeat) Beat(ctx context.Context) error {
	return h.store.Heartbeat(ctx, h.token)
}

// Cancelled reports whether cancel_task has been called for this task.
// Errors are treated as "not cancelled": a transient read failure should
// not abort an otherwise-healthy ingestion.
func (h *Heartbeat) Cancelled(ctx context.Context) bool {
	t, err := h.store.GetTask(ctx, h.token)
	if err != nil {
		return false
	}
	return t.CancelFlag
}

// job is one unit of queued work awaiting a worker slot.
type job struct {
	token     string
	kind      string
	productID *int64
	actor     string
	run       RunFunc
}

// Manager is the Task Manager: it persists Task records via a TaskStore
// and drains a bounded in-memory queue with a bounded
// worker pool (golang.org/x/sync/semaphore), one goroutine per accepted
// job, ordered FIFO overall (a superset of the required "FIFO per kind").
type Manager struct {
	store TaskStore
	log   *zap.SugaredLogger

	sem   *semaphore.Weighted
	queue chan *job
	qlen  int64
	qmu   sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Manager. workers bounds concurrent RunFunc execution
// (a non-positive value falls back to 4); queueCapacity bounds how many
// jobs may be waiting for a worker before Enqueue rejects with
// corekit.ErrQueueFull.
func New(store TaskStore, workers, queueCapacity int, log *zap.SugaredLogger) *Manager {
	if workers <= 0 {
		workers = 4
	}
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		store: store,
		log:   log,
		sem:   semaphore.NewWeighted(int64(workers)),
		queue: make(chan *job, queueCapacity),
	}
}

// Start launches the dispatch loop and the heartbeat reaper. It also
// transitions any tasks left RUNNING/ENQUEUED by a prior process instance
// to DROPPED: the work they represented died with that process.
func (m *Manager) Start(ctx context.Context) error {
	if n, err := m.store.DropStaleRunning(ctx); err != nil {
		return fmt.Errorf("drop stale tasks at startup: %w", err)
	} else if n > 0 {
		m.log.Infow("dropped stale tasks from prior process", "count", n)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(2)
	go m.dispatchLoop(runCtx)
	go m.reapLoop(runCtx)
	return nil
}

// Stop signals the dispatch and reaper loops to exit and waits for them.
// In-flight jobs are not interrupted; cancel them individually first if
// that is required.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Enqueue registers a new Task in ENQUEUED status and schedules run to
// execute once a worker slot is free. It returns the Task token
// immediately, so the caller's RPC handler can hand it back before the
// work starts.
func (m *Manager) Enqueue(ctx context.Context, kind string, productID *int64, actor string, run RunFunc) (string, error) {
	token := uuid.NewString()
	task := &types.Task{
		Token:     token,
		Kind:      kind,
		Status:    types.TaskEnqueued,
		ProductID: productID,
		Actor:     actor,
	}
	if err := m.store.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("persist task: %w", err)
	}

	j := &job{token: token, kind: kind, productID: productID, actor: actor, run: run}
	select {
	case m.queue <- j:
		m.qmu.Lock()
		m.qlen++
		m.qmu.Unlock()
		metrics.queueDepth.Add(ctx, 1)
		metrics.enqueued.Add(ctx, 1)
		return token, nil
	default:
		_ = m.store.UpdateTaskStatus(ctx, token, types.TaskDropped, corekit.ErrQueueFull.Error())
		return "", corekit.New(corekit.KindGeneral, "enqueue_task", corekit.ErrQueueFull)
	}
}

// dispatchLoop pulls jobs off the queue and, once a semaphore slot is
// free, runs each on its own goroutine so a slow task never blocks
// dequeuing of independent work.
func (m *Manager) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-m.queue:
			if !ok {
				return
			}
			m.qmu.Lock()
			m.qlen--
			m.qmu.Unlock()
			metrics.queueDepth.Add(ctx, -1)

			if err := m.sem.Acquire(ctx, 1); err != nil {
				return
			}
			m.wg.Add(1)
			go func(j *job) {
				defer m.wg.Done()
				defer m.sem.Release(1)
				m.execute(ctx, j)
			}(j)
		}
	}
}

// execute runs one job's RunFunc, persisting the resulting terminal
// status and heartbeating in the background for the duration of the
// call.
func (m *Manager) execute(ctx context.Context, j *job) {
	start := time.Now()
	if err := m.store.UpdateTaskStatus(ctx, j.token, types.TaskRunning, ""); err != nil {
		m.log.Errorw("mark task running failed", "token", j.token, "error", err)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go m.heartbeatLoop(hbCtx, j.token)

	hb := &Heartbeat{token: j.token, store: m.store}
	err := j.run(ctx, hb)
	metrics.durationMs.Record(ctx, float64(time.Since(start).Milliseconds()))

	switch {
	case err == nil:
		_ = m.store.UpdateTaskStatus(ctx, j.token, types.TaskCompleted, "")
		metrics.completed.Add(ctx, 1)
	case hb.Cancelled(ctx):
		_ = m.store.UpdateTaskStatus(ctx, j.token, types.TaskCancelled, err.Error())
		metrics.cancelled.Add(ctx, 1)
	default:
		_ = m.store.UpdateTaskStatus(ctx, j.token, types.TaskFailed, err.Error())
		metrics.failed.Add(ctx, 1)
		m.log.Warnw("task failed", "token", j.token, "kind", j.kind, "error", err)
	}
}

// heartbeatLoop refreshes last_heartbeat until ctx is cancelled (the job
// finished, or Stop/process shutdown).
func (m *Manager) heartbeatLoop(ctx context.Context, token string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.Heartbeat(ctx, token); err != nil {
				m.log.Warnw("heartbeat failed", "token", token, "error", err)
			}
		}
	}
}

// reapLoop periodically marks RUNNING tasks whose heartbeat has gone
// stale as DROPPED.
func (m *Manager) reapLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.ReapDeadHeartbeats(ctx, deadHeartbeatAge)
			if err != nil {
				m.log.Warnw("reap dead heartbeats failed", "error", err)
				continue
			}
			if n > 0 {
				metrics.dropped.Add(ctx, n)
				m.log.Infow("reaped tasks with stale heartbeats", "count", n)
			}
		}
	}
}

// GetTaskInfo returns a Task's current record. When the task's own actor
// reads a terminal status, the record is marked consumed (eligible for
// later GC); reads by anyone else never consume.
func (m *Manager) GetTaskInfo(ctx context.Context, token, actor string) (*types.Task, error) {
	t, err := m.store.GetTask(ctx, token)
	if err != nil {
		return nil, err
	}
	if t.Actor == actor && t.Status.Terminal() && !t.ConsumedFlag {
		if err := m.store.SetConsumed(ctx, token); err != nil {
			m.log.Warnw("mark task consumed failed", "token", token, "error", err)
		} else {
			t.ConsumedFlag = true
		}
	}
	return t, nil
}

// GetTasks is the admin-only listing query; it never consumes.
func (m *Manager) GetTasks(ctx context.Context, f types.TaskFilter, limit, offset int) ([]*types.Task, error) {
	return m.store.ListTasks(ctx, f, limit, offset)
}

// CancelTask sets cancel_flag and reports whether this call was the one
// that transitioned it.
func (m *Manager) CancelTask(ctx context.Context, token string) (bool, error) {
	return m.store.SetCancelFlag(ctx, token)
}
