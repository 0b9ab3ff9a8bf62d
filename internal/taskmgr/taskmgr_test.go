package taskmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

// memTaskStore is an in-memory TaskStore for exercising the Manager
// without a database.
type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*types.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: make(map[string]*types.Task)}
}

func (s *memTaskStore) CreateTask(ctx context.Context, t *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.EnqueuedAt = time.Now().UTC()
	cp := *t
	s.tasks[t.Token] = &cp
	return nil
}

func (s *memTaskStore) GetTask(ctx context.Context, token string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[token]
	if !ok {
		return nil, corekit.New(corekit.KindDatabase, "get_task", corekit.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *memTaskStore) UpdateTaskStatus(ctx context.Context, token string, status types.TaskStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[token]
	if !ok {
		return corekit.ErrNotFound
	}
	t.Status = status
	t.ErrorMessage = errMsg
	now := time.Now().UTC()
	switch status {
	case types.TaskRunning:
		t.StartedAt = &now
	case types.TaskCompleted, types.TaskFailed, types.TaskCancelled, types.TaskDropped:
		t.CompletedAt = &now
	}
	return nil
}

func (s *memTaskStore) Heartbeat(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[token]; ok {
		t.LastHeartbeat = time.Now().UTC()
	}
	return nil
}

func (s *memTaskStore) SetCancelFlag(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[token]
	if !ok {
		return false, corekit.ErrNotFound
	}
	first := !t.CancelFlag
	t.CancelFlag = true
	return first, nil
}

func (s *memTaskStore) SetConsumed(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[token]; ok {
		t.ConsumedFlag = true
	}
	return nil
}

func (s *memTaskStore) ListTasks(ctx context.Context, f types.TaskFilter, limit, offset int) ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Task
	for _, t := range s.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memTaskStore) DropStaleRunning(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.tasks {
		if !t.Status.Terminal() {
			t.Status = types.TaskDropped
			n++
		}
	}
	return n, nil
}

func (s *memTaskStore) ReapDeadHeartbeats(ctx context.Context, maxAge time.Duration) (int64, error) {
	return 0, nil
}

func waitForStatus(t *testing.T, store *memTaskStore, token string, want types.TaskStatus) *types.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetTask(context.Background(), token)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := store.GetTask(context.Background(), token)
	t.Fatalf("task %s never reached %s (last: %+v)", token, want, task)
	return nil
}

func TestManager_RunToCompletion(t *testing.T) {
	store := newMemTaskStore()
	m := New(store, 2, 8, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	ran := make(chan struct{})
	token, err := m.Enqueue(context.Background(), "test", nil, "alice", func(ctx context.Context, hb *Heartbeat) error {
		close(ran)
		return nil
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
	waitForStatus(t, store, token, types.TaskCompleted)
}

func TestManager_FailureSurfacesOnTaskInfo(t *testing.T) {
	store := newMemTaskStore()
	m := New(store, 1, 8, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	token, err := m.Enqueue(context.Background(), "test", nil, "alice", func(ctx context.Context, hb *Heartbeat) error {
		return errors.New("bundle was torn")
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitForStatus(t, store, token, types.TaskFailed)
	info, err := m.GetTaskInfo(context.Background(), token, "alice")
	if err != nil {
		t.Fatalf("get task info: %v", err)
	}
	if info.ErrorMessage != "bundle was torn" {
		t.Errorf("error message = %q", info.ErrorMessage)
	}
	if !info.ConsumedFlag {
		t.Error("terminal read by the owning actor did not consume the record")
	}

	// A read by someone else must not have consumed it first.
	store2 := newMemTaskStore()
	m2 := New(store2, 1, 8, nil)
	token2, _ := m2.Enqueue(context.Background(), "test", nil, "alice", func(ctx context.Context, hb *Heartbeat) error { return nil })
	_ = store2.UpdateTaskStatus(context.Background(), token2, types.TaskCompleted, "")
	info2, err := m2.GetTaskInfo(context.Background(), token2, "bob")
	if err != nil {
		t.Fatalf("get task info: %v", err)
	}
	if info2.ConsumedFlag {
		t.Error("read by a non-owner consumed the record")
	}
}

func TestManager_Cancellation(t *testing.T) {
	store := newMemTaskStore()
	m := New(store, 1, 8, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	started := make(chan struct{})
	token, err := m.Enqueue(context.Background(), "test", nil, "alice", func(ctx context.Context, hb *Heartbeat) error {
		close(started)
		for !hb.Cancelled(ctx) {
			time.Sleep(5 * time.Millisecond)
		}
		return errors.New("stopped at cancellation point")
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	<-started
	first, err := m.CancelTask(context.Background(), token)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !first {
		t.Error("first cancel did not report the transition")
	}
	if again, _ := m.CancelTask(context.Background(), token); again {
		t.Error("second cancel also reported the transition")
	}
	waitForStatus(t, store, token, types.TaskCancelled)
}

func TestManager_QueueFull(t *testing.T) {
	store := newMemTaskStore()
	// Not started: enqueued jobs stay in the channel.
	m := New(store, 1, 1, nil)

	noop := func(ctx context.Context, hb *Heartbeat) error { return nil }
	if _, err := m.Enqueue(context.Background(), "test", nil, "alice", noop); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	_, err := m.Enqueue(context.Background(), "test", nil, "alice", noop)
	if !errors.Is(err, corekit.ErrQueueFull) {
		t.Fatalf("second enqueue = %v, want queue-full", err)
	}
}

func TestManager_DropsStaleTasksOnStart(t *testing.T) {
	store := newMemTaskStore()
	_ = store.CreateTask(context.Background(), &types.Task{Token: "left-over", Kind: "test", Status: types.TaskRunning})

	m := New(store, 1, 8, nil)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	task, err := store.GetTask(context.Background(), "left-over")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.Status != types.TaskDropped {
		t.Errorf("stale task status = %s, want DROPPED", task.Status)
	}
}
