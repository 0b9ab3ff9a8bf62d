package ingest

import (
	"errors"
	"testing"

	"github.com/findingstore/findingstore/internal/corekit"
)

func TestRunLock_Exclusive(t *testing.T) {
	l := newRunLock()

	release, err := l.TryAcquire(1, "nightly")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := l.TryAcquire(1, "nightly"); !errors.Is(err, corekit.ErrAlreadyOpen) {
		t.Fatalf("second acquire = %v, want already-running", err)
	}

	// Other runs and other products are independent.
	if rel, err := l.TryAcquire(1, "weekly"); err != nil {
		t.Errorf("different run name blocked: %v", err)
	} else {
		rel()
	}
	if rel, err := l.TryAcquire(2, "nightly"); err != nil {
		t.Errorf("different product blocked: %v", err)
	} else {
		rel()
	}

	release()
	if rel, err := l.TryAcquire(1, "nightly"); err != nil {
		t.Errorf("reacquire after release failed: %v", err)
	} else {
		rel()
	}
}
