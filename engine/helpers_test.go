package engine

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/zdbio/zdb/engine/hook"
)

func testLogger(t *testing.T) *logrus.Entry {
	t.Helper()
	return logrus.NewEntry(logrus.StandardLogger())
}

func truncateFile(path string, size int64) error {
	return os.Truncate(path, size)
}

// recordingInvoker is a hook.Invoker that records every fired event instead
// of shelling out, so tests can assert on lifecycle hook plumbing without an
// external executable.
type recordingInvoker struct {
	mu     sync.Mutex
	events []hook.Event
}

func (r *recordingInvoker) Invoke(_ context.Context, event hook.Event, _ ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingInvoker) fired(event hook.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}
