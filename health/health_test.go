package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestReturns200IfThereAreNoChecks ensures that the result code of the health
// endpoint is 200 if there are not currently registered checks.
func TestReturns200IfThereAreNoChecks(t *testing.T) {
	DefaultRegistry = NewRegistry()
	recorder := httptest.NewRecorder()

	req, err := http.NewRequest(http.MethodGet, "https://fakeurl.com/debug/health", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	StatusHandler(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("did not get a 200, got %d", recorder.Code)
	}
}

// TestReturns503IfThereAreErrorChecks ensures that the result code of the
// health endpoint is 503 if there are health checks with errors.
func TestReturns503IfThereAreErrorChecks(t *testing.T) {
	DefaultRegistry = NewRegistry()
	recorder := httptest.NewRecorder()

	req, err := http.NewRequest(http.MethodGet, "https://fakeurl.com/debug/health", nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	Register("some_check", CheckFunc(func(context.Context) error {
		return errors.New("this check did not succeed")
	}))

	StatusHandler(recorder, req)

	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("did not get a 503, got %d", recorder.Code)
	}
}

// TestUnregisterRemovesCheck ensures a namespace's checker stops affecting
// the aggregate status once unregistered, mirroring namespace deletion.
func TestUnregisterRemovesCheck(t *testing.T) {
	DefaultRegistry = NewRegistry()

	Register("ns-a", CheckFunc(func(context.Context) error {
		return errors.New("namespace degraded")
	}))

	checks := CheckStatus(context.Background())
	if len(checks) != 1 {
		t.Fatalf("expected 1 failing check, got %d", len(checks))
	}

	Unregister("ns-a")

	checks = CheckStatus(context.Background())
	if len(checks) != 0 {
		t.Fatalf("expected 0 failing checks after unregister, got %d", len(checks))
	}
}

func TestStatusUpdater(t *testing.T) {
	updater := NewStatusUpdater()

	if err := updater.Check(context.Background()); err != nil {
		t.Fatalf("expected nil status initially, got %v", err)
	}

	updater.Update(fmt.Errorf("now failing"))
	if err := updater.Check(context.Background()); err == nil {
		t.Fatal("expected a failing status after Update")
	}

	updater.Update(nil)
	if err := updater.Check(context.Background()); err != nil {
		t.Fatalf("expected nil status after clearing, got %v", err)
	}
}

func TestPoll(t *testing.T) {
	type ContextKey struct{}

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ContextKey{}, t.Name()))
	defer cancel()

	checkerCalled := make(chan struct{})
	checker := CheckFunc(func(ctx context.Context) error {
		if v, ok := ctx.Value(ContextKey{}).(string); !ok || v != t.Name() {
			t.Errorf("unexpected context passed into checker: got %q, want %q", v, t.Name())
		}
		select {
		case <-checkerCalled:
		default:
			close(checkerCalled)
		}
		return nil
	})

	updater := NewStatusUpdater()
	pollReturned := make(chan struct{})
	go func() {
		Poll(ctx, updater, checker, time.Millisecond)
		close(pollReturned)
	}()

	select {
	case <-checkerCalled:
	case <-time.After(time.Second):
		t.Error("checker has not been polled")
	}

	cancel()

	select {
	case <-pollReturned:
	case <-time.After(time.Second):
		t.Error("poll has not returned after context was canceled")
	}

	if err := updater.Check(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("updater.Check() = %v; want %v", err, context.Canceled)
	}
}
