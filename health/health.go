// Package health exposes a registry of named Checkers and a /debug/health
// HTTP handler that reports their status as JSON, adapted from the wider
// corpus' health-check package: cmd/zdbd registers one checker per loaded
// namespace that reports its DEGRADED state.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/zdbio/zdb/internal/dcontext"
)

func init() {
	DefaultRegistry = NewRegistry()
	http.HandleFunc("/debug/health", StatusHandler)
}

// Registry is a collection of checks. Most applications use the global
// DefaultRegistry; tests may construct their own to stay isolated.
type Registry struct {
	mu               sync.RWMutex
	registeredChecks map[string]Checker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		registeredChecks: make(map[string]Checker),
	}
}

// DefaultRegistry is the registry used by StatusHandler.
var DefaultRegistry *Registry

// Checker reports nil when the checked component is healthy.
type Checker interface {
	Check(context.Context) error
}

// CheckFunc adapts a plain function to the Checker interface.
type CheckFunc func(context.Context) error

// Check implements Checker.
func (cf CheckFunc) Check(ctx context.Context) error {
	return cf(ctx)
}

// Updater is a Checker whose status is set explicitly rather than computed
// on every Check call, so that an expensive or blocking check (e.g. probing
// a namespace's lock state) can run on its own schedule.
type Updater interface {
	Checker
	Update(status error)
}

type updater struct {
	mu     sync.Mutex
	status error
}

func (u *updater) Check(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

func (u *updater) Update(status error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status = status
}

// NewStatusUpdater returns a new Updater with nil (healthy) initial status.
func NewStatusUpdater() Updater {
	return &updater{}
}

type pollingTerminatedErr struct{ Err error }

func (e pollingTerminatedErr) Error() string {
	return fmt.Sprintf("health: check is not polled: %v", e.Err)
}

func (e pollingTerminatedErr) Unwrap() error { return e.Err }

// Poll periodically calls c and feeds the result into u until ctx is done.
func Poll(ctx context.Context, u Updater, c Checker, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			u.Update(pollingTerminatedErr{Err: ctx.Err()})
			return
		case <-t.C:
			u.Update(c.Check(ctx))
		}
	}
}

// CheckStatus returns the current error (if any) of every registered check.
func (registry *Registry) CheckStatus(ctx context.Context) map[string]string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	statusKeys := make(map[string]string)
	for k, v := range registry.registeredChecks {
		if err := v.Check(ctx); err != nil {
			statusKeys[k] = err.Error()
		}
	}
	return statusKeys
}

// CheckStatus reports the DefaultRegistry's status.
func CheckStatus(ctx context.Context) map[string]string {
	return DefaultRegistry.CheckStatus(ctx)
}

// Register associates check with name. Panics if name is already registered,
// since that indicates two namespaces (or subsystems) colliding on a name.
func (registry *Registry) Register(name string, check Checker) {
	if registry == nil {
		registry = DefaultRegistry
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.registeredChecks[name]; ok {
		panic("health: check already registered: " + name)
	}
	registry.registeredChecks[name] = check
}

// Register associates check with name on the DefaultRegistry.
func Register(name string, check Checker) {
	DefaultRegistry.Register(name, check)
}

// Unregister removes name from the registry, if present.
func (registry *Registry) Unregister(name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.registeredChecks, name)
}

// Unregister removes name from the DefaultRegistry.
func Unregister(name string) {
	DefaultRegistry.Unregister(name)
}

// StatusHandler writes a JSON object of check-name -> error-string for every
// failing check. Returns 503 if any check is failing, 200 otherwise.
func StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	checks := CheckStatus(r.Context())
	status := http.StatusOK
	if len(checks) != 0 {
		status = http.StatusServiceUnavailable
	}

	statusResponse(w, r, status, checks)
}

func statusResponse(w http.ResponseWriter, r *http.Request, status int, checks map[string]string) {
	p, err := json.Marshal(checks)
	if err != nil {
		dcontext.GetLogger(r.Context()).Errorf("error serializing health status: %v", err)
		p, err = json.Marshal(struct {
			ServerError string `json:"server_error"`
		}{ServerError: "could not serialize health status"})
		status = http.StatusInternalServerError
		if err != nil {
			dcontext.GetLogger(r.Context()).Errorf("error serializing health status failure message: %v", err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", fmt.Sprint(len(p)))
	w.WriteHeader(status)
	if _, err := w.Write(p); err != nil {
		dcontext.GetLogger(r.Context()).Errorf("error writing health status response body: %v", err)
	}
}
