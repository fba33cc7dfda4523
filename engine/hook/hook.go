// Package hook defines the interface seam the engine uses to notify an
// external hook process of lifecycle events (spec.md §6's hook-event
// table). The hook subsystem itself — child-process supervision, restart
// policy, stdin/stdout protocol — is an out-of-scope external collaborator
// per spec.md §1; this package only provides the contract the engine calls
// into and one concrete implementation grounded on the original's
// exec-a-single-process-per-event model.
package hook

import (
	"context"
	"os/exec"

	"github.com/google/uuid"
)

// Event names the engine invokes a hook for, per spec.md §6.
type Event string

const (
	EventNamespacesInit    Event = "namespaces-init"
	EventNamespaceCreated  Event = "namespace-created"
	EventNamespaceDeleted  Event = "namespace-deleted"
	EventNamespaceUpdated  Event = "namespace-updated"
	EventNamespaceReloaded Event = "namespace-reloaded"
	EventNamespaceClosing  Event = "namespace-closing"
	EventJump              Event = "jump"
	EventReady             Event = "ready"
	EventClose             Event = "close"
	EventCrash             Event = "crash"
)

// Invoker fires a hook event with event-specific arguments.
type Invoker interface {
	Invoke(ctx context.Context, event Event, args ...string) error
}

// ExecInvoker shells out to a configured executable for every event,
// passing the event name, a fresh instance id, and the event's arguments —
// the argument convention of spec.md §6 ("event-name, instance-id, ...
// event-specific").
type ExecInvoker struct {
	Path string
}

// Invoke runs the configured executable and waits for it to exit. A
// non-zero exit or launch failure is returned as an error; the engine's call
// sites discard it (hook failures never abort an engine operation).
func (i ExecInvoker) Invoke(ctx context.Context, event Event, args ...string) error {
	if i.Path == "" {
		return nil
	}
	full := append([]string{string(event), uuid.NewString()}, args...)
	cmd := exec.CommandContext(ctx, i.Path, full...)
	return cmd.Run()
}

// NoopInvoker discards every event; used when no hook executable is
// configured.
type NoopInvoker struct{}

func (NoopInvoker) Invoke(context.Context, Event, ...string) error { return nil }
