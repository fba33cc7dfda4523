// Package engine implements the append-only, on-disk key-value storage
// core: split data/index logs, the in-memory hash index, crash-safe
// replay, the sequential-mode fixed-slot overwrite protocol, and the
// namespace lifecycle that ties them together. The RESP wire protocol,
// command dispatch, authentication, hook-process supervision, CLI/daemon
// flags, and offline tools (dump/compaction/rebuild) are explicit
// collaborators outside this package.
package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zdbio/zdb/engine/hook"
	"github.com/zdbio/zdb/internal/dcontext"
	"github.com/zdbio/zdb/internal/fsutil"
	"github.com/zdbio/zdb/metrics"
)

// Settings configures an Engine, mirroring spec.md §6.
type Settings struct {
	Datapath  string
	Indexpath string
	Mode      Mode
	Sync      bool
	SyncTime  time.Duration
	DataSize  uint32 // per-data-file rotation threshold
	MaxSize   uint64 // default per-namespace quota, 0 = unlimited
	Hook      string

	// BucketBits overrides the default 2^24 in-memory bucket array size;
	// zero selects defaultBucketBits. Tests use a small value to avoid the
	// 16M-pointer allocation spec.md §3's default implies.
	BucketBits uint
}

const defaultNamespaceName = "default"

// Engine owns the namespace manager: the ordered namespace array of
// spec.md §4.7, with "default" always present at index 0.
type Engine struct {
	settings Settings
	logger   *logrus.Entry

	mu         sync.RWMutex
	namespaces []*Namespace
	byName     map[string]*Namespace

	dataLock  *fsutil.Lock
	indexLock *fsutil.Lock

	hooks hook.Invoker
}

// Open validates settings, acquires the directory locks, and loads the
// default namespace plus every existing namespace subdirectory (spec.md
// §4.7).
func Open(settings Settings, logger *logrus.Entry) (*Engine, error) {
	if settings.Datapath == "" || settings.Indexpath == "" {
		return nil, fmt.Errorf("engine: datapath and indexpath are required")
	}
	if _, _, err := fsutil.ResolveDistinct(settings.Datapath, settings.Indexpath); err != nil {
		return nil, err
	}
	if settings.DataSize == 0 {
		settings.DataSize = 256 << 20
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	dataLock, err := fsutil.LockDirectory(settings.Datapath)
	if err != nil {
		return nil, err
	}
	indexLock, err := fsutil.LockDirectory(settings.Indexpath)
	if err != nil {
		dataLock.Close()
		return nil, err
	}

	var invoker hook.Invoker = hook.NoopInvoker{}
	if settings.Hook != "" {
		invoker = hook.ExecInvoker{Path: settings.Hook}
	}

	e := &Engine{
		settings:  settings,
		logger:    logger,
		byName:    make(map[string]*Namespace),
		dataLock:  dataLock,
		indexLock: indexLock,
		hooks:     invoker,
	}

	e.hooks.Invoke(context.Background(), hook.EventNamespacesInit)

	if err := e.loadOrCreate(defaultNamespaceName, settings.Mode); err != nil {
		indexLock.Close()
		dataLock.Close()
		return nil, err
	}

	entries, err := os.ReadDir(settings.Indexpath)
	if err != nil {
		indexLock.Close()
		dataLock.Close()
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, fi := range entries {
		if !fi.IsDir() || fi.Name() == defaultNamespaceName {
			continue
		}
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.loadExisting(name); err != nil {
			logger.WithError(err).WithField("namespace", name).Warn("engine: namespace load degraded")
		}
	}

	e.hooks.Invoke(context.Background(), hook.EventReady)

	return e, nil
}

func (e *Engine) loadOrCreate(name string, mode Mode) error {
	ns, err := openNamespace(&e.settings, name, Descriptor{Name: name, Mode: mode, MaxSize: e.settings.MaxSize}, e.logger, e.hooks)
	if err != nil {
		return err
	}
	e.namespaces = append(e.namespaces, ns)
	e.byName[name] = ns
	return nil
}

func (e *Engine) loadExisting(name string) error {
	tmp := &Namespace{indexDir: namespaceIndexDir(e.settings.Indexpath, name)}
	desc, err := tmp.readDescriptor()
	if err != nil {
		desc = Descriptor{Name: name, Mode: e.settings.Mode, MaxSize: e.settings.MaxSize}
	}
	if e.settings.Mode != ModeMixed {
		desc.Mode = e.settings.Mode
	}
	return e.loadOrCreate(name, desc.Mode)
}

// Namespace looks up a loaded namespace by name.
func (e *Engine) Namespace(name string) (*Namespace, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ns, ok := e.byName[name]
	return ns, ok
}

// Namespaces returns the ordered namespace list, default first.
func (e *Engine) Namespaces() []*Namespace {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Namespace, len(e.namespaces))
	copy(out, e.namespaces)
	return out
}

// CreateNamespace implements spec.md §4.7's create lifecycle operation.
func (e *Engine) CreateNamespace(name string, desc Descriptor) (*Namespace, error) {
	if err := validateNamespaceName(name, true); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.byName[name]; exists {
		return nil, ErrNamespaceExists
	}

	desc.Name = name
	if desc.MaxSize == 0 {
		desc.MaxSize = e.settings.MaxSize
	}
	if e.settings.Mode != ModeMixed {
		desc.Mode = e.settings.Mode
	}

	ns, err := openNamespace(&e.settings, name, desc, e.logger, e.hooks)
	if err != nil {
		return nil, err
	}

	e.namespaces = append(e.namespaces, ns)
	e.byName[name] = ns

	e.hooks.Invoke(context.Background(), hook.EventNamespaceCreated, name)
	metrics.Lifecycle.WithValues("create").Inc()

	return ns, nil
}

// DeleteNamespace implements spec.md §4.7's delete lifecycle operation.
// The default namespace can never be deleted.
func (e *Engine) DeleteNamespace(name string) error {
	if name == defaultNamespaceName {
		return ErrDefaultNamespace
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ns, ok := e.byName[name]
	if !ok {
		return ErrNotFound
	}

	ns.close()
	os.RemoveAll(ns.dataDir)
	os.RemoveAll(ns.indexDir)

	delete(e.byName, name)
	for i, n := range e.namespaces {
		if n == ns {
			e.namespaces = append(e.namespaces[:i], e.namespaces[i+1:]...)
			break
		}
	}

	e.hooks.Invoke(context.Background(), hook.EventNamespaceDeleted, name)
	metrics.Lifecycle.WithValues("delete").Inc()

	return nil
}

// ReloadNamespace re-reads a namespace's files from disk without changing
// its pointer identity (spec.md §4.7).
func (e *Engine) ReloadNamespace(name string) error {
	ns, ok := e.Namespace(name)
	if !ok {
		return ErrNotFound
	}
	if err := ns.reload(&e.settings); err != nil {
		return err
	}
	e.hooks.Invoke(context.Background(), hook.EventNamespaceReloaded, name)
	metrics.Lifecycle.WithValues("reload").Inc()
	return nil
}

// FlushNamespace clears a namespace's data and descriptor-preserving
// state, rejecting public/password-less namespaces (spec.md §4.7).
func (e *Engine) FlushNamespace(name string) error {
	ns, ok := e.Namespace(name)
	if !ok {
		return ErrNotFound
	}
	if err := ns.flush(&e.settings); err != nil {
		return err
	}
	metrics.Lifecycle.WithValues("flush").Inc()
	return nil
}

// SetNamespaceLock changes name's access-control state (spec.md §3/§7's
// unlocked/read-only-locked/frozen model), the administrative counterpart to
// the guards SET/GET/.../DEL enforce in api.go.
func (e *Engine) SetNamespaceLock(name string, state LockState) error {
	ns, ok := e.Namespace(name)
	if !ok {
		return ErrNotFound
	}
	ns.setLock(state)
	metrics.Lifecycle.WithValues("lock").Inc()
	return nil
}

// Emergency fsyncs every open file of every namespace, then fires the crash
// hook. Intended to be invoked from a signal handler (SIGINT/SIGTERM/
// SIGSEGV) per spec.md §7; ctx is detached before the hook fires so a
// signal handler's already-canceled context cannot abort the external
// process the hook invoker shells out to.
func (e *Engine) Emergency(ctx context.Context) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, ns := range e.namespaces {
		ns.emergency()
	}
	e.hooks.Invoke(dcontext.DetachedContext(ctx), hook.EventCrash)
}

// Close releases every namespace's file handles and the directory locks.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ns := range e.namespaces {
		ns.close()
	}
	e.hooks.Invoke(context.Background(), hook.EventClose)
	indexErr := e.indexLock.Close()
	dataErr := e.dataLock.Close()
	if dataErr != nil {
		return dataErr
	}
	return indexErr
}
