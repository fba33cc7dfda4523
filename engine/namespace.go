package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zdbio/zdb/engine/hook"
	"github.com/zdbio/zdb/internal/fsutil"
)

const namespaceDescriptorFile = "zdb-namespace"
const namespaceDescriptorVersion = 1

// NamespaceFlag bits stored in the descriptor, spec.md §4.7.
type NamespaceFlag uint8

const (
	NamespacePublic NamespaceFlag = 1 << iota
	NamespaceWorm
	namespaceExtended
)

// LockState is a namespace's access-control state, spec.md §3.
type LockState int

const (
	LockUnlocked LockState = iota
	LockReadOnly
	LockFrozen
)

// Descriptor is the persisted metadata of one namespace, spec.md §4.7.
// Mode is held in memory only: encodeDescriptor does not write it and
// decodeDescriptor leaves it zero (ModeUserKey).
type Descriptor struct {
	Name     string
	Password string
	Public   bool
	Worm     bool
	MaxSize  uint64
	Mode     Mode
}

// encodeDescriptor lays out the descriptor exactly as spec.md §4.7
// describes: legacy fixed header, name, password, then the extended block
// (always written).
func encodeDescriptor(d Descriptor) []byte {
	var flags NamespaceFlag
	if d.Public {
		flags |= NamespacePublic
	}
	if d.Worm {
		flags |= NamespaceWorm
	}
	flags |= namespaceExtended

	var buf bytes.Buffer
	buf.WriteByte(byte(len(d.Name)))
	buf.WriteByte(byte(len(d.Password)))
	binary.Write(&buf, byteOrder, uint32(0)) // legacy maxsize, ignored when EXTENDED set
	buf.WriteByte(byte(flags))
	buf.WriteString(d.Name)
	buf.WriteString(d.Password)
	binary.Write(&buf, byteOrder, uint32(namespaceDescriptorVersion))
	binary.Write(&buf, byteOrder, d.MaxSize)
	return buf.Bytes()
}

func decodeDescriptor(b []byte) (Descriptor, error) {
	if len(b) < 7 {
		return Descriptor{}, ErrHeaderTruncated
	}
	nameLen := int(b[0])
	passLen := int(b[1])
	flags := NamespaceFlag(b[6])

	pos := 7
	if len(b) < pos+nameLen+passLen {
		return Descriptor{}, ErrHeaderTruncated
	}
	name := string(b[pos : pos+nameLen])
	pos += nameLen
	password := string(b[pos : pos+passLen])
	pos += passLen

	d := Descriptor{
		Name:     name,
		Password: password,
		Public:   flags&NamespacePublic != 0,
		Worm:     flags&NamespaceWorm != 0,
	}

	if flags&namespaceExtended != 0 && len(b) >= pos+4+8 {
		pos += 4 // version, unused beyond presence
		d.MaxSize = binary.LittleEndian.Uint64(b[pos : pos+8])
	}
	return d, nil
}

// validateNamespaceName enforces spec.md §3's naming rule.
func validateNamespaceName(name string, creating bool) error {
	if name == "" || len(name) > 128 || name == "." || name == ".." {
		return ErrInvalidName
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return ErrInvalidName
		}
	}
	if creating && name == "default" {
		return ErrInvalidName
	}
	return nil
}

// Namespace is one isolated store: its own data/index directories, quota,
// lock state, and in-memory index (spec.md §3).
type Namespace struct {
	Descriptor
	mu sync.Mutex

	dataDir  string
	indexDir string

	data  *dataLog
	index *indexLog
	mem   *memIndex
	seq   *seqMap

	rotationSize uint32
	lock         LockState

	// Degraded is set by the loader when a non-fatal replay error truncates
	// a namespace's history short of full recovery (spec.md §7). Read by
	// the health checker registered in cmd/zdbd.
	Degraded bool

	hooks hook.Invoker

	logger *logrus.Entry
}

// setLock changes ns's access-control state, the admin-facing counterpart
// of the read/write gates enforced in api.go (spec.md §3/§7).
func (ns *Namespace) setLock(state LockState) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.lock = state
}

// checkWritable rejects SET/DEL against a read-only-locked or frozen
// namespace (spec.md §3/§7). Caller must hold ns.mu.
func (ns *Namespace) checkWritable() error {
	switch ns.lock {
	case LockReadOnly:
		return ErrNamespaceLocked
	case LockFrozen:
		return ErrNamespaceFrozen
	}
	return nil
}

// checkReadable rejects GET/EXISTS/CHECK against a frozen namespace only;
// read-only-locked still permits reads (spec.md §3/§7). Caller must hold
// ns.mu.
func (ns *Namespace) checkReadable() error {
	if ns.lock == LockFrozen {
		return ErrNamespaceFrozen
	}
	return nil
}

func namespaceDataDir(dataRoot, name string) string  { return filepath.Join(dataRoot, name) }
func namespaceIndexDir(indexRoot, name string) string { return filepath.Join(indexRoot, name) }

func (ns *Namespace) descriptorPath() string {
	return filepath.Join(ns.indexDir, namespaceDescriptorFile)
}

func (ns *Namespace) writeDescriptor() error {
	encoded := encodeDescriptor(ns.Descriptor)
	return os.WriteFile(ns.descriptorPath(), encoded, 0o600)
}

func (ns *Namespace) readDescriptor() (Descriptor, error) {
	b, err := os.ReadFile(ns.descriptorPath())
	if err != nil {
		return Descriptor{}, err
	}
	return decodeDescriptor(b)
}

// fresh reports whether ns has had zero writes since creation, the only
// state from which a mode switch is permitted (spec.md §4.7).
func (ns *Namespace) fresh() bool {
	return ns.mem.nextEntry == 0 && ns.mem.nextID == 0 && ns.index.fileID == 0
}

// datasize is the live sum-of-lengths invariant tracked incrementally by
// the in-memory index (spec.md §3).
func (ns *Namespace) datasize() uint64 { return ns.mem.datasize }

// openNamespace lazily initializes (creating file 0 if absent) and loads a
// namespace's index and data state, per spec.md §4.4/§4.7. hooks may be nil,
// in which case namespace-scoped events (jump, namespace-updated,
// namespace-closing) are never fired.
func openNamespace(settings *Settings, name string, desc Descriptor, logger *logrus.Entry, hooks hook.Invoker) (*Namespace, error) {
	dataDir := namespaceDataDir(settings.Datapath, name)
	indexDir := namespaceIndexDir(settings.Indexpath, name)

	if err := fsutil.EnsureDir(dataDir); err != nil {
		return nil, err
	}
	if err := fsutil.EnsureDir(indexDir); err != nil {
		return nil, err
	}

	ns := &Namespace{
		Descriptor:   desc,
		dataDir:      dataDir,
		indexDir:     indexDir,
		data:         &dataLog{dir: dataDir, sync: settings.Sync, syncTime: settings.SyncTime},
		index:        &indexLog{dir: indexDir, mode: desc.Mode, sync: settings.Sync, syncTime: settings.SyncTime},
		mem:          newMemIndex(settings.BucketBits),
		seq:          &seqMap{},
		rotationSize: settings.DataSize,
		hooks:        hooks,
		logger:       logger.WithField("namespace", name),
	}

	if _, err := os.Stat(ns.descriptorPath()); os.IsNotExist(err) {
		if err := ns.writeDescriptor(); err != nil {
			return nil, fmt.Errorf("namespace %s: writing descriptor: %w", name, err)
		}
	}

	if err := loadNamespace(ns); err != nil {
		return nil, fmt.Errorf("namespace %s: %w", name, err)
	}

	return ns, nil
}

// reload clears in-memory records and re-runs the loader, preserving the
// Namespace pointer identity so attached callers keep working (spec.md
// §4.7).
func (ns *Namespace) reload(settings *Settings) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.data.close()
	ns.index.close()
	ns.mem = newMemIndex(settings.BucketBits)
	ns.seq = &seqMap{}
	ns.data = &dataLog{dir: ns.dataDir, sync: settings.Sync, syncTime: settings.SyncTime}
	ns.index = &indexLog{dir: ns.indexDir, mode: ns.Mode, sync: settings.Sync, syncTime: settings.SyncTime}

	return loadNamespace(ns)
}

// flush is reload plus discarding the underlying files, permitted only on
// password-protected non-public namespaces (spec.md §4.7).
func (ns *Namespace) flush(settings *Settings) error {
	if ns.Public || ns.Password == "" {
		return fmt.Errorf("engine: flush denied: %w", ErrNamespaceLocked)
	}

	ns.mu.Lock()
	ns.data.close()
	ns.index.close()
	ns.mu.Unlock()

	if err := fsutil.EnsureDir(ns.dataDir); err == nil {
		cleanDirPayload(ns.dataDir)
	}
	cleanDirPayload(ns.indexDir)

	if err := ns.reload(settings); err != nil {
		return err
	}
	if ns.hooks != nil {
		ns.hooks.Invoke(context.Background(), hook.EventNamespaceUpdated, ns.Name)
	}
	return nil
}

func cleanDirPayload(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Name() == namespaceDescriptorFile || e.Name() == fsutil.LockFileName {
			continue
		}
		os.Remove(filepath.Join(dir, e.Name()))
	}
}

// emergency fsyncs every open file of the namespace, invoked from signal
// handlers via Engine.Emergency (spec.md §4.7).
func (ns *Namespace) emergency() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.data.active != nil {
		ns.data.active.Sync()
	}
	if ns.index.active != nil {
		ns.index.active.Sync()
	}
}

func (ns *Namespace) close() {
	if ns.hooks != nil {
		ns.hooks.Invoke(context.Background(), hook.EventNamespaceClosing, ns.Name)
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.data.close()
	ns.index.close()
}
