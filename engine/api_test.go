package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zdbio/zdb/engine/hook"
)

func newAPITestNamespace(t *testing.T, mode Mode) (*Namespace, *Settings) {
	t.Helper()
	settings := &Settings{Datapath: t.TempDir(), Indexpath: t.TempDir(), BucketBits: 8, Mode: mode}
	ns, err := openNamespace(settings, "A", Descriptor{Name: "A", Mode: mode}, testLogger(t), hook.NoopInvoker{})
	require.NoError(t, err)
	return ns, settings
}

// scenario 1: basic put/get/exists/del, spec.md §8.
func TestScenarioBasicPutGetDel(t *testing.T) {
	ns, _ := newAPITestNamespace(t, ModeUserKey)

	r := ns.Set([]byte("hello"), []byte("world"))
	require.Equal(t, ReplySuccess, r.Tag)
	require.Equal(t, []byte("hello"), r.Key)

	g := ns.Get([]byte("hello"))
	require.Equal(t, ReplyEntry, g.Tag)
	require.Equal(t, []byte("world"), g.Payload)
	require.Len(t, g.Payload, 5)

	e := ns.Exists([]byte("hello"))
	require.Equal(t, ReplyTrue, e.Tag)

	d := ns.Del([]byte("hello"))
	require.Equal(t, ReplySuccess, d.Tag)

	g2 := ns.Get([]byte("hello"))
	require.Equal(t, ReplyDeleted, g2.Tag)
}

// scenario 2: CRC dedup, spec.md §8.
func TestScenarioCRCDedupNoOp(t *testing.T) {
	ns, _ := newAPITestNamespace(t, ModeUserKey)

	r1 := ns.Set([]byte("k"), []byte("v1"))
	require.Equal(t, ReplySuccess, r1.Tag)
	sizeAfterFirst := ns.index.size

	r2 := ns.Set([]byte("k"), []byte("v1"))
	require.Equal(t, ReplyUpToDate, r2.Tag)
	require.Equal(t, sizeAfterFirst, ns.index.size)
}

// scenario 3: rotation, spec.md §8.
func TestScenarioRotationProducesTwoFiles(t *testing.T) {
	settings := &Settings{Datapath: t.TempDir(), Indexpath: t.TempDir(), BucketBits: 8, DataSize: 1024}
	ns, err := openNamespace(settings, "A", Descriptor{Name: "A", Mode: ModeUserKey}, testLogger(t), hook.NoopInvoker{})
	require.NoError(t, err)

	payload := make([]byte, 300)
	var last Reply
	for i := 1; i <= 4; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		last = ns.Set(key, payload)
		require.Equal(t, ReplySuccess, last.Tag)
	}

	require.True(t, fileExists(dataFileName(ns.dataDir, 0)))
	require.True(t, fileExists(dataFileName(ns.dataDir, 1)))
	require.True(t, fileExists(indexFileName(ns.indexDir, 1)))

	g := ns.Get([]byte("k4"))
	require.Equal(t, ReplyEntry, g.Tag)
	require.Equal(t, payload, g.Payload)
}

// scenario 4 (sequential mode), spec.md §8: an update keeps the assigned id
// and replaces the payload; the history walk is not exercised here.
func TestScenarioSequentialUpdateKeepsID(t *testing.T) {
	ns, _ := newAPITestNamespace(t, ModeSequential)

	r1 := ns.Set(nil, []byte("a"))
	require.Equal(t, ReplySuccess, r1.Tag)
	require.Equal(t, uint32(0), decodeSeqKey(r1.Key))

	r2 := ns.Set(encodeSeqKey(0), []byte("b"))
	require.Equal(t, ReplySuccess, r2.Tag)
	require.Equal(t, uint32(0), decodeSeqKey(r2.Key))

	g := ns.Get(encodeSeqKey(0))
	require.Equal(t, ReplyEntry, g.Tag)
	require.Equal(t, []byte("b"), g.Payload)
}

// scenario 5: reload equivalence over a mixed workload, spec.md §8.
func TestScenarioReloadEquivalenceMixedWorkload(t *testing.T) {
	settings := &Settings{Datapath: t.TempDir(), Indexpath: t.TempDir(), BucketBits: 8}
	ns, err := openNamespace(settings, "A", Descriptor{Name: "A", Mode: ModeUserKey}, testLogger(t), hook.NoopInvoker{})
	require.NoError(t, err)

	const total = 50
	for i := 0; i < total; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		r := ns.Set(key, []byte(fmt.Sprintf("payload-%d", i)))
		require.Equal(t, ReplySuccess, r.Tag)
	}
	for i := 0; i < total; i += 5 {
		key := []byte(fmt.Sprintf("key-%03d", i))
		r := ns.Del(key)
		require.Equal(t, ReplySuccess, r.Tag)
	}

	liveCountBefore := ns.mem.entries
	require.NoError(t, ns.reload(settings))
	require.Equal(t, liveCountBefore, ns.mem.entries)

	for i := 0; i < total; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		g := ns.Get(key)
		if i%5 == 0 {
			require.Equal(t, ReplyDeleted, g.Tag, "key %d", i)
		} else {
			require.Equal(t, ReplyEntry, g.Tag, "key %d", i)
			require.Equal(t, []byte(fmt.Sprintf("payload-%d", i)), g.Payload)
		}
	}
}

// scenario 6: a corrupted index file degrades that namespace's load (the
// corrupted file's entries are lost) without propagating a fatal error —
// the engine keeps serving other namespaces, spec.md §8.
func TestScenarioCorruptedIndexFileDegradesLoad(t *testing.T) {
	settings := &Settings{Datapath: t.TempDir(), Indexpath: t.TempDir(), BucketBits: 8}
	ns, err := openNamespace(settings, "A", Descriptor{Name: "A", Mode: ModeUserKey}, testLogger(t), hook.NoopInvoker{})
	require.NoError(t, err)

	require.NoError(t, ns.Set([]byte("k"), []byte("v")).errorOrNil())
	ns.close()

	// truncate the index file to 17 bytes, well inside the 27-byte header.
	path := indexFileName(ns.indexDir, 0)
	require.NoError(t, truncateFile(path, 17))

	reopened, err := openNamespace(settings, "A", Descriptor{Name: "A", Mode: ModeUserKey}, testLogger(t), hook.NoopInvoker{})
	require.NoError(t, err, "open degrades gracefully rather than failing outright")
	require.Equal(t, uint64(0), reopened.mem.entries, "corrupted file's entries are not recovered")
	require.True(t, reopened.Degraded, "namespace is marked degraded so the health checker reports it unhealthy")
}

// boundary: quota at exactly maxsize admits a shrinking overwrite but
// rejects net growth, spec.md §8.
func TestQuotaBoundary(t *testing.T) {
	settings := &Settings{Datapath: t.TempDir(), Indexpath: t.TempDir(), BucketBits: 8, MaxSize: 5}
	ns, err := openNamespace(settings, "A", Descriptor{Name: "A", Mode: ModeUserKey, MaxSize: 5}, testLogger(t), hook.NoopInvoker{})
	require.NoError(t, err)

	r := ns.Set([]byte("k"), []byte("12345"))
	require.Equal(t, ReplySuccess, r.Tag)

	shrink := ns.Set([]byte("k"), []byte("123"))
	require.Equal(t, ReplySuccess, shrink.Tag)

	grow := ns.Set([]byte("other"), []byte("xyz"))
	require.Equal(t, ReplyFailure, grow.Tag)
}

// boundary: empty key is rejected in user-key mode (Open Question 1).
func TestEmptyKeyRejectedInUserKeyMode(t *testing.T) {
	ns, _ := newAPITestNamespace(t, ModeUserKey)
	r := ns.Set(nil, []byte("v"))
	require.Equal(t, ReplyFailure, r.Tag)
}

// boundary: sequential mode denies an insert naming a key that does not
// yet exist.
func TestSequentialInsertDeniedForUnknownID(t *testing.T) {
	ns, _ := newAPITestNamespace(t, ModeSequential)
	r := ns.Set(encodeSeqKey(42), []byte("v"))
	require.Equal(t, ReplyInsertDenied, r.Tag)
}

// a WORM namespace forbids overwrite via SET, not only DEL, spec.md §3.
func TestScenarioWormForbidsSet(t *testing.T) {
	settings := &Settings{Datapath: t.TempDir(), Indexpath: t.TempDir(), BucketBits: 8}
	ns, err := openNamespace(settings, "A", Descriptor{Name: "A", Mode: ModeUserKey, Worm: true}, testLogger(t), hook.NoopInvoker{})
	require.NoError(t, err)

	r := ns.Set([]byte("k"), []byte("v"))
	require.Equal(t, ReplyFailure, r.Tag)
	require.Equal(t, ErrWormViolation.Error(), r.Message)
}

func TestScenarioWormForbidsSetSequential(t *testing.T) {
	settings := &Settings{Datapath: t.TempDir(), Indexpath: t.TempDir(), BucketBits: 8}
	ns, err := openNamespace(settings, "A", Descriptor{Name: "A", Mode: ModeSequential, Worm: true}, testLogger(t), hook.NoopInvoker{})
	require.NoError(t, err)

	r := ns.Set(nil, []byte("v"))
	require.Equal(t, ReplyFailure, r.Tag)
	require.Equal(t, ErrWormViolation.Error(), r.Message)
}

// read-only lock forbids SET but still permits GET, spec.md §3/§7.
func TestScenarioReadOnlyLockForbidsWritesAllowsReads(t *testing.T) {
	ns, _ := newAPITestNamespace(t, ModeUserKey)

	require.Equal(t, ReplySuccess, ns.Set([]byte("k"), []byte("v")).Tag)

	ns.setLock(LockReadOnly)

	r := ns.Set([]byte("k"), []byte("v2"))
	require.Equal(t, ReplyFailure, r.Tag)
	require.Equal(t, ErrNamespaceLocked.Error(), r.Message)

	g := ns.Get([]byte("k"))
	require.Equal(t, ReplyEntry, g.Tag)
}

// frozen forbids both reads and writes, spec.md §3/§7.
func TestScenarioFrozenForbidsReadsAndWrites(t *testing.T) {
	ns, _ := newAPITestNamespace(t, ModeUserKey)

	require.Equal(t, ReplySuccess, ns.Set([]byte("k"), []byte("v")).Tag)

	ns.setLock(LockFrozen)

	r := ns.Set([]byte("k"), []byte("v2"))
	require.Equal(t, ReplyFailure, r.Tag)
	require.Equal(t, ErrNamespaceFrozen.Error(), r.Message)

	g := ns.Get([]byte("k"))
	require.Equal(t, ReplyFailure, g.Tag)
	require.Equal(t, ErrNamespaceFrozen.Error(), g.Message)
}

// rotation fires the jump hook with the namespace and new file id, spec.md §6.
func TestScenarioRotationFiresJumpHook(t *testing.T) {
	settings := &Settings{Datapath: t.TempDir(), Indexpath: t.TempDir(), BucketBits: 8, DataSize: 1024}
	invoker := &recordingInvoker{}
	ns, err := openNamespace(settings, "A", Descriptor{Name: "A", Mode: ModeUserKey}, testLogger(t), invoker)
	require.NoError(t, err)

	payload := make([]byte, 300)
	for i := 1; i <= 4; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		require.Equal(t, ReplySuccess, ns.Set(key, payload).Tag)
	}

	require.True(t, invoker.fired(hook.EventJump))
}

func (r Reply) errorOrNil() error {
	if r.Tag == ReplyFailure || r.Tag == ReplyInternalError {
		return fmt.Errorf("%s", r.Message)
	}
	return nil
}
