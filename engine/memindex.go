package engine

import "github.com/zdbio/zdb/internal/crc"

// indexEntry is the in-memory record described by spec.md §3/§4.3: one
// entry per live-or-tombstoned key, chained within its bucket and, via
// parent fields, across historical versions of the same key.
type indexEntry struct {
	Key       []byte
	Offset    uint32 // data-file offset
	Length    uint32 // payload length
	DataID    uint16 // data-file id
	IndexID   uint16 // index-file id (current, same as owning root's active file at write time)
	IdxOffset uint32 // offset of this record's entry within its index file
	Flags     EntryFlag
	CRC       uint32
	Timestamp uint32
	ParentID  uint16
	ParentOff uint32
	Next      *indexEntry
}

func (e *indexEntry) deleted() bool { return e.Flags.has(FlagDeleted) }

// bucket is a singly-linked chain of records with O(1) append via tail.
type bucket struct {
	head, tail *indexEntry
	length     int
}

func (b *bucket) append(e *indexEntry) {
	if b.head == nil {
		b.head = e
	} else {
		b.tail.Next = e
	}
	b.tail = e
	b.length++
}

// remove unlinks e from the chain. O(n) in chain length, matching the
// teacher corpus's singly-linked-list convention (spec.md §4.3 permits a
// growing-vector alternative but mandates no particular complexity bound
// beyond "inspect all records whose hash matches").
func (b *bucket) remove(e *indexEntry) {
	if b.head == e {
		b.head = e.Next
		if b.tail == e {
			b.tail = nil
		}
		b.length--
		return
	}
	for cur := b.head; cur != nil && cur.Next != nil; cur = cur.Next {
		if cur.Next == e {
			cur.Next = e.Next
			if b.tail == e {
				b.tail = cur
			}
			b.length--
			return
		}
	}
}

// memIndex is the fixed 2^B bucket array of spec.md §4.3. Buckets are
// allocated lazily on first use.
type memIndex struct {
	bits    uint
	mask    uint32
	buckets []*bucket

	entries   uint64
	datasize  uint64
	indexsize uint64

	nextEntry uint64 // global monotonic counter (sequential mode id source)
	nextID    uint32 // file-local record counter, used by the loader
}

// defaultBucketBits is spec.md §3's default B=24 (16M slots).
const defaultBucketBits = 24

func newMemIndex(bits uint) *memIndex {
	if bits == 0 {
		bits = defaultBucketBits
	}
	return &memIndex{
		bits:    bits,
		mask:    uint32(1)<<bits - 1,
		buckets: make([]*bucket, uint32(1)<<bits),
	}
}

func (m *memIndex) hash(key []byte) uint32 {
	return crc.Checksum(key) & m.mask
}

func (m *memIndex) bucketFor(key []byte) *bucket {
	h := m.hash(key)
	b := m.buckets[h]
	if b == nil {
		b = &bucket{}
		m.buckets[h] = b
	}
	return b
}

// lookup returns the first matching record, live or tombstoned: the API
// layer is responsible for rejecting deleted entries (spec.md §4.3).
func (m *memIndex) lookup(key []byte) *indexEntry {
	h := m.hash(key)
	b := m.buckets[h]
	if b == nil {
		return nil
	}
	for cur := b.head; cur != nil; cur = cur.Next {
		if len(cur.Key) == len(key) && string(cur.Key) == string(key) {
			return cur
		}
	}
	return nil
}

// insert appends a brand-new record and advances the monotonic counters.
func (m *memIndex) insert(e *indexEntry) {
	b := m.bucketFor(e.Key)
	b.append(e)

	m.entries++
	m.datasize += uint64(e.Length)
	m.indexsize += uint64(indexEntryHdrLen + len(e.Key))
	m.nextEntry++
	m.nextID++
}

// update reuses exists in place, chaining its previous (data-file id, index
// offset) into the new record's parent fields before overwriting — this is
// the in-memory half of the history-chain invariant (spec.md §4.3).
func (m *memIndex) update(exists *indexEntry, fresh indexEntry) {
	m.datasize -= uint64(exists.Length)
	m.datasize += uint64(fresh.Length)

	fresh.ParentID = exists.DataID
	fresh.ParentOff = exists.IdxOffset

	next := exists.Next
	*exists = fresh
	exists.Next = next

	m.nextEntry++
	m.nextID++
}

// deleteFromMemory unlinks and discards e, per spec.md §4.3.
func (m *memIndex) deleteFromMemory(e *indexEntry) {
	b := m.bucketFor(e.Key)
	b.remove(e)
	m.entries--
	m.datasize -= uint64(e.Length)
	m.indexsize -= uint64(indexEntryHdrLen + len(e.Key))
}
