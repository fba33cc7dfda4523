package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/zdbio/zdb/engine/hook"
	"github.com/zdbio/zdb/internal/crc"
	"github.com/zdbio/zdb/metrics"
)

func crcOf(payload []byte) uint32 { return crc.Checksum(payload) }

// Set implements spec.md §4.8's SET: quota enforcement, rotation-before-
// write, CRC/length dedup, and mode dispatch between user-key and
// sequential addressing.
func (ns *Namespace) Set(key, payload []byte) Reply {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	var r Reply
	if err := ns.checkWritable(); err != nil {
		r = failure(err.Error())
	} else if ns.Mode == ModeSequential {
		r = ns.setSequential(key, payload)
	} else {
		r = ns.setUserKey(key, payload)
	}
	metrics.Operations.WithValues("set", r.Tag.String()).Inc()
	return r
}

func (ns *Namespace) checkQuota(oldLength, newLength uint64) error {
	if ns.MaxSize == 0 {
		return nil
	}
	if ns.datasize()+newLength > ns.MaxSize+oldLength {
		return ErrQuotaExceeded
	}
	return nil
}

// maybeRotate allocates the next index/data file id pair when the active
// data file would exceed rotationSize after writing payloadLen more bytes,
// per spec.md §4.8 step 3 ("rotation happens before the new entry is
// written").
func (ns *Namespace) maybeRotate(payloadLen uint32) error {
	if ns.rotationSize == 0 {
		return nil
	}
	projected := uint32(ns.data.size) + dataEntryHdrLen + payloadLen
	if projected <= ns.rotationSize {
		return nil
	}

	next := ns.index.fileID + 1
	if next == 0 {
		return ErrFileIDExhausted
	}
	if _, err := ns.index.openIndexFile(next, true); err != nil {
		return err
	}
	if err := ns.data.openDataFile(next, true); err != nil {
		return err
	}
	if ns.Mode == ModeSequential {
		ns.seq.push(uint32(ns.mem.nextEntry), next)
	}
	metrics.Rotations.WithValues(ns.Name).Inc()
	if ns.hooks != nil {
		ns.hooks.Invoke(context.Background(), hook.EventJump, ns.Name, strconv.Itoa(int(next)))
	}
	return nil
}

func (ns *Namespace) setUserKey(key, payload []byte) Reply {
	if ns.Worm {
		return failure(ErrWormViolation.Error())
	}
	if len(key) == 0 {
		return failure(ErrEmptyKey.Error())
	}
	if len(key) > maxKeyLength {
		return failure(ErrKeyTooLong.Error())
	}

	existing := ns.mem.lookup(key)
	var oldLength uint64
	if existing != nil && !existing.deleted() {
		oldLength = uint64(existing.Length)
	}

	if err := ns.checkQuota(oldLength, uint64(len(payload))); err != nil {
		return failure(err.Error())
	}

	sum := crcOf(payload)
	if existing != nil && !existing.deleted() && existing.CRC == sum && existing.Length == uint32(len(payload)) {
		return Reply{Tag: ReplyUpToDate, Key: key}
	}

	if err := ns.maybeRotate(uint32(len(payload))); err != nil {
		return failure(err.Error())
	}

	now := uint32(time.Now().Unix())
	dataOffset, err := ns.data.insert(key, payload, 0, ns.data.lastOffset, now)
	if err != nil {
		return failure(err.Error())
	}
	ns.data.lastOffset = dataOffset

	it := indexItem{
		KeyLength: len(key), Offset: dataOffset, Length: uint32(len(payload)),
		Previous: ns.index.previous, Flags: 0, DataID: ns.data.fileID,
		Timestamp: now, CRC: sum, Key: key,
	}

	if existing != nil {
		it.ParentID = existing.DataID
		it.ParentOff = existing.IdxOffset
		if err := ns.index.deleteOnDisk(existing.IndexID, existing.IdxOffset); err != nil {
			return failure(err.Error())
		}
	}

	idxOffset, err := ns.index.append(it)
	if err != nil {
		return failure(err.Error())
	}
	ns.index.previous = idxOffset

	fresh := indexEntry{
		Key: key, Offset: dataOffset, Length: it.Length, DataID: it.DataID,
		IndexID: ns.index.fileID, IdxOffset: idxOffset, CRC: sum, Timestamp: now,
		ParentID: it.ParentID, ParentOff: it.ParentOff,
	}

	if existing != nil {
		ns.mem.update(existing, fresh)
	} else {
		ns.mem.insert(&fresh)
	}

	return Reply{Tag: ReplySuccess, Key: key}
}

func (ns *Namespace) setSequential(key, payload []byte) Reply {
	if ns.Worm {
		return failure(ErrWormViolation.Error())
	}

	var id uint32
	var existing *indexItem
	var existingFileID uint16
	var existingOffset uint32

	if len(key) > 0 {
		id = decodeSeqKey(key)
		it, fileID, offset, err := ns.index.seqRead(ns.seq, id)
		if err != nil {
			return Reply{Tag: ReplyInsertDenied, Message: ErrInsertDenied.Error()}
		}
		existing = &it
		existingFileID = fileID
		existingOffset = offset
	} else {
		id = uint32(ns.mem.nextEntry)
	}

	var oldLength uint64
	if existing != nil && !existing.Flags.has(FlagDeleted) {
		oldLength = uint64(existing.Length)
	}
	if err := ns.checkQuota(oldLength, uint64(len(payload))); err != nil {
		return failure(err.Error())
	}

	sum := crcOf(payload)
	if existing != nil && !existing.Flags.has(FlagDeleted) && existing.CRC == sum && existing.Length == uint32(len(payload)) {
		return Reply{Tag: ReplyUpToDate, Key: encodeSeqKey(id)}
	}

	if err := ns.maybeRotate(uint32(len(payload))); err != nil {
		return failure(err.Error())
	}

	now := uint32(time.Now().Unix())
	dataOffset, err := ns.data.insert(encodeSeqKey(id), payload, 0, ns.data.lastOffset, now)
	if err != nil {
		return failure(err.Error())
	}
	ns.data.lastOffset = dataOffset

	if existing == nil {
		it := indexItem{
			KeyLength: 4, Offset: dataOffset, Length: uint32(len(payload)),
			Previous: ns.index.previous, Flags: 0, DataID: ns.data.fileID,
			Timestamp: now, CRC: sum, Key: encodeSeqKey(id),
		}
		idxOffset, err := ns.index.append(it)
		if err != nil {
			return failure(err.Error())
		}
		ns.index.previous = idxOffset
		ns.mem.nextEntry++
		ns.mem.nextID++
		ns.mem.entries++
		ns.mem.datasize += uint64(len(payload))
		return Reply{Tag: ReplySuccess, Key: encodeSeqKey(id)}
	}

	// update protocol, spec.md §4.5: duplicate the old entry flagged
	// DELETED, then rewrite the original fixed-stride slot in place.
	duplicate := *existing
	duplicate.Flags |= FlagDeleted
	dupOffset, err := ns.index.append(duplicate)
	if err != nil {
		return failure(err.Error())
	}
	ns.index.previous = dupOffset

	fresh := indexItem{
		Length: uint32(len(payload)), Offset: dataOffset, Flags: 0,
		DataID: ns.data.fileID, Timestamp: now, CRC: sum,
		ParentID: ns.index.fileID, ParentOff: dupOffset,
	}
	if err := ns.index.seqOverwrite(ns.seq, id, fresh); err != nil {
		return failure(err.Error())
	}
	_ = existingFileID
	_ = existingOffset

	ns.mem.nextEntry++
	ns.mem.nextID++
	ns.mem.datasize -= uint64(existing.Length)
	ns.mem.datasize += uint64(len(payload))

	return Reply{Tag: ReplySuccess, Key: encodeSeqKey(id)}
}

// Get implements spec.md §4.8's GET.
func (ns *Namespace) Get(key []byte) (r Reply) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	defer func() { metrics.Operations.WithValues("get", r.Tag.String()).Inc() }()

	if err := ns.checkReadable(); err != nil {
		return failure(err.Error())
	}

	dataID, offset, length, keyLen, found, deleted := ns.locate(key)
	if !found {
		return Reply{Tag: ReplyNotFound}
	}
	if deleted {
		return Reply{Tag: ReplyDeleted}
	}

	payload, err := ns.data.read(dataID, offset, length, keyLen)
	if err != nil {
		return Reply{Tag: ReplyInternalError, Message: err.Error()}
	}
	return entry(key, payload)
}

// Exists implements spec.md §4.8's EXISTS: the boolean form of GET.
func (ns *Namespace) Exists(key []byte) (r Reply) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	defer func() { metrics.Operations.WithValues("exists", r.Tag.String()).Inc() }()
	if err := ns.checkReadable(); err != nil {
		return failure(err.Error())
	}
	_, _, _, _, found, deleted := ns.locate(key)
	return boolReply(found && !deleted)
}

// Check implements spec.md §4.8's CHECK: recompute the payload CRC and
// compare to the stored header CRC.
func (ns *Namespace) Check(key []byte) (r Reply) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	defer func() { metrics.Operations.WithValues("check", r.Tag.String()).Inc() }()

	if err := ns.checkReadable(); err != nil {
		return failure(err.Error())
	}

	dataID, offset, length, keyLen, found, deleted := ns.locate(key)
	if !found || deleted {
		return Reply{Tag: ReplyNotFound}
	}
	ok, err := ns.data.check(dataID, offset, length, keyLen)
	if err != nil {
		return Reply{Tag: ReplyInternalError, Message: err.Error()}
	}
	return boolReply(ok)
}

// Del implements spec.md §4.8's DEL.
func (ns *Namespace) Del(key []byte) (r Reply) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	defer func() { metrics.Operations.WithValues("del", r.Tag.String()).Inc() }()

	if err := ns.checkWritable(); err != nil {
		return failure(err.Error())
	}
	if ns.Worm {
		return failure(ErrWormViolation.Error())
	}

	if ns.Mode == ModeSequential {
		return ns.delSequential(key)
	}

	existing := ns.mem.lookup(key)
	if existing == nil {
		return Reply{Tag: ReplyNotFound}
	}
	if existing.deleted() {
		return Reply{Tag: ReplyDeleted}
	}

	now := uint32(time.Now().Unix())
	if _, err := ns.data.insert(key, nil, FlagDeleted, ns.data.lastOffset, now); err != nil {
		return failure(err.Error())
	}
	if err := ns.index.deleteOnDisk(existing.IndexID, existing.IdxOffset); err != nil {
		return failure(err.Error())
	}
	ns.mem.deleteFromMemory(existing)

	return success()
}

func (ns *Namespace) delSequential(key []byte) Reply {
	id := decodeSeqKey(key)
	it, _, _, err := ns.index.seqRead(ns.seq, id)
	if err != nil {
		return Reply{Tag: ReplyNotFound}
	}
	if it.Flags.has(FlagDeleted) {
		return Reply{Tag: ReplyDeleted}
	}

	now := uint32(time.Now().Unix())
	if _, err := ns.data.insert(key, nil, FlagDeleted, ns.data.lastOffset, now); err != nil {
		return failure(err.Error())
	}

	it.Flags |= FlagDeleted
	if err := ns.index.seqOverwrite(ns.seq, id, it); err != nil {
		return failure(err.Error())
	}

	ns.mem.datasize -= uint64(it.Length)
	ns.mem.entries--

	return success()
}

// locate resolves key through the in-memory index (user-key mode) or the
// on-disk sequential map (sequential mode), returning enough to read the
// payload without a second lookup.
func (ns *Namespace) locate(key []byte) (dataID uint16, offset, length uint32, keyLen int, found, deleted bool) {
	if ns.Mode == ModeSequential {
		id := decodeSeqKey(key)
		it, _, _, err := ns.index.seqRead(ns.seq, id)
		if err != nil {
			return 0, 0, 0, 0, false, false
		}
		return it.DataID, it.Offset, it.Length, it.KeyLength, true, it.Flags.has(FlagDeleted)
	}

	e := ns.mem.lookup(key)
	if e == nil {
		return 0, 0, 0, 0, false, false
	}
	return e.DataID, e.Offset, e.Length, len(e.Key), true, e.deleted()
}
