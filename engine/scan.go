package engine

import (
	"encoding/binary"
	"time"
)

// Cursor is the opaque fixed-size scan/history continuation token from
// spec.md §4.6: (file-id, offset, key-length, payload-length, crc).
type Cursor struct {
	FileID  uint16
	Offset  uint32
	KeyLen  uint8
	DataLen uint32
	CRC     uint32
}

const cursorLen = 2 + 4 + 1 + 4 + 4

// IsZero reports whether c is the all-zero cursor, the history-chain
// terminator (spec.md §4.6).
func (c Cursor) IsZero() bool {
	return c == Cursor{}
}

// Serialize encodes c into its wire form.
func (c Cursor) Serialize() []byte {
	b := make([]byte, cursorLen)
	byteOrder.PutUint16(b[0:2], c.FileID)
	byteOrder.PutUint32(b[2:6], c.Offset)
	b[6] = c.KeyLen
	byteOrder.PutUint32(b[7:11], c.DataLen)
	byteOrder.PutUint32(b[11:15], c.CRC)
	return b
}

// DeserializeCursor decodes b into a Cursor, without validating it against
// any stored entry — callers needing the reject-on-mismatch guarantee of
// spec.md §4.6 must follow up with (*namespace).verifyCursor.
func DeserializeCursor(b []byte) (Cursor, error) {
	if len(b) != cursorLen {
		return Cursor{}, ErrCursorMismatch
	}
	return Cursor{
		FileID:  binary.LittleEndian.Uint16(b[0:2]),
		Offset:  binary.LittleEndian.Uint32(b[2:6]),
		KeyLen:  b[6],
		DataLen: binary.LittleEndian.Uint32(b[7:11]),
		CRC:     binary.LittleEndian.Uint32(b[11:15]),
	}, nil
}

// verifyCursor re-reads the index slot the cursor names and rejects it if
// key-length, payload-length or CRC mismatch — preventing a caller from
// crafting arbitrary offsets to read unrelated memory (spec.md §4.6).
func (ns *Namespace) verifyCursor(c Cursor) (indexItem, error) {
	it, err := ns.index.readItem(c.FileID, c.Offset)
	if err != nil {
		return it, err
	}
	if uint8(it.KeyLength) != c.KeyLen || it.Length != c.DataLen || it.CRC != c.CRC {
		return it, ErrCursorMismatch
	}
	return it, nil
}

func cursorOf(it indexItem, fileID uint16, offset uint32) Cursor {
	return Cursor{FileID: fileID, Offset: offset, KeyLen: uint8(it.KeyLength), DataLen: it.Length, CRC: it.CRC}
}

// scanTimeslice bounds one forward/backward batch, per spec.md §4.6
// ("default ≈2000µs"), keeping a cooperative caller responsive.
const scanTimeslice = 2000 * time.Microsecond

// ScanEntry is one live item returned from a forward/backward scan batch.
type ScanEntry struct {
	Key    []byte
	Cursor Cursor
}

// ScanFirst returns the first live entry of the index log, independent of
// the in-memory index (spec.md §4.6).
func (ns *Namespace) ScanFirst() (ScanEntry, bool, error) {
	return ns.scanFrom(0, uint32(indexHeaderLen), true)
}

// ScanNext returns the live entry immediately following (fileID, offset),
// skipping tombstones transparently and rolling over to the next index
// file on EOF.
func (ns *Namespace) ScanNext(fileID uint16, offset uint32) (ScanEntry, bool, error) {
	it, err := ns.index.readItem(fileID, offset)
	if err != nil {
		return ScanEntry{}, false, err
	}
	next := offset + uint32(indexEntryHdrLen) + uint32(it.KeyLength)
	return ns.scanFrom(fileID, next, true)
}

// scanFrom walks forward starting at (fileID, offset) until it finds a live
// entry, rolling to fileID+1 on EOF. When no further index file exists, ok
// is false and err is nil.
func (ns *Namespace) scanFrom(fileID uint16, offset uint32, _ bool) (ScanEntry, bool, error) {
	for {
		it, err := ns.index.readItem(fileID, offset)
		if err != nil {
			fileID++
			offset = uint32(indexHeaderLen)
			if !ns.hasIndexFile(fileID) {
				return ScanEntry{}, false, nil
			}
			continue
		}
		if it.Flags.has(FlagDeleted) {
			offset += uint32(indexEntryHdrLen) + uint32(it.KeyLength)
			continue
		}
		return ScanEntry{Key: it.Key, Cursor: cursorOf(it, fileID, offset)}, true, nil
	}
}

// ScanLast returns the most recently written live entry. It relies on
// ns.index.previous, the offset of the last entry appended to the active
// file (entries have variable-length keys, so the last entry's offset
// cannot be derived from the file size alone).
func (ns *Namespace) ScanLast() (ScanEntry, bool, error) {
	if ns.index.previous == 0 && ns.index.size <= int64(indexHeaderLen) {
		return ScanEntry{}, false, nil
	}
	return ns.scanBackFrom(ns.index.fileID, ns.index.previous)
}

// ScanPrevious returns the live entry immediately preceding (fileID,
// offset) in the backward chain, applying the buggy-previous repair
// heuristic in sequential mode (spec.md §4.5/§9).
func (ns *Namespace) ScanPrevious(fileID uint16, offset uint32) (ScanEntry, bool, error) {
	it, err := ns.index.readItem(fileID, offset)
	if err != nil {
		return ScanEntry{}, false, err
	}
	prev := it.Previous
	if ns.Mode == ModeSequential {
		prev = fixSequentialPrevious(it.Previous, offset)
	}
	return ns.scanBackResolve(fileID, prev)
}

func (ns *Namespace) scanBackFrom(fileID uint16, offset uint32) (ScanEntry, bool, error) {
	return ns.scanBackResolve(fileID, offset)
}

// scanBackResolve walks backward from target within fileID, descending to
// the last entry of fileID-1 when target is the sentinel 1.
func (ns *Namespace) scanBackResolve(fileID uint16, target uint32) (ScanEntry, bool, error) {
	for {
		if target == 0 {
			return ScanEntry{}, false, nil
		}
		if target == 1 {
			if fileID == 0 {
				return ScanEntry{}, false, nil
			}
			// continue from the last entry of the previous file, found by
			// walking that file forward from its header.
			fileID--
			target = 0
			for off := uint32(indexHeaderLen); ; {
				it, err := ns.index.readItem(fileID, off)
				if err != nil {
					break
				}
				target = off
				off += uint32(indexEntryHdrLen) + uint32(it.KeyLength)
			}
			continue
		}

		it, err := ns.index.readItem(fileID, target)
		if err != nil {
			return ScanEntry{}, false, err
		}
		if it.Flags.has(FlagDeleted) {
			prev := it.Previous
			if ns.Mode == ModeSequential {
				prev = fixSequentialPrevious(it.Previous, target)
			}
			target = prev
			continue
		}
		return ScanEntry{Key: it.Key, Cursor: cursorOf(it, fileID, target)}, true, nil
	}
}

func (ns *Namespace) hasIndexFile(fileID uint16) bool {
	_, err := ns.index.fileFor(fileID, false)
	return err == nil
}

// HistoryEntry pairs a historical payload with the cursor of its parent
// version, per spec.md §4.6.
type HistoryEntry struct {
	Payload   []byte
	Timestamp uint32
	Parent    Cursor
}

// History returns the live version of key plus, on each subsequent call
// with the returned Parent cursor, the prior version — terminating when
// Parent.IsZero().
func (ns *Namespace) History(key []byte) (HistoryEntry, error) {
	e := ns.mem.lookup(key)
	if e == nil || e.deleted() {
		return HistoryEntry{}, ErrNotFound
	}
	payload, err := ns.data.read(e.DataID, e.Offset, e.Length, len(e.Key))
	if err != nil {
		return HistoryEntry{}, err
	}
	parent := Cursor{}
	if e.ParentID != 0 || e.ParentOff != 0 {
		if it, err := ns.index.readItem(e.ParentID, e.ParentOff); err == nil {
			parent = cursorOf(it, e.ParentID, e.ParentOff)
		}
	}
	return HistoryEntry{Payload: payload, Timestamp: e.Timestamp, Parent: parent}, nil
}

// HistoryAt follows one parent cursor returned by History or a previous
// HistoryAt call.
func (ns *Namespace) HistoryAt(c Cursor) (HistoryEntry, error) {
	if c.IsZero() {
		return HistoryEntry{}, ErrNoMoreData
	}
	it, err := ns.verifyCursor(c)
	if err != nil {
		return HistoryEntry{}, err
	}
	payload, err := ns.data.read(it.DataID, it.Offset, it.Length, it.KeyLength)
	if err != nil {
		return HistoryEntry{}, err
	}
	parent := Cursor{}
	if it.ParentID != 0 || it.ParentOff != 0 {
		if pit, err := ns.index.readItem(it.ParentID, it.ParentOff); err == nil {
			parent = cursorOf(pit, it.ParentID, it.ParentOff)
		}
	}
	return HistoryEntry{Payload: payload, Timestamp: it.Timestamp, Parent: parent}, nil
}
