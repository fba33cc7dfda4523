package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Wire layout of the index log, spec.md §4.2/§6. File header:
//
//	magic[4]="IDX0", version u32, created u64, opened u64, fileid u16, mode u8
//
// Entry (no payload), followed by key bytes:
//
//	keylen u8, offset u32, length u32, previous u32, flags u8, dataid u16,
//	timestamp u32, crc u32, parentid u16, parentoff u32
const (
	indexMagic       = "IDX0"
	indexFileVersion = 1
	indexHeaderLen   = 4 + 4 + 8 + 8 + 2 + 1
	indexEntryHdrLen = 1 + 4 + 4 + 4 + 1 + 2 + 4 + 4 + 2 + 4
	indexFilePattern = "zdb-index-%05d"
)

// Mode identifies a namespace's key-addressing scheme.
type Mode uint8

const (
	ModeUserKey Mode = iota
	ModeSequential
	ModeMixed
)

func (m Mode) String() string {
	switch m {
	case ModeUserKey:
		return "user-key"
	case ModeSequential:
		return "sequential"
	case ModeMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// ParseMode converts the configuration string form of mode into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "user-key":
		return ModeUserKey, nil
	case "sequential":
		return ModeSequential, nil
	case "mixed":
		return ModeMixed, nil
	default:
		return 0, fmt.Errorf("engine: unknown mode %q", s)
	}
}

type indexFileHeader struct {
	Version uint32
	Created uint64
	Opened  uint64
	FileID  uint16
	Mode    Mode
}

func encodeIndexHeader(h indexFileHeader) []byte {
	var buf bytes.Buffer
	buf.WriteString(indexMagic)
	binary.Write(&buf, byteOrder, h.Version)
	binary.Write(&buf, byteOrder, h.Created)
	binary.Write(&buf, byteOrder, h.Opened)
	binary.Write(&buf, byteOrder, h.FileID)
	buf.WriteByte(byte(h.Mode))
	return buf.Bytes()
}

func decodeIndexHeader(b []byte) (indexFileHeader, error) {
	var h indexFileHeader
	if len(b) < indexHeaderLen {
		return h, ErrHeaderTruncated
	}
	if string(b[:4]) != indexMagic {
		return h, ErrBadMagic
	}
	h.Version = byteOrder.Uint32(b[4:8])
	if h.Version != indexFileVersion {
		return h, ErrBadVersion
	}
	h.Created = byteOrder.Uint64(b[8:16])
	h.Opened = byteOrder.Uint64(b[16:24])
	h.FileID = byteOrder.Uint16(b[24:26])
	h.Mode = Mode(b[26])
	return h, nil
}

// indexItem is the on-disk fixed header of one index entry, mirrored by
// indexEntry in memory (memindex.go).
type indexItem struct {
	KeyLength int
	Offset    uint32
	Length    uint32
	Previous  uint32
	Flags     EntryFlag
	DataID    uint16
	Timestamp uint32
	CRC       uint32
	ParentID  uint16
	ParentOff uint32
	Key       []byte
}

func encodeIndexItem(it indexItem) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(it.KeyLength))
	binary.Write(&buf, byteOrder, it.Offset)
	binary.Write(&buf, byteOrder, it.Length)
	binary.Write(&buf, byteOrder, it.Previous)
	buf.WriteByte(byte(it.Flags))
	binary.Write(&buf, byteOrder, it.DataID)
	binary.Write(&buf, byteOrder, it.Timestamp)
	binary.Write(&buf, byteOrder, it.CRC)
	binary.Write(&buf, byteOrder, it.ParentID)
	binary.Write(&buf, byteOrder, it.ParentOff)
	buf.Write(it.Key)
	return buf.Bytes()
}

func decodeIndexItemHeader(b []byte) (indexItem, error) {
	var it indexItem
	if len(b) < indexEntryHdrLen {
		return it, ErrHeaderTruncated
	}
	it.KeyLength = int(b[0])
	it.Offset = byteOrder.Uint32(b[1:5])
	it.Length = byteOrder.Uint32(b[5:9])
	it.Previous = byteOrder.Uint32(b[9:13])
	it.Flags = EntryFlag(b[13])
	it.DataID = byteOrder.Uint16(b[14:16])
	it.Timestamp = byteOrder.Uint32(b[16:20])
	it.CRC = byteOrder.Uint32(b[20:24])
	it.ParentID = byteOrder.Uint16(b[24:26])
	it.ParentOff = byteOrder.Uint32(b[26:30])
	return it, nil
}

// indexLog manages the append-only sequence of zdb-index-NNNNN files for one
// namespace directory, plus the one permitted in-place rewrite:
// deleteOnDisk.
type indexLog struct {
	dir      string
	mode     Mode
	active   *os.File
	fileID   uint16
	size     int64
	previous uint32
	sync     bool
	syncTime time.Duration
	lastSync time.Time
}

func indexFileName(dir string, fileID uint16) string {
	return filepath.Join(dir, fmt.Sprintf(indexFilePattern, fileID))
}

func (x *indexLog) openIndexFile(fileID uint16, create bool) (created bool, err error) {
	if x.active != nil {
		x.active.Close()
		x.active = nil
	}

	path := indexFileName(x.dir, fileID)
	flags := os.O_RDWR
	existed := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		existed = false
		if !create {
			return false, fmt.Errorf("index log: %s: %w", path, os.ErrNotExist)
		}
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return false, fmt.Errorf("index log: opening %s: %w", path, err)
	}

	if !existed {
		now := uint64(time.Now().Unix())
		header := encodeIndexHeader(indexFileHeader{Version: indexFileVersion, Created: now, Opened: now, FileID: fileID, Mode: x.mode})
		if _, err := f.Write(header); err != nil {
			f.Close()
			return false, fmt.Errorf("index log: writing header %s: %w", path, err)
		}
	}

	size, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		f.Close()
		return false, err
	}

	x.active = f
	x.fileID = fileID
	x.size = size
	return !existed, nil
}

// loadHeader reads and validates the header of the currently open file
// against the running mode, per spec.md §4.2 ("refuse to mix modes").
func (x *indexLog) loadHeader() (indexFileHeader, error) {
	buf := make([]byte, indexHeaderLen)
	if _, err := x.active.ReadAt(buf, 0); err != nil {
		return indexFileHeader{}, fmt.Errorf("%w: index header", ErrPartialRead)
	}
	h, err := decodeIndexHeader(buf)
	if err != nil {
		return h, err
	}
	if h.Mode != x.mode {
		return h, ErrModeMismatch
	}
	return h, nil
}

// append writes it to the active index file and returns the file-local
// offset it was written at.
func (x *indexLog) append(it indexItem) (offset uint32, err error) {
	encoded := encodeIndexItem(it)
	offset = uint32(x.size)

	n, err := x.active.Write(encoded)
	if err != nil || n != len(encoded) {
		return 0, fmt.Errorf("%w: index log", ErrPartialWrite)
	}
	x.size += int64(n)

	if x.sync {
		x.active.Sync()
		x.lastSync = time.Now()
	} else if x.syncTime > 0 && time.Since(x.lastSync) > x.syncTime {
		x.active.Sync()
		x.lastSync = time.Now()
	}

	return offset, nil
}

// deleteOnDisk is index_entry_delete_disk from spec.md §4.2: the single
// non-append write, rewriting only the fixed header bytes of one known
// entry in place to set FlagDeleted.
func (x *indexLog) deleteOnDisk(fileID uint16, offset uint32) error {
	f, closeIt, err := x.fileFor(fileID, true)
	if err != nil {
		return err
	}
	if closeIt {
		defer f.Close()
	}

	hdr := make([]byte, indexEntryHdrLen)
	if _, err := f.ReadAt(hdr, int64(offset)); err != nil {
		return fmt.Errorf("%w: index delete-on-disk read", ErrPartialRead)
	}
	it, err := decodeIndexItemHeader(hdr)
	if err != nil {
		return err
	}
	it.Flags |= FlagDeleted
	encoded := encodeIndexItem(indexItem{
		KeyLength: it.KeyLength, Offset: it.Offset, Length: it.Length, Previous: it.Previous,
		Flags: it.Flags, DataID: it.DataID, Timestamp: it.Timestamp, CRC: it.CRC,
		ParentID: it.ParentID, ParentOff: it.ParentOff,
	})
	// only the fixed header portion (no key bytes) is rewritten.
	if _, err := f.WriteAt(encoded[:indexEntryHdrLen], int64(offset)); err != nil {
		return fmt.Errorf("engine: index delete-on-disk write: %w", err)
	}
	return nil
}

// overwrite rewrites the fixed-stride slot at (fileID, offset) in full,
// used by the sequential-mode update protocol (sequential.go). previous is
// restored from the on-disk value by the caller before encoding it into it.
func (x *indexLog) overwrite(fileID uint16, offset uint32, it indexItem) error {
	f, closeIt, err := x.fileFor(fileID, true)
	if err != nil {
		return err
	}
	if closeIt {
		defer f.Close()
	}
	encoded := encodeIndexItem(it)
	if _, err := f.WriteAt(encoded, int64(offset)); err != nil {
		return fmt.Errorf("engine: sequential overwrite: %w", err)
	}
	return nil
}

// readItem reads one full index item (header + key) at (fileID, offset).
func (x *indexLog) readItem(fileID uint16, offset uint32) (indexItem, error) {
	f, closeIt, err := x.fileFor(fileID, false)
	if err != nil {
		return indexItem{}, err
	}
	if closeIt {
		defer f.Close()
	}

	hdr := make([]byte, indexEntryHdrLen)
	if _, err := f.ReadAt(hdr, int64(offset)); err != nil {
		return indexItem{}, fmt.Errorf("%w: index read", ErrPartialRead)
	}
	it, err := decodeIndexItemHeader(hdr)
	if err != nil {
		return it, err
	}
	if it.KeyLength > 0 {
		key := make([]byte, it.KeyLength)
		if _, err := f.ReadAt(key, int64(offset)+int64(indexEntryHdrLen)); err != nil {
			return it, fmt.Errorf("%w: index read key", ErrPartialRead)
		}
		it.Key = key
	}
	return it, nil
}

func (x *indexLog) fileFor(fileID uint16, readWrite bool) (f *os.File, closeIt bool, err error) {
	if fileID == x.fileID && x.active != nil {
		return x.active, false, nil
	}
	path := indexFileName(x.dir, fileID)
	mode := os.O_RDONLY
	if readWrite {
		mode = os.O_RDWR
	}
	f, err = os.OpenFile(path, mode, 0o600)
	if err != nil {
		return nil, false, fmt.Errorf("index log: opening %s: %w", path, err)
	}
	return f, true, nil
}

func (x *indexLog) close() error {
	if x.active == nil {
		return nil
	}
	err := x.active.Close()
	x.active = nil
	return err
}
