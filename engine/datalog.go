package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zdbio/zdb/internal/crc"
)

// Wire layout of the data log, spec.md §4.1/§6. File header:
//
//	magic[4]="DAT0", version u32, created u64, opened u64, fileid u16
//
// Entry header, followed by key bytes then payload bytes:
//
//	keylen u8, datalen u32, previous u32, crc u32, flags u8, timestamp u32
const (
	dataMagic        = "DAT0"
	dataFileVersion  = 1
	dataHeaderLen    = 4 + 4 + 8 + 8 + 2
	dataEntryHdrLen  = 1 + 4 + 4 + 4 + 1 + 4
	dataFilePattern  = "zdb-data-%05d"
	maxKeyLength     = 255
)

var byteOrder = binary.LittleEndian

type dataFileHeader struct {
	Version uint32
	Created uint64
	Opened  uint64
	FileID  uint16
}

func encodeDataHeader(h dataFileHeader) []byte {
	var buf bytes.Buffer
	buf.WriteString(dataMagic)
	binary.Write(&buf, byteOrder, h.Version)
	binary.Write(&buf, byteOrder, h.Created)
	binary.Write(&buf, byteOrder, h.Opened)
	binary.Write(&buf, byteOrder, h.FileID)
	return buf.Bytes()
}

func decodeDataHeader(b []byte) (dataFileHeader, error) {
	var h dataFileHeader
	if len(b) < dataHeaderLen {
		return h, ErrHeaderTruncated
	}
	if string(b[:4]) != dataMagic {
		return h, ErrBadMagic
	}
	h.Version = byteOrder.Uint32(b[4:8])
	if h.Version != dataFileVersion {
		return h, ErrBadVersion
	}
	h.Created = byteOrder.Uint64(b[8:16])
	h.Opened = byteOrder.Uint64(b[16:24])
	h.FileID = byteOrder.Uint16(b[24:26])
	return h, nil
}

// dataEntry is the decoded form of one on-disk data log entry.
type dataEntry struct {
	KeyLength int
	DataLen   uint32
	Previous  uint32
	CRC       uint32
	Flags     EntryFlag
	Timestamp uint32
	Key       []byte
	Payload   []byte
}

func encodeDataEntry(e dataEntry) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(e.KeyLength))
	binary.Write(&buf, byteOrder, e.DataLen)
	binary.Write(&buf, byteOrder, e.Previous)
	binary.Write(&buf, byteOrder, e.CRC)
	buf.WriteByte(byte(e.Flags))
	binary.Write(&buf, byteOrder, e.Timestamp)
	buf.Write(e.Key)
	buf.Write(e.Payload)
	return buf.Bytes()
}

func decodeDataEntryHeader(b []byte) (dataEntry, error) {
	var e dataEntry
	if len(b) < dataEntryHdrLen {
		return e, ErrHeaderTruncated
	}
	e.KeyLength = int(b[0])
	e.DataLen = byteOrder.Uint32(b[1:5])
	e.Previous = byteOrder.Uint32(b[5:9])
	e.CRC = byteOrder.Uint32(b[9:13])
	e.Flags = EntryFlag(b[13])
	e.Timestamp = byteOrder.Uint32(b[14:18])
	return e, nil
}

// dataLog manages the append-only sequence of zdb-data-NNNNN files for one
// namespace directory. Only the active (highest-id) file is kept open for
// writing; older files are opened read-only per call and closed immediately,
// per spec.md §5 ("ephemeral read-only fd per call").
type dataLog struct {
	dir        string
	active     *os.File
	fileID     uint16
	size       int64
	lastOffset uint32
	sync       bool
	syncTime   time.Duration
	lastSync   time.Time
}

func dataFileName(dir string, fileID uint16) string {
	return filepath.Join(dir, fmt.Sprintf(dataFilePattern, fileID))
}

// openDataFile opens (creating if absent) fileID as the new active file,
// closing any previously active file first.
func (d *dataLog) openDataFile(fileID uint16, create bool) error {
	if d.active != nil {
		d.active.Close()
		d.active = nil
	}

	path := dataFileName(d.dir, fileID)
	flags := os.O_RDWR
	existed := true
	if _, err := os.Stat(path); os.IsNotExist(err) {
		existed = false
		if !create {
			return fmt.Errorf("data log: %s: %w", path, os.ErrNotExist)
		}
		flags |= os.O_CREATE
	}

	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return fmt.Errorf("data log: opening %s: %w", path, err)
	}

	if !existed {
		now := uint64(time.Now().Unix())
		header := encodeDataHeader(dataFileHeader{Version: dataFileVersion, Created: now, Opened: now, FileID: fileID})
		if _, err := f.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("data log: writing header %s: %w", path, err)
		}
	} else {
		buf := make([]byte, dataHeaderLen)
		if _, err := f.ReadAt(buf, 0); err != nil {
			f.Close()
			return fmt.Errorf("data log: reading header %s: %w", path, err)
		}
		if _, err := decodeDataHeader(buf); err != nil {
			f.Close()
			return fmt.Errorf("data log: %s: %w", path, err)
		}
	}

	size, err := f.Seek(0, os.SEEK_END)
	if err != nil {
		f.Close()
		return err
	}

	d.active = f
	d.fileID = fileID
	d.size = size
	return nil
}

// insert appends a new entry to the active data file and returns its
// file-local offset. A partial write leaves size unchanged and returns
// ErrPartialWrite, per spec.md §4.1 ("partial write is a failure").
func (d *dataLog) insert(key, payload []byte, flags EntryFlag, previous uint32, timestamp uint32) (offset uint32, err error) {
	if len(key) > maxKeyLength {
		return 0, ErrKeyTooLong
	}

	sum := crc.Checksum(payload)
	e := dataEntry{
		KeyLength: len(key),
		DataLen:   uint32(len(payload)),
		Previous:  previous,
		CRC:       sum,
		Flags:     flags,
		Timestamp: timestamp,
		Key:       key,
		Payload:   payload,
	}
	encoded := encodeDataEntry(e)

	offset = uint32(d.size)
	n, err := d.active.Write(encoded)
	if err != nil || n != len(encoded) {
		return 0, fmt.Errorf("%w: data log", ErrPartialWrite)
	}
	d.size += int64(n)

	if d.sync {
		d.active.Sync()
		d.lastSync = time.Now()
	} else if d.syncTime > 0 && time.Since(d.lastSync) > d.syncTime {
		d.active.Sync()
		d.lastSync = time.Now()
	}

	return offset, nil
}

// read returns the payload bytes of the entry at (fileID, offset), skipping
// keyLength bytes of inline key and reading length bytes of payload.
func (d *dataLog) read(fileID uint16, offset uint32, length uint32, keyLength int) ([]byte, error) {
	f, closeIt, err := d.fileFor(fileID)
	if err != nil {
		return nil, err
	}
	if closeIt {
		defer f.Close()
	}

	payload := make([]byte, length)
	if _, err := f.ReadAt(payload, int64(offset)+int64(dataEntryHdrLen)+int64(keyLength)); err != nil {
		return nil, fmt.Errorf("%w: data log read", ErrPartialRead)
	}
	return payload, nil
}

// check re-reads header+payload at (fileID, offset) and recomputes the CRC.
func (d *dataLog) check(fileID uint16, offset uint32, length uint32, keyLength int) (bool, error) {
	f, closeIt, err := d.fileFor(fileID)
	if err != nil {
		return false, err
	}
	if closeIt {
		defer f.Close()
	}

	hdr := make([]byte, dataEntryHdrLen)
	if _, err := f.ReadAt(hdr, int64(offset)); err != nil {
		return false, fmt.Errorf("%w: data log check header", ErrPartialRead)
	}
	decoded, err := decodeDataEntryHeader(hdr)
	if err != nil {
		return false, err
	}

	payload := make([]byte, length)
	if _, err := f.ReadAt(payload, int64(offset)+int64(dataEntryHdrLen)+int64(keyLength)); err != nil {
		return false, fmt.Errorf("%w: data log check payload", ErrPartialRead)
	}

	return crc.Checksum(payload) == decoded.CRC, nil
}

func (d *dataLog) fileFor(fileID uint16) (f *os.File, closeIt bool, err error) {
	if fileID == d.fileID && d.active != nil {
		return d.active, false, nil
	}
	path := dataFileName(d.dir, fileID)
	f, err = os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("data log: opening %s: %w", path, err)
	}
	return f, true, nil
}

func (d *dataLog) close() error {
	if d.active == nil {
		return nil
	}
	err := d.active.Close()
	d.active = nil
	return err
}
