package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestIndexLog(t *testing.T, mode Mode) *indexLog {
	t.Helper()
	x := &indexLog{dir: t.TempDir(), mode: mode}
	_, err := x.openIndexFile(0, true)
	require.NoError(t, err)
	return x
}

func TestIndexLogAppendReadItemRoundTrip(t *testing.T) {
	x := newTestIndexLog(t, ModeUserKey)

	it := indexItem{KeyLength: 3, Offset: 50, Length: 10, Previous: 0, DataID: 0, Timestamp: 42, CRC: 7, Key: []byte("abc")}
	offset, err := x.append(it)
	require.NoError(t, err)

	got, err := x.readItem(0, offset)
	require.NoError(t, err)
	require.Equal(t, it.Key, got.Key)
	require.Equal(t, it.Offset, got.Offset)
	require.Equal(t, it.Length, got.Length)
	require.Equal(t, it.CRC, got.CRC)
}

func TestIndexLogDeleteOnDiskSetsFlagOnly(t *testing.T) {
	x := newTestIndexLog(t, ModeUserKey)

	it := indexItem{KeyLength: 1, Offset: 0, Length: 0, Key: []byte("k")}
	offset, err := x.append(it)
	require.NoError(t, err)

	require.NoError(t, x.deleteOnDisk(0, offset))

	got, err := x.readItem(0, offset)
	require.NoError(t, err)
	require.True(t, got.Flags.has(FlagDeleted))
	require.Equal(t, []byte("k"), got.Key)
}

func TestIndexLogOverwriteFullSlot(t *testing.T) {
	x := newTestIndexLog(t, ModeSequential)

	it := indexItem{KeyLength: 4, Offset: 0, Length: 5, CRC: 1, Key: encodeSeqKey(0)}
	offset, err := x.append(it)
	require.NoError(t, err)

	fresh := indexItem{KeyLength: 4, Offset: 99, Length: 7, CRC: 2, Key: encodeSeqKey(0)}
	require.NoError(t, x.overwrite(0, offset, fresh))

	got, err := x.readItem(0, offset)
	require.NoError(t, err)
	require.Equal(t, uint32(99), got.Offset)
	require.Equal(t, uint32(7), got.Length)
	require.Equal(t, uint32(2), got.CRC)
}

func TestIndexLogLoadHeaderRejectsModeMismatch(t *testing.T) {
	x := newTestIndexLog(t, ModeUserKey)
	x.mode = ModeSequential // simulate a running engine opened in a different mode

	_, err := x.loadHeader()
	require.ErrorIs(t, err, ErrModeMismatch)
}

func TestIndexHeaderRoundTrip(t *testing.T) {
	h := indexFileHeader{Version: indexFileVersion, Created: 1, Opened: 2, FileID: 5, Mode: ModeSequential}
	encoded := encodeIndexHeader(h)
	require.Len(t, encoded, indexHeaderLen)

	decoded, err := decodeIndexHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, h, decoded)
}
