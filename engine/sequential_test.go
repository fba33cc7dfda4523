package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeqMapResolveLargestFirstIDLessEqual(t *testing.T) {
	var m seqMap
	m.push(0, 0)
	m.push(1000, 1)
	m.push(2500, 2)

	mapping, ok := m.resolve(1500)
	require.True(t, ok)
	require.Equal(t, uint16(1), mapping.FileID)

	mapping, ok = m.resolve(0)
	require.True(t, ok)
	require.Equal(t, uint16(0), mapping.FileID)

	mapping, ok = m.resolve(2500)
	require.True(t, ok)
	require.Equal(t, uint16(2), mapping.FileID)
}

func TestSeqMapResolveEmpty(t *testing.T) {
	var m seqMap
	_, ok := m.resolve(0)
	require.False(t, ok)
}

func TestSeqOffsetFormula(t *testing.T) {
	require.Equal(t, uint32(indexHeaderLen), seqOffset(0))
	require.Equal(t, uint32(indexHeaderLen)+seqSlotStride, seqOffset(1))
	require.Equal(t, uint32(indexHeaderLen)+3*seqSlotStride, seqOffset(3))
}

func TestEncodeDecodeSeqKeyRoundTrip(t *testing.T) {
	for _, id := range []uint32{0, 1, 255, 65536, 0xFFFFFFFF} {
		key := encodeSeqKey(id)
		require.Len(t, key, 4)
		require.Equal(t, id, decodeSeqKey(key))
	}
}

func TestFixSequentialPreviousLeavesValidValue(t *testing.T) {
	// previous strictly less than current offset: untouched.
	require.Equal(t, uint32(100), fixSequentialPrevious(100, 200))
}

func TestFixSequentialPreviousRepairsCorruptValue(t *testing.T) {
	current := seqOffset(5)
	expected := seqOffset(4)
	// corrupt: previous >= current offset
	got := fixSequentialPrevious(current, current)
	require.Equal(t, expected, got)
}

func TestFixSequentialPreviousSentinelAtFileStart(t *testing.T) {
	current := seqOffset(0) // first slot in the file: no preceding slot exists
	got := fixSequentialPrevious(current, current)
	require.Equal(t, uint32(1), got)
}

func TestFixSequentialPreviousNoSentinelAtSecondSlot(t *testing.T) {
	current := seqOffset(1) // second slot: preceding slot is slot 0, a valid offset
	got := fixSequentialPrevious(current, current)
	require.Equal(t, seqOffset(0), got)
}

func TestSeqOverwriteRestoresPreviousAndRewritesSlot(t *testing.T) {
	x := newTestIndexLog(t, ModeSequential)
	var m seqMap
	m.push(0, 0)

	original := indexItem{KeyLength: 4, Offset: 10, Length: 3, Previous: 1, CRC: 5, Key: encodeSeqKey(0)}
	_, err := x.append(original)
	require.NoError(t, err)

	fresh := indexItem{Offset: 99, Length: 8, CRC: 9}
	require.NoError(t, x.seqOverwrite(&m, 0, fresh))

	got, _, _, err := x.seqRead(&m, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(99), got.Offset)
	require.Equal(t, uint32(1), got.Previous) // restored from on-disk original
}

func TestSeqReadNotFoundOutsideMap(t *testing.T) {
	x := newTestIndexLog(t, ModeSequential)
	var m seqMap
	_, _, _, err := x.seqRead(&m, 0)
	require.ErrorIs(t, err, ErrNotFound)
}
