package engine

// EntryFlag marks per-entry state shared by the data log and index log.
type EntryFlag uint8

const (
	// FlagDeleted marks a tombstone: the key has been removed but the
	// entry is kept so replay reproduces the same logical state.
	FlagDeleted EntryFlag = 1 << iota
	// FlagTruncated marks a data entry whose payload was cut short by a
	// partial write detected on a later load.
	FlagTruncated
)

func (f EntryFlag) has(flag EntryFlag) bool {
	return f&flag != 0
}
