package engine

import "errors"

// Sentinel errors distinguishing the error taxonomy of spec.md §7:
// validation, exhaustion, I/O, corruption, semantic, permission. Callers
// use errors.Is/errors.As against these instead of matching strings.
var (
	// validation
	ErrKeyTooLong  = errors.New("engine: key exceeds 255 bytes")
	ErrEmptyKey    = errors.New("engine: key required in user-key mode")
	ErrInvalidName = errors.New("engine: invalid namespace name")

	// resource exhaustion
	ErrQuotaExceeded  = errors.New("engine: namespace quota exceeded")
	ErrFileIDExhausted = errors.New("engine: file id space exhausted")

	// I/O failure
	ErrPartialWrite = errors.New("engine: partial write")
	ErrPartialRead  = errors.New("engine: partial read")

	// corruption
	ErrBadMagic       = errors.New("engine: bad file magic")
	ErrBadVersion     = errors.New("engine: unsupported file version")
	ErrHeaderTruncated = errors.New("engine: header truncated")
	ErrModeMismatch   = errors.New("engine: index file mode does not match running mode")
	ErrCursorMismatch = errors.New("engine: cursor does not match stored entry")

	// semantic
	ErrNotFound      = errors.New("engine: key not found")
	ErrAlreadyDeleted = errors.New("engine: key already deleted")
	ErrInsertDenied  = errors.New("engine: sequential mode does not accept keyed inserts")
	ErrNoMoreData    = errors.New("engine: no more data")

	// permission
	ErrNamespaceLocked  = errors.New("engine: namespace is read-only locked")
	ErrNamespaceFrozen  = errors.New("engine: namespace is frozen")
	ErrWormViolation    = errors.New("engine: worm namespace forbids overwrite or delete")
	ErrDefaultNamespace = errors.New("engine: the default namespace cannot be deleted")
	ErrNamespaceExists  = errors.New("engine: namespace already exists")
	ErrNamespaceNotFresh = errors.New("engine: namespace is not fresh, mode switch denied")
)
