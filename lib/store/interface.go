package store

import "fmt"

// --------------------------------------------------------------------------
// Key Shapes
// --------------------------------------------------------------------------

// Key is the constraint for the key shape a database is parameterized over.
// Two shapes are provided: PlainKey for flat key/value databases and
// CollectionKey for collection-scoped databases. The whole engine is generic
// over the shape, so both flavors share one implementation without any
// shared mutable state.
type Key interface {
	comparable
	// StorageKey returns the flat representation used in the page store.
	// It must be unique per key and stable across runs.
	StorageKey() string
}

// PlainKey is a bare string identifier.
type PlainKey string

func (k PlainKey) StorageKey() string { return string(k) }

// CollectionKey scopes an identifier to a named collection.
type CollectionKey struct {
	Collection string
	Name       string
}

// StorageKey joins collection and name with a separator that cannot occur
// in either part of a well-formed key.
func (k CollectionKey) StorageKey() string { return k.Collection + "\x1f" + k.Name }

func (k CollectionKey) String() string { return k.Collection + "/" + k.Name }

// --------------------------------------------------------------------------
// Record Type
// --------------------------------------------------------------------------

// Record is a stored value together with its metadata. Both are decoded
// forms; encoding happens when a write is staged and decoding when a read
// misses the connection cache.
type Record struct {
	Value interface{}
	Meta  interface{}
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type for all failures surfaced by the store layer.
// It wraps a return code (of type RetCode) and an error message. Errors from
// the physical page store are wrapped, never leaked as raw engine errors.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new store Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewErrorf creates a new store Error with a formatted message.
func NewErrorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess             RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                      // 1: Operation failed due to an internal error.
	RetCOpenError                          // 2: Database could not be opened (bad path, incompatible reopen).
	RetCRegistrationConflict               // 3: Extension name or instance already registered.
	RetCCommitConflict                     // 4: The page store reported a durability failure on commit.
	RetCExtensionHookFailed                // 5: An extension hook failed; the transaction was rolled back.
	RetCInvalidOperation                   // 6: Invalid operation (closed handle, busy connection, ...).
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCOpenError:
		return "OpenError"
	case RetCRegistrationConflict:
		return "RegistrationConflict"
	case RetCCommitConflict:
		return "CommitConflict"
	case RetCExtensionHookFailed:
		return "ExtensionHookFailed"
	case RetCInvalidOperation:
		return "InvalidOperation"
	default:
		return "Unknown"
	}
}
