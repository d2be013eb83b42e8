// Package engineerr defines the error taxonomy every store and service layer
// surfaces. Kinds are not type names — callers should use
// errors.Is against the sentinel values below, not type assertions.
package engineerr

import "errors"

// Kind classifies an engine-level failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidPath
	KindInvalidHash
	KindNotFound
	KindConflict
	KindBlobMissing
	KindStoreUnavailable
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPath:
		return "InvalidPath"
	case KindInvalidHash:
		return "InvalidHash"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindBlobMissing:
		return "BlobMissing"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindInvariant:
		return "Invariant"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a taxonomy Kind and a human-readable
// message. Its Is method compares Kinds, so errors.Is(err, engineerr.Conflict)
// matches any Conflict-kind error, not just a specific instance; Unwrap
// exposes the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error of the given kind wrapping cause (which may be nil).
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Sentinel values for errors.Is comparisons against a specific kind, e.g.
// errors.Is(err, engineerr.NotFound).
var (
	InvalidPath       = &Error{Kind: KindInvalidPath, Msg: "invalid path"}
	InvalidHash       = &Error{Kind: KindInvalidHash, Msg: "invalid content hash"}
	NotFound          = &Error{Kind: KindNotFound, Msg: "not found"}
	FileNotFound      = &Error{Kind: KindNotFound, Msg: "file not found"}
	DirectoryNotFound = &Error{Kind: KindNotFound, Msg: "directory not found"}
	Conflict          = &Error{Kind: KindConflict, Msg: "conflict"}
	BlobMissing       = &Error{Kind: KindBlobMissing, Msg: "blob missing (corruption)"}
	StoreUnavailable  = &Error{Kind: KindStoreUnavailable, Msg: "store unavailable"}
	Invariant         = &Error{Kind: KindInvariant, Msg: "invariant violation"}
)

// Is reports whether err is classified under kind, unwrapping as errors.Is would.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
