package types

import "fmt"

// ErrorKind is the closed error taxonomy of §7.
type ErrorKind int

const (
	// KindDataCorruption is fatal to the container: duplicate store id on
	// remote attach, malformed alias message, op addressed to a deleted
	// context when throwing is enabled.
	KindDataCorruption ErrorKind = iota
	// KindDataProcessing is fatal to processing, surfaced to the runtime:
	// missing context for an op, local store Attaching during
	// summarize/GC.
	KindDataProcessing
	// KindInternalConsistency is a programmer-error assertion: local
	// attach ack without a matching pending entry, unknown message type.
	KindInternalConsistency
	// KindUsage is returned to the caller: invalid object class passed to
	// schema parse.
	KindUsage
	// KindNotFound is returned to the caller as a 404-shaped response.
	KindNotFound
	// KindTransient is swallowed with telemetry: signal to an unknown
	// remote store, deletion of an already-deleted store.
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindDataCorruption:
		return "DataCorruption"
	case KindDataProcessing:
		return "DataProcessing"
	case KindInternalConsistency:
		return "InternalConsistency"
	case KindUsage:
		return "Usage"
	case KindNotFound:
		return "NotFound"
	case KindTransient:
		return "Transient"
	default:
		return "Unknown"
	}
}

// Severity maps a taxonomy entry to the logging level the policy in §7
// calls for: DataCorruption/InternalConsistency halt or close the
// container, DataProcessing is logged as an error and propagated,
// Transient is logged as a warning and swallowed, everything else is
// returned to the caller without server-side escalation.
func (k ErrorKind) Severity() string {
	switch k {
	case KindDataCorruption, KindInternalConsistency:
		return "fatal"
	case KindDataProcessing:
		return "error"
	case KindTransient:
		return "warn"
	default:
		return "info"
	}
}

// Error is the typed error carried through the collection. Op names the
// operation that failed; Err is the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err carries the given taxonomy kind.
func Is(err error, kind ErrorKind) bool {
	var te *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			te = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return te != nil && te.Kind == kind
}

func NewDataCorruptionError(op string, err error) *Error {
	return &Error{Kind: KindDataCorruption, Op: op, Err: err}
}

func NewDataProcessingError(op string, err error) *Error {
	return &Error{Kind: KindDataProcessing, Op: op, Err: err}
}

func NewInternalConsistencyError(op string, err error) *Error {
	return &Error{Kind: KindInternalConsistency, Op: op, Err: err}
}

func NewUsageError(op string, err error) *Error {
	return &Error{Kind: KindUsage, Op: op, Err: err}
}

func NewNotFoundError(op string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

func NewTransientError(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}
