package entry

import "errors"

var (
	// ErrKeyNotFound is returned when a key has no entry.
	ErrKeyNotFound = errors.New("entry: key not found")

	// ErrInvalidInput is returned for malformed arguments (e.g. an overlapping
	// seqno range passed to XMerge).
	ErrInvalidInput = errors.New("entry: invalid input")
)

// FatalError wraps a structural invariant violation. Unlike ErrKeyNotFound
// and InvalidCASError, a FatalError poisons the current operation: it does
// not corrupt prior snapshots because those snapshots are immutable.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return "entry: fatal: " + e.Msg }

func NewFatal(msg string) *FatalError { return &FatalError{Msg: msg} }

// InvalidCASError is returned when a CAS mutator's expected seqno does not
// match the current entry's seqno.
type InvalidCASError struct {
	Current Seqno
}

func (e *InvalidCASError) Error() string {
	return "entry: invalid cas, current seqno differs"
}

func NewInvalidCAS(current Seqno) *InvalidCASError {
	return &InvalidCASError{Current: current}
}
