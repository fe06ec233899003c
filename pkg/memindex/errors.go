package memindex

import "errors"

var (
	// ErrKeyNotFound is returned by Get when the key has no live entry.
	ErrKeyNotFound = errors.New("memindex: key not found")

	// ErrInvalidCAS is not returned by the *CAS mutators: on a seqno
	// mismatch they return an *entry.InvalidCASError carrying the current
	// seqno.
	ErrInvalidCAS = errors.New("memindex: invalid cas")

	// ErrStaleHandle is returned when SetSeqno is attempted while a reader
	// handle still holds an outstanding snapshot.
	ErrStaleHandle = errors.New("memindex: cannot rewind seqno with live readers")

	// ErrCommitNotMonotonic is returned by Commit when an incoming entry's
	// seqno does not strictly exceed the current snapshot's seqno.
	ErrCommitNotMonotonic = errors.New("memindex: commit requires strictly increasing seqno")
)
