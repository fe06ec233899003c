package disktable

import "errors"

var (
	// ErrKeyNotFound is returned by Get when key is absent from the table.
	ErrKeyNotFound = errors.New("disktable: key not found")

	// ErrCorrupt is returned when a trailer/block fails its magic, CRC, or
	// size checks on open.
	ErrCorrupt = errors.New("disktable: corrupt file")

	// ErrClosed is not returned by Table's methods: after Close they fail
	// with the error of the closed underlying file.
	ErrClosed = errors.New("disktable: table closed")
)
