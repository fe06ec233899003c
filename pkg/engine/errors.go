package engine

import "errors"

// ErrClosed is returned by Put, PutCAS and Delete once Close has been called.
var ErrClosed = errors.New("engine: closed")
