package hio

import "errors"

// ErrChainErrored is delivered to a Stream that is added to (or already
// queued behind a stream in) a Chain that has already entered its errored
// state (spec.md §4.6.2).
var ErrChainErrored = errors.New("hio: output chain has errored")
