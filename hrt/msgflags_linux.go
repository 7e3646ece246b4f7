//go:build linux

package hrt

import "golang.org/x/sys/unix"

// msgNoSignal suppresses SIGPIPE on a broken-pipe send, matching the
// original's MSG_NOSIGNAL (spec.md §6.4). Linux supports this flag
// directly; Darwin does not (see msgflags_darwin.go).
const msgNoSignal = unix.MSG_NOSIGNAL
