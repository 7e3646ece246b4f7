//go:build linux

package hrt

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// eventfdWake is the linux wakeSource, a direct port of
// eventloop.createWakeFd's eventfd usage.
type eventfdWake struct {
	fd int
}

func newWakeSource() (wakeSource, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &eventfdWake{fd: fd}, nil
}

func (w *eventfdWake) fdNum() int { return w.fd }

func (w *eventfdWake) wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(w.fd, buf[:])
}

func (w *eventfdWake) drain() {
	var buf [8]byte
	for {
		if _, err := unix.Read(w.fd, buf[:]); err != nil {
			return
		}
	}
}

func (w *eventfdWake) close() error { return unix.Close(w.fd) }
