//go:build darwin

package hrt

import "golang.org/x/sys/unix"

// pipeWake is the darwin wakeSource: Darwin has no eventfd, so this is a
// self-pipe, a direct port of eventloop.wakeup_darwin.go's pipe usage.
type pipeWake struct {
	r, w int
}

func newWakeSource() (wakeSource, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		return nil, err
	}
	return &pipeWake{r: fds[0], w: fds[1]}, nil
}

func (w *pipeWake) fdNum() int { return w.r }

func (w *pipeWake) wake() {
	_, _ = unix.Write(w.w, []byte{0})
}

func (w *pipeWake) drain() {
	var buf [64]byte
	for {
		if _, err := unix.Read(w.r, buf[:]); err != nil {
			return
		}
	}
}

func (w *pipeWake) close() error {
	err1 := unix.Close(w.r)
	err2 := unix.Close(w.w)
	if err1 != nil {
		return err1
	}
	return err2
}
