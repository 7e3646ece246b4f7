//go:build linux

package hrt

import "golang.org/x/sys/unix"

// epollPoller is the linux osPoller binding, a direct port of
// eventloop.FastPoller's epoll usage, trimmed to this package's needs (no
// direct-indexed 65536-entry fd array - pollEventLoop's own fdMu-guarded
// map already serves that purpose, so the poller itself only
// wraps the epoll fd and its event buffer).
type epollPoller struct {
	epfd int
	buf  [256]unix.EpollEvent
}

func newOSPoller() (osPoller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: fd}, nil
}

func (p *epollPoller) add(fd int, want IOEvents) error {
	ev := unix.EpollEvent{Events: ioEventsToEpoll(want), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) modify(fd int, want IOEvents) error {
	ev := unix.EpollEvent{Events: ioEventsToEpoll(want), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) close() error { return unix.Close(p.epfd) }

func (p *epollPoller) poll(timeoutMs int) ([]readyFD, error) {
	n, err := unix.EpollWait(p.epfd, p.buf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]readyFD, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, readyFD{fd: int(p.buf[i].Fd), events: epollToIOEvents(p.buf[i].Events)})
	}
	return out, nil
}

func ioEventsToEpoll(e IOEvents) uint32 {
	var out uint32
	if e.Has(IOReadable) {
		out |= unix.EPOLLIN
	}
	if e.Has(IOWritable) {
		out |= unix.EPOLLOUT
	}
	return out
}

func epollToIOEvents(e uint32) IOEvents {
	var out IOEvents
	if e&unix.EPOLLIN != 0 {
		out |= IOReadable
	}
	if e&unix.EPOLLOUT != 0 {
		out |= IOWritable
	}
	if e&unix.EPOLLERR != 0 {
		out |= IOError
	}
	if e&unix.EPOLLHUP != 0 {
		out |= IOHangup
	}
	return out
}
