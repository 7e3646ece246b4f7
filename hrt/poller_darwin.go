//go:build darwin

package hrt

import "golang.org/x/sys/unix"

// kqueuePoller is the darwin osPoller binding, a direct port of
// eventloop.poller_darwin.go's kqueue usage.
type kqueuePoller struct {
	kq  int
	buf [256]unix.Kevent_t

	// registered tracks which filters are currently active per fd, since
	// kqueue registers read/write interest as separate filters rather
	// than epoll's single combined event mask.
	registered map[int]IOEvents
}

func newOSPoller() (osPoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kq: kq, registered: make(map[int]IOEvents)}, nil
}

func (p *kqueuePoller) applyChanges(fd int, from, to IOEvents) error {
	var changes []unix.Kevent_t
	if from.Has(IOReadable) != to.Has(IOReadable) {
		flag := uint16(unix.EV_ADD | unix.EV_ENABLE)
		if !to.Has(IOReadable) {
			flag = unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flag})
	}
	if from.Has(IOWritable) != to.Has(IOWritable) {
		flag := uint16(unix.EV_ADD | unix.EV_ENABLE)
		if !to.Has(IOWritable) {
			flag = unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flag})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *kqueuePoller) add(fd int, want IOEvents) error {
	if err := p.applyChanges(fd, 0, want); err != nil {
		return err
	}
	p.registered[fd] = want
	return nil
}

func (p *kqueuePoller) modify(fd int, want IOEvents) error {
	from := p.registered[fd]
	if err := p.applyChanges(fd, from, want); err != nil {
		return err
	}
	p.registered[fd] = want
	return nil
}

func (p *kqueuePoller) remove(fd int) error {
	from := p.registered[fd]
	delete(p.registered, fd)
	return p.applyChanges(fd, from, 0)
}

func (p *kqueuePoller) close() error { return unix.Close(p.kq) }

func (p *kqueuePoller) poll(timeoutMs int) ([]readyFD, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}
	n, err := unix.Kevent(p.kq, nil, p.buf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	merged := make(map[int]IOEvents, n)
	for i := 0; i < n; i++ {
		ev := p.buf[i]
		fd := int(ev.Ident)
		var e IOEvents
		switch ev.Filter {
		case unix.EVFILT_READ:
			e |= IOReadable
		case unix.EVFILT_WRITE:
			e |= IOWritable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			e |= IOHangup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			e |= IOError
		}
		merged[fd] |= e
	}
	out := make([]readyFD, 0, len(merged))
	for fd, e := range merged {
		out = append(out, readyFD{fd: fd, events: e})
	}
	return out, nil
}
