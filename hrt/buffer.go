package hrt

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Encoding identifies how a Buffer's content is laid out (spec.md §3, §4.1).
type Encoding int

const (
	EncodingInvalid Encoding = iota
	EncodingUTF8
	EncodingUTF16
	EncodingBinary
)

func (e Encoding) String() string {
	switch e {
	case EncodingUTF8:
		return "utf8"
	case EncodingUTF16:
		return "utf16"
	case EncodingBinary:
		return "binary"
	default:
		return "invalid"
	}
}

// Allocator supplies the backing storage for a Buffer's content, standing in
// for the original's allocator-vtable hook (spec.md §6.3). Alloc returns a
// slice of exactly n bytes; Realloc returns a slice of exactly n bytes with
// the prefix of b preserved; Free releases a slice obtained from Alloc or
// Realloc.
type Allocator interface {
	Alloc(n int) []byte
	Realloc(b []byte, n int) []byte
	Free(b []byte)
}

// Closer is run exactly once, when the last reference to a Buffer using it
// is released, standing in for the original allocator's destroy-notify.
type Closer interface {
	Close()
}

// DefaultAllocator is a plain Go-slice allocator: Go's GC already removes
// the non-GC-allocation concern the original's libc-backed hook guards
// against, so this is the zero-value, dependency-free default. Custom
// Allocators exist for pooling (e.g. backed by sync.Pool).
type DefaultAllocator struct{}

func (DefaultAllocator) Alloc(n int) []byte { return make([]byte, n) }

func (DefaultAllocator) Realloc(b []byte, n int) []byte {
	nb := make([]byte, n)
	copy(nb, b)
	return nb
}

func (DefaultAllocator) Free(b []byte) {}

// Buffer is a reference-counted, single-writer-until-locked byte buffer
// (spec.md §3, §4.1). Content is appended while unlocked; Lock freezes the
// content for reading (Peek) or one-shot consumption (Steal), and for
// non-blocking writes to a file descriptor (Write).
//
// A Buffer is safe to Ref/Unref from multiple goroutines. Append/Lock must
// only be called by the buffer's single producer; Peek/Steal/Write must
// only be called after Lock has returned, and are then safe for any number
// of readers (Steal is single-consumer: a second Steal panics).
type Buffer struct {
	refcount  atomic.Int32
	allocator Allocator
	closer    Closer
	encoding  Encoding

	locked atomic.Bool
	stolen atomic.Bool

	// length is the number of encoded elements (bytes for UTF8/Binary,
	// uint16 code units for UTF16), excluding any trailing NUL.
	length int

	buf8  []byte   // UTF8/Binary backing storage, length+1 bytes allocated (NUL-terminated)
	buf16 []uint16 // UTF16 backing storage, length+1 code units allocated (NUL-terminated)
}

// NewBuffer creates an empty, unlocked Buffer of the given encoding. A nil
// allocator defaults to DefaultAllocator{}.
func NewBuffer(encoding Encoding, allocator Allocator) *Buffer {
	if allocator == nil {
		allocator = DefaultAllocator{}
	}
	b := &Buffer{allocator: allocator, encoding: encoding}
	b.refcount.Store(1)
	return b
}

// NewStaticUTF8 returns an already-locked UTF8 buffer wrapping s, useful for
// constants that never need appending to.
func NewStaticUTF8(s string) *Buffer {
	b := NewBuffer(EncodingUTF8, DefaultAllocator{})
	b.AppendASCII([]byte(s))
	b.Lock()
	return b
}

// SetCloser attaches a Closer, run exactly once when the buffer's last
// reference is released.
func (b *Buffer) SetCloser(c Closer) { b.closer = c }

// Encoding reports the buffer's encoding.
func (b *Buffer) Encoding() Encoding { return b.encoding }

// Ref increments the buffer's reference count.
func (b *Buffer) Ref() { b.refcount.Add(1) }

// Unref decrements the reference count, releasing backing storage and
// running the Closer (if any) when it reaches zero.
func (b *Buffer) Unref() {
	if b.refcount.Add(-1) != 0 {
		return
	}
	switch b.encoding {
	case EncodingUTF8, EncodingBinary:
		if b.buf8 != nil {
			b.allocator.Free(b.buf8)
			b.buf8 = nil
		}
	case EncodingUTF16:
		b.buf16 = nil
	}
	if b.closer != nil {
		b.closer.Close()
	}
}

// Lock freezes the buffer's content. Idempotent.
func (b *Buffer) Lock() { b.locked.Store(true) }

// IsLocked reports whether Lock has been called.
func (b *Buffer) IsLocked() bool { return b.locked.Load() }

// Length returns the number of encoded elements currently stored.
func (b *Buffer) Length() int { return b.length }

// AppendASCII appends raw bytes to an unlocked UTF8/Binary buffer, or widens
// each byte to a UTF16 code unit for a UTF16 buffer. Panics if the buffer is
// locked or if p is appended to a buffer of an encoding it cannot widen from
// (there is no ASCII-widening rule for Binary beyond a raw byte copy, which
// is what this does).
func (b *Buffer) AppendASCII(p []byte) {
	if b.locked.Load() {
		panic(ErrBufferLocked)
	}
	if len(p) == 0 {
		return
	}
	switch b.encoding {
	case EncodingUTF8, EncodingBinary:
		b.growUTF8(len(p))
		copy(b.buf8[b.length:], p)
		b.buf8[b.length+len(p)] = 0
		b.length += len(p)
	case EncodingUTF16:
		b.growUTF16(len(p))
		for i, c := range p {
			b.buf16[b.length+i] = uint16(c)
		}
		b.buf16[b.length+len(p)] = 0
		b.length += len(p)
	default:
		panic("hrt: buffer has no encoding")
	}
}

// growUTF8 grows buf8 so it can hold b.length+extra elements plus a
// trailing NUL. The first allocation is exact-fit; subsequent reallocations
// grow additively (new_allocated = new_needed + old_allocated), matching
// the original's growth formula rather than naive doubling.
func (b *Buffer) growUTF8(extra int) {
	needed := b.length + extra + 1
	if needed <= len(b.buf8) {
		return
	}
	if b.buf8 == nil {
		b.buf8 = b.allocator.Alloc(needed)
		return
	}
	newAllocated := needed + len(b.buf8)
	b.buf8 = b.allocator.Realloc(b.buf8, newAllocated)
}

func (b *Buffer) growUTF16(extra int) {
	needed := b.length + extra + 1
	if needed <= len(b.buf16) {
		return
	}
	nb := make([]uint16, needed)
	if b.buf16 != nil {
		newAllocated := needed + len(b.buf16)
		nb = make([]uint16, newAllocated)
	}
	copy(nb, b.buf16)
	b.buf16 = nb
}

// PeekUTF8 returns the buffer's content as a string without consuming it.
// Requires the buffer to be locked and UTF8-encoded.
func (b *Buffer) PeekUTF8() (string, error) {
	if !b.locked.Load() {
		return "", ErrBufferNotLocked
	}
	if b.encoding != EncodingUTF8 {
		return "", ErrEncodingMismatch
	}
	return string(b.buf8[:b.length]), nil
}

// PeekBytes returns the buffer's raw content without consuming it. Requires
// the buffer to be locked and UTF8- or Binary-encoded.
func (b *Buffer) PeekBytes() ([]byte, error) {
	if !b.locked.Load() {
		return nil, ErrBufferNotLocked
	}
	if b.encoding != EncodingUTF8 && b.encoding != EncodingBinary {
		return nil, ErrEncodingMismatch
	}
	return b.buf8[:b.length], nil
}

// PeekUTF16 returns the buffer's content as UTF16 code units without
// consuming it. Requires the buffer to be locked and UTF16-encoded.
func (b *Buffer) PeekUTF16() ([]uint16, error) {
	if !b.locked.Load() {
		return nil, ErrBufferNotLocked
	}
	if b.encoding != EncodingUTF16 {
		return nil, ErrEncodingMismatch
	}
	return b.buf16[:b.length], nil
}

// StealUTF8 consumes the buffer's content, returning it as a string and
// resetting the buffer to empty. Requires the buffer to be locked and
// UTF8-encoded. Panics if already stolen: Steal is single-consumer.
func (b *Buffer) StealUTF8() (string, error) {
	s, err := b.PeekUTF8()
	if err != nil {
		return "", err
	}
	b.markStolen()
	b.buf8 = nil
	b.length = 0
	return s, nil
}

// StealBytes is StealUTF8's Binary/UTF8 raw-byte counterpart.
func (b *Buffer) StealBytes() ([]byte, error) {
	p, err := b.PeekBytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p))
	copy(out, p)
	b.markStolen()
	b.buf8 = nil
	b.length = 0
	return out, nil
}

// StealUTF16 is StealUTF8's UTF16 counterpart.
func (b *Buffer) StealUTF16() ([]uint16, error) {
	p, err := b.PeekUTF16()
	if err != nil {
		return nil, err
	}
	out := make([]uint16, len(p))
	copy(out, p)
	b.markStolen()
	b.buf16 = nil
	b.length = 0
	return out, nil
}

func (b *Buffer) markStolen() {
	if !b.stolen.CompareAndSwap(false, true) {
		panic(ErrBufferAlreadyStolen)
	}
}

// WriteSize returns the total wire-format byte length of the buffer's
// content (UTF16 code units are 2 bytes each on the wire). Requires the
// buffer to be locked.
func (b *Buffer) WriteSize() int { return b.writeSize() }

// writeSize returns the total byte length of the buffer's wire
// representation (UTF16 code units are 2 bytes each on the wire).
func (b *Buffer) writeSize() int {
	switch b.encoding {
	case EncodingUTF8, EncodingBinary:
		return b.length
	case EncodingUTF16:
		return b.length * 2
	default:
		return 0
	}
}

// writeBytes materializes the buffer's wire representation. For UTF8/Binary
// this is a zero-copy view; for UTF16 it packs code units little-endian.
func (b *Buffer) writeBytes() []byte {
	switch b.encoding {
	case EncodingUTF8, EncodingBinary:
		return b.buf8[:b.length]
	case EncodingUTF16:
		out := make([]byte, b.length*2)
		for i, u := range b.buf16[:b.length] {
			binary.LittleEndian.PutUint16(out[i*2:], u)
		}
		return out
	default:
		return nil
	}
}

// bufferWriteMu serializes the construction of a writeBytes() view across
// goroutines sharing a single locked buffer's Write calls; content itself
// is immutable once locked so this only protects the UTF16 packing
// scratch allocation from being redundantly rebuilt under a data race
// detector's eyes.
var bufferWriteMu sync.Mutex

// Write attempts a single non-blocking send of up to *remaining trailing
// bytes of the buffer's wire representation to fd, with flags approximating
// the original's MSG_NOSIGNAL|MSG_DONTWAIT|MSG_MORE (spec.md §6.4): more,
// when true, requests MSG_MORE (more buffers queued behind this one).
//
// Requires the buffer to be locked. Returns (true, nil) on success
// (remaining is decremented by the bytes actually sent) or on a transient
// EAGAIN/EWOULDBLOCK/EINTR (remaining is left unchanged, caller should
// retry once the fd is writable again); returns (false, err) on any other,
// fatal error.
func (b *Buffer) Write(fd int, remaining *int, more bool) (bool, error) {
	if !b.locked.Load() {
		return false, ErrBufferNotLocked
	}
	bufferWriteMu.Lock()
	data := b.writeBytes()
	bufferWriteMu.Unlock()
	total := len(data)
	if *remaining > total {
		panic("hrt: remaining exceeds buffer size")
	}
	if *remaining == 0 {
		return true, nil
	}
	off := total - *remaining
	flags := unix.MSG_DONTWAIT
	if more {
		flags |= unix.MSG_MORE
	}
	n, err := unix.Send(fd, data[off:off+*remaining], flags|msgNoSignal)
	if err != nil {
		switch err {
		case unix.EINTR, unix.EAGAIN, unix.EWOULDBLOCK:
			return true, nil
		default:
			return false, err
		}
	}
	*remaining -= n
	return true, nil
}
