package hrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_AppendAndPeekUTF8(t *testing.T) {
	b := NewBuffer(EncodingUTF8, nil)
	b.AppendASCII([]byte("hello, "))
	b.AppendASCII([]byte("world"))
	assert.Equal(t, 12, b.Length())

	_, err := b.PeekUTF8()
	require.ErrorIs(t, err, ErrBufferNotLocked)

	b.Lock()
	s, err := b.PeekUTF8()
	require.NoError(t, err)
	assert.Equal(t, "hello, world", s)

	// peeking again should return the same content unchanged
	s2, err := b.PeekUTF8()
	require.NoError(t, err)
	assert.Equal(t, s, s2)
}

func TestBuffer_AppendAfterLockPanics(t *testing.T) {
	b := NewBuffer(EncodingUTF8, nil)
	b.Lock()
	assert.PanicsWithValue(t, ErrBufferLocked, func() {
		b.AppendASCII([]byte("too late"))
	})
}

func TestBuffer_StealIsSingleConsumer(t *testing.T) {
	b := NewBuffer(EncodingUTF8, nil)
	b.AppendASCII([]byte("payload"))
	b.Lock()

	s, err := b.StealUTF8()
	require.NoError(t, err)
	assert.Equal(t, "payload", s)
	assert.Equal(t, 0, b.Length())

	assert.Panics(t, func() {
		_, _ = b.StealUTF8()
	})
}

func TestBuffer_EncodingMismatch(t *testing.T) {
	b := NewBuffer(EncodingUTF8, nil)
	b.Lock()
	_, err := b.PeekUTF16()
	assert.ErrorIs(t, err, ErrEncodingMismatch)
}

func TestBuffer_UTF16Widening(t *testing.T) {
	b := NewBuffer(EncodingUTF16, nil)
	b.AppendASCII([]byte("abc"))
	b.Lock()
	u, err := b.PeekUTF16()
	require.NoError(t, err)
	require.Len(t, u, 3)
	assert.Equal(t, uint16('a'), u[0])
	assert.Equal(t, uint16('b'), u[1])
	assert.Equal(t, uint16('c'), u[2])
	assert.Equal(t, 6, b.WriteSize())
}

func TestBuffer_RefcountRunsCloserOnce(t *testing.T) {
	b := NewBuffer(EncodingBinary, nil)
	closed := 0
	b.SetCloser(closerFunc(func() { closed++ }))
	b.Ref()
	b.Unref()
	assert.Equal(t, 0, closed)
	b.Unref()
	assert.Equal(t, 1, closed)
}

type closerFunc func()

func (f closerFunc) Close() { f() }

func TestBuffer_GrowthIsAdditiveNotDoubling(t *testing.T) {
	b := NewBuffer(EncodingUTF8, nil)
	b.AppendASCII([]byte("12345"))
	firstAlloc := len(b.buf8)
	assert.Equal(t, 6, firstAlloc) // exact-fit: length+1

	b.AppendASCII([]byte("67890"))
	// new_needed = 10+1 = 11; new_allocated = 11 + 6 = 17
	assert.Equal(t, 17, len(b.buf8))
}
