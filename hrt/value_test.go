package hrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValue_String(t *testing.T) {
	v := StringValue("hello")
	assert.Equal(t, ValueKindString, v.Kind())
	s, ok := v.String()
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	_, ok = v.Int32()
	assert.False(t, ok)
	_, ok = v.Float64()
	assert.False(t, ok)
}

func TestValue_Int32(t *testing.T) {
	v := Int32Value(42)
	assert.Equal(t, ValueKindInt32, v.Kind())
	i, ok := v.Int32()
	assert.True(t, ok)
	assert.Equal(t, int32(42), i)
}

func TestValue_Float64(t *testing.T) {
	v := Float64Value(3.5)
	assert.Equal(t, ValueKindFloat64, v.Kind())
	f, ok := v.Float64()
	assert.True(t, ok)
	assert.Equal(t, 3.5, f)
}

func TestValue_Invalid(t *testing.T) {
	var v Value
	assert.False(t, v.IsValid())
	assert.Equal(t, ValueKindInvalid, v.Kind())
}
