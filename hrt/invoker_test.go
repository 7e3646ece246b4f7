package hrt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvoker_SeededWithFirstWatcher(t *testing.T) {
	task := &Task{}
	first := &Watcher{task: task}
	inv := newInvoker(task, first)
	assert.True(t, inv.hasWatchers())
	assert.Same(t, first, inv.popWatcher())
	assert.False(t, inv.hasWatchers())
	assert.Nil(t, inv.popWatcher())
}

func TestInvoker_FIFOOrdering(t *testing.T) {
	task := &Task{}
	w1 := &Watcher{task: task}
	w2 := &Watcher{task: task}
	w3 := &Watcher{task: task}

	inv := newInvoker(task, w1)
	inv.queueWatcher(w2)
	inv.queueWatcher(w3)

	assert.Same(t, w1, inv.popWatcher())
	assert.Same(t, w2, inv.popWatcher())
	assert.Same(t, w3, inv.popWatcher())
	assert.Nil(t, inv.popWatcher())
}
