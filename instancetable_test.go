//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceTablePublishLookupRemove(t *testing.T) {
	tbl := &instanceTable{byFD: make(map[int]*worker)}
	w := &worker{}

	_, ok := tbl.lookup(7)
	assert.False(t, ok)

	tbl.publish(7, w)
	got, ok := tbl.lookup(7)
	assert.True(t, ok)
	assert.Same(t, w, got)

	tbl.remove(7)
	_, ok = tbl.lookup(7)
	assert.False(t, ok)
}

func TestInstanceTablePublishEvictsStaleEntry(t *testing.T) {
	tbl := &instanceTable{byFD: make(map[int]*worker)}
	first := &worker{}
	second := &worker{}

	tbl.publish(7, first)
	tbl.publish(7, second) // fd reused by the kernel for a new worker

	got, ok := tbl.lookup(7)
	assert.True(t, ok)
	assert.Same(t, second, got)
}
