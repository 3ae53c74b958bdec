//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestErrnoFromOpen(t *testing.T) {
	assert.Equal(t, ENOENT, errnoFromOpen(unix.ENOENT))
	assert.Equal(t, ENOTDIR, errnoFromOpen(unix.ENOTDIR))
	assert.Equal(t, EACCES, errnoFromOpen(unix.EACCES))
	assert.Equal(t, EACCES, errnoFromOpen(unix.EPERM))
}

func TestOpErrorIsMatching(t *testing.T) {
	err := wrapErrno("add_watch", ENOENT, unix.ENOENT)
	assert.True(t, errors.Is(err, ENOENT))
	assert.False(t, errors.Is(err, EACCES))
	assert.ErrorContains(t, err, "add_watch")
}
