//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskHas(t *testing.T) {
	m := InCreate | InIsdir
	assert.True(t, m.Has(InCreate))
	assert.True(t, m.Has(InIsdir))
	assert.False(t, m.Has(InDelete))
}

func TestMaskString(t *testing.T) {
	assert.Equal(t, "IN_CREATE", InCreate.String())
	assert.Equal(t, "0", Mask(0).String())
	assert.Contains(t, (InCreate | InIsdir).String(), "IN_CREATE")
	assert.Contains(t, (InCreate | InIsdir).String(), "IN_ISDIR")
}

func TestEventString(t *testing.T) {
	ev := Event{Mask: InCreate, Name: "file.txt"}
	assert.Equal(t, "IN_CREATE file.txt", ev.String())
}
