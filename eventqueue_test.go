//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueueCoalescesDuplicates(t *testing.T) {
	q := newEventQueue(16)
	ev := Event{Watch: 1, Mask: InModify}
	q.enqueue(ev)
	q.enqueue(ev)
	q.enqueue(ev)
	assert.Equal(t, 1, q.len())
}

func TestEventQueueResetLastAllowsRepeat(t *testing.T) {
	q := newEventQueue(16)
	ev := Event{Watch: 1, Mask: InModify}
	q.enqueue(ev)
	q.take()
	q.resetLast()
	q.enqueue(ev)
	assert.Equal(t, 1, q.len())
}

func TestEventQueueOverflow(t *testing.T) {
	q := newEventQueue(2)
	q.enqueue(Event{Watch: 1, Mask: InModify})
	q.enqueue(Event{Watch: 1, Mask: InAttrib})
	q.enqueue(Event{Watch: 1, Mask: InOpen})
	q.enqueue(Event{Watch: 1, Mask: InClose})

	events := q.take()
	require.Len(t, events, 2)
	assert.Equal(t, InModify, events[0].Mask)
	assert.Equal(t, InQOverflow, events[1].Mask)
}

func TestEncodeEventRoundTrip(t *testing.T) {
	ev := Event{Watch: 7, Mask: InCreate, Cookie: 99, Name: "hello"}
	buf := encodeEvent(ev)

	require.GreaterOrEqual(t, len(buf), rawEventHeaderSize)
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(InCreate), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint32(99), binary.LittleEndian.Uint32(buf[8:12]))

	nameLen := binary.LittleEndian.Uint32(buf[12:16])
	assert.Equal(t, 0, int(nameLen)%4)
	assert.Equal(t, "hello", string(buf[16:16+len("hello")]))
}

func TestEncodeEventNoName(t *testing.T) {
	buf := encodeEvent(Event{Watch: 1, Mask: InIgnored})
	assert.Equal(t, rawEventHeaderSize, len(buf))
}
