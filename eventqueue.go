//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// eventQueue buffers decoded events for one Instance until they are
// flushed onto the client-facing socket in struct inotify_event wire
// format, grounded on event-queue.c's struct event_queue.
type eventQueue struct {
	mu sync.Mutex

	maxEvents int
	pending   []Event

	// last mirrors event-queue.c's "last" shadow record: it survives
	// across flush calls so that coalescing still applies to an event
	// that would otherwise be identical to one already handed to the
	// client, per event_queue_enqueue.
	last    *Event
	hasLast bool
}

func newEventQueue(maxEvents int) *eventQueue {
	if maxEvents <= 0 {
		maxEvents = InDefMaxQueuedEvent
	}
	return &eventQueue{maxEvents: maxEvents}
}

func (q *eventQueue) setMaxEvents(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 {
		n = InDefMaxQueuedEvent
	}
	q.maxEvents = n
}

// resetLast drops the coalescing shadow, event_queue_reset_last. The
// worker calls this on every EVFILT_WRITE wake-up of its socket end; it
// does not compare the reported free space against the configured
// socket buffer size, so the shadow is also dropped while the client
// still has unread records buffered.
func (q *eventQueue) resetLast() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hasLast = false
	q.last = nil
}

// enqueue adds ev, coalescing it away if it is identical to the most
// recently enqueued record, and converting to an overflow sentinel
// instead of growing past maxEvents. Mirrors event_queue_enqueue.
func (q *eventQueue) enqueue(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.hasLast && *q.last == ev {
		return
	}

	if len(q.pending) >= q.maxEvents-1 {
		overflow := Event{Watch: -1, Mask: InQOverflow}
		if q.hasLast && *q.last == overflow {
			return
		}
		q.pending = append(q.pending, overflow)
		last := overflow
		q.last = &last
		q.hasLast = true
		return
	}

	q.pending = append(q.pending, ev)
	last := ev
	q.last = &last
	q.hasLast = true
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// take removes and returns every currently pending event, for the
// worker to encode and write out.
func (q *eventQueue) take() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// rawEventHeaderSize is the size of struct inotify_event's fixed prefix from
// sys/inotify.h: wd, mask, cookie, len, followed by a NUL-padded name
// of exactly len bytes.
const rawEventHeaderSize = 16

// encodeEvent renders ev in struct inotify_event wire format, name
// padded to a multiple of 4 bytes the way the kernel's real
// implementation does (so fixed-size struct reads by the client stay
// aligned).
func encodeEvent(ev Event) []byte {
	nameLen := 0
	if ev.Name != "" {
		nameLen = len(ev.Name) + 1 // NUL terminator
		if pad := nameLen % 4; pad != 0 {
			nameLen += 4 - pad
		}
	}

	buf := make([]byte, rawEventHeaderSize+nameLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ev.Watch))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(ev.Mask))
	binary.LittleEndian.PutUint32(buf[8:12], ev.Cookie)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(nameLen))
	if nameLen > 0 {
		copy(buf[16:], ev.Name)
	}
	return buf
}

// flush writes every currently pending event to fd, one write(2) per
// encoded record.
// A failed write leaves the remaining events queued for the next
// attempt rather than dropping them.
func (q *eventQueue) flush(fd int) error {
	events := q.take()
	if len(events) == 0 {
		return nil
	}

	for i, ev := range events {
		if _, err := unix.Write(fd, encodeEvent(ev)); err != nil {
			// Put back whatever didn't make it out; the worker's
			// EVFILT_WRITE readiness will retry.
			q.mu.Lock()
			q.pending = append(events[i:], q.pending...)
			q.mu.Unlock()
			return err
		}
	}
	return nil
}
