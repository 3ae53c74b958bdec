//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import "strings"

// Mask is the inotify event bitmask, exactly as defined by
// sys/inotify.h in the original libinotify-kqueue. Values are fixed and
// part of this package's wire contract; they must never be renumbered.
type Mask uint32

const (
	InAccess       Mask = 0x00000001
	InModify       Mask = 0x00000002
	InAttrib       Mask = 0x00000004
	InCloseWrite   Mask = 0x00000008
	InCloseNowrite Mask = 0x00000010
	InClose             = InCloseWrite | InCloseNowrite
	InOpen         Mask = 0x00000020
	InMovedFrom    Mask = 0x00000040
	InMovedTo      Mask = 0x00000080
	InMove              = InMovedFrom | InMovedTo
	InCreate       Mask = 0x00000100
	InDelete       Mask = 0x00000200
	InDeleteSelf   Mask = 0x00000400
	InMoveSelf     Mask = 0x00000800

	InUnmount   Mask = 0x00002000
	InQOverflow Mask = 0x00004000
	InIgnored   Mask = 0x00008000

	InOnlydir    Mask = 0x01000000
	InDontFollow Mask = 0x02000000
	InExclUnlink Mask = 0x04000000
	InMaskAdd    Mask = 0x20000000
	InIsdir      Mask = 0x40000000
	InOneshot    Mask = 0x80000000

	InAllEvents = InAccess | InModify | InAttrib | InCloseWrite |
		InCloseNowrite | InOpen | InMovedFrom | InMoveSelf |
		InMovedTo | InDelete | InCreate | InDeleteSelf
)

// Parameter keys for (*Instance).SetParam, matching inotify_set_param.
const (
	InSockbufsize       = 0
	InMaxQueuedEvents   = 1
	InDefSockbufsize    = 4096
	InDefMaxQueuedEvent = 16384
)

// Init flags for Open, mirroring inotify_init1's flags argument.
const (
	InCloexec  = 02000000
	InNonblock = 00004000
)

var maskNames = []struct {
	bit  Mask
	name string
}{
	{InAccess, "IN_ACCESS"},
	{InModify, "IN_MODIFY"},
	{InAttrib, "IN_ATTRIB"},
	{InCloseWrite, "IN_CLOSE_WRITE"},
	{InCloseNowrite, "IN_CLOSE_NOWRITE"},
	{InOpen, "IN_OPEN"},
	{InMovedFrom, "IN_MOVED_FROM"},
	{InMovedTo, "IN_MOVED_TO"},
	{InCreate, "IN_CREATE"},
	{InDelete, "IN_DELETE"},
	{InDeleteSelf, "IN_DELETE_SELF"},
	{InMoveSelf, "IN_MOVE_SELF"},
	{InUnmount, "IN_UNMOUNT"},
	{InQOverflow, "IN_Q_OVERFLOW"},
	{InIgnored, "IN_IGNORED"},
	{InIsdir, "IN_ISDIR"},
}

// Has reports whether m contains every bit in bits.
func (m Mask) Has(bits Mask) bool { return m&bits == bits }

// String renders the set bits of m in ascending bit-value order (the
// order of maskNames), joined with '|'.
func (m Mask) String() string {
	var b strings.Builder
	for _, n := range maskNames {
		if m&n.bit == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('|')
		}
		b.WriteString(n.name)
	}
	if b.Len() == 0 {
		return "0"
	}
	return b.String()
}

// Event is the decoded, client-facing form of a struct inotify_event.
// Watch identifies which watch the event belongs to; it is -1 for queue
// sentinels (IN_Q_OVERFLOW has no meaningful watch), matching the
// kernel's own inotify behavior.
type Event struct {
	Watch  int32
	Mask   Mask
	Cookie uint32
	Name   string
}

func (e Event) String() string {
	if e.Name == "" {
		return e.Mask.String()
	}
	return e.Mask.String() + " " + e.Name
}
