//go:build netbsd || openbsd || dragonfly

package kqinotify

import "golang.org/x/sys/unix"

// NetBSD, OpenBSD and DragonFly BSD have none of FreeBSD's NOTE_OPEN/
// NOTE_CLOSE/NOTE_CLOSE_WRITE/NOTE_READ extensions, and their
// NOTE_EXTEND does not fire on directory rename the way FreeBSD's does.
const (
	noteOpen            = 0
	noteClose           = 0
	noteCloseWrite      = 0
	noteRead            = 0
	hasNoteExtendOnMove = false
)

// These platforms have no O_SYMLINK/O_PATH equivalent, so IN_DONT_FOLLOW
// falls back to plain O_NOFOLLOW: it still rejects following the link,
// it just can't open the link itself as a watchable descriptor. This
// mirrors watch_open's portable "#else O_NOFOLLOW #endif" fallback.
const (
	openMode     = unix.O_RDONLY | unix.O_NONBLOCK | unix.O_CLOEXEC
	openNofollow = unix.O_NOFOLLOW
)

// fstypeName reads the null-terminated filesystem type name out of a
// statfs result, used by SKIP_SUBFILES filesystem matching.
func fstypeName(st *unix.Statfs_t) string {
	b := make([]byte, 0, len(st.Fstypename))
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		b = append(b, byte(c))
	}
	return string(b)
}
