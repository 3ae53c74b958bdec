//go:build darwin

package kqinotify

import "golang.org/x/sys/unix"

// Darwin's xnu kqueue never grew the FreeBSD NOTE_OPEN/NOTE_CLOSE/
// NOTE_CLOSE_WRITE/NOTE_READ extensions, matching watch.c's #ifdef
// NOTE_OPEN / #ifdef NOTE_CLOSE guards compiling out on this platform.
const (
	noteOpen         = 0
	noteClose        = 0
	noteCloseWrite   = 0
	noteRead         = 0
	hasNoteExtendOnMove = false
)

// openMode/openNofollow mirror fsnotify's system_darwin.go exactly:
// O_EVTONLY avoids counting the watch descriptor against an unlink, and
// O_SYMLINK lets IN_DONT_FOLLOW open a symlink itself rather than its
// target (watch.c's "#ifdef O_SYMLINK" branch).
const (
	openMode     = unix.O_EVTONLY | unix.O_CLOEXEC | unix.O_NONBLOCK
	openNofollow = unix.O_SYMLINK
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
