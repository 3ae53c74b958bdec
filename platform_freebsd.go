//go:build freebsd

package kqinotify

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// FreeBSD's kqueue carries vnode-note extensions the other BSDs don't:
// NOTE_OPEN/NOTE_CLOSE/NOTE_CLOSE_WRITE/NOTE_READ, and NOTE_EXTEND is
// defined to fire on a directory rename in addition to size/content
// extension. Mirrors watch.c's #ifdef NOTE_OPEN et al., which on this
// platform are always defined.
const (
	noteOpen            = unix.NOTE_OPEN
	noteClose           = unix.NOTE_CLOSE
	noteCloseWrite      = unix.NOTE_CLOSE_WRITE
	noteRead            = unix.NOTE_READ
	hasNoteExtendOnMove = true
)

// o_path is FreeBSD 14's O_PATH-equivalent flag, not yet in x/sys/unix
// for every arch; kept here as fsnotify's system_freebsd.go does.
const o_path = 0x00400000

const openMode = unix.O_RDONLY | unix.O_NONBLOCK | unix.O_CLOEXEC

// openNofollow degrades to a no-op on FreeBSD releases before 13, where
// there's no way to open a symlink itself non-destructively; matches
// watch_open's "#else O_NOFOLLOW #endif" fallback behavior in spirit,
// except older FreeBSD can't express it at all.
var openNofollow = func() int {
	var n unix.Utsname
	unix.Uname(&n)
	v, _, ok := strings.Cut(string(n.Release[:]), ".")
	if !ok {
		return 0
	}
	vv, _ := strconv.Atoi(v)
	if vv < 13 {
		return 0
	}
	return o_path | unix.O_NOFOLLOW
}()

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
