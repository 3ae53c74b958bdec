//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"golang.org/x/sys/unix"
)

// watch is one kqueue-level EVFILT_VNODE registration: exactly one open
// file descriptor, shared by every inotify-level watch that happens to
// resolve to the same (dev, inode). Grounded on watch.c/watch.h's
// struct watch.
type watch struct {
	fd     int
	dev    uint64
	ino    uint64
	fflags uint32

	// skipNext suppresses the one self-induced NOTE_READ/NOTE_OPEN/
	// NOTE_CLOSE that follows a directory listing taken to compute a
	// diff, per worker-thread.c's skip_next heuristic.
	skipNext bool

	deps []*watchDep
}

// watchDep is one inotify-level subscriber of a watch: either the
// InotifyWatch's own root (di == nil, "is_parent" in the original), or
// one of its directory children (di identifies which one).
type watchDep struct {
	iw *inotifyWatch
	di *depItem
}

func (wd *watchDep) isParent() bool { return wd.di == nil }

func (wd *watchDep) mode() uint32 {
	if wd.di == nil {
		return wd.iw.mode
	}
	return wd.di.mode
}

func newWatch(fd int, st *unix.Stat_t) *watch {
	return &watch{
		fd:  fd,
		dev: uint64(st.Dev),
		// ino is always the fstat-reported inode. addSubwatch in
		// inotifywatch.go opens no watch for a child whose device
		// differs from its listing (a mount point).
		ino: uint64(st.Ino),
	}
}

func (w *watch) isDepsEmpty() bool { return len(w.deps) == 0 }

func (w *watch) findDep(iw *inotifyWatch, di *depItem) *watchDep {
	for _, wd := range w.deps {
		if wd.iw == iw && wd.di == di {
			return wd
		}
	}
	return nil
}

func (w *watch) addDep(iw *inotifyWatch, di *depItem) *watchDep {
	wd := &watchDep{iw: iw, di: di}
	w.deps = append(w.deps, wd)
	return wd
}

func (w *watch) delDep(target *watchDep) {
	for i, wd := range w.deps {
		if wd == target {
			w.deps = append(w.deps[:i], w.deps[i+1:]...)
			return
		}
	}
}

func (w *watch) close() {
	if w.fd != -1 {
		unix.Close(w.fd)
		w.fd = -1
	}
}

// isRegMode/isDirMode/isLnkMode test the S_IFMT type bits of a raw
// stat mode, watch.c's S_ISREG/S_ISDIR/S_ISLNK.
func isRegMode(mode uint32) bool { return mode&unix.S_IFMT == unix.S_IFREG }
func isDirMode(mode uint32) bool { return mode&unix.S_IFMT == unix.S_IFDIR }
func isLnkMode(mode uint32) bool { return mode&unix.S_IFMT == unix.S_IFLNK }

// inotifyToKqueue computes the kqueue EVFILT_VNODE fflags needed to
// satisfy one inotify mask, exactly as watch.c's inotify_to_kqueue:
// mode-dependent filtering, plus the extra always-on bits a "parent"
// (root) watch needs regardless of mask to keep the directory
// differ/move-tracking machinery working.
func inotifyToKqueue(flags Mask, mode uint32, isParent bool) uint32 {
	var result uint32

	if !isRegMode(mode) && !isDirMode(mode) && !isLnkMode(mode) {
		return 0
	}

	if flags.Has(InOpen) {
		result |= noteOpen
	}
	if flags.Has(InCloseNowrite) {
		result |= noteClose
	}
	if flags.Has(InCloseWrite) && isRegMode(mode) {
		result |= noteCloseWrite
	}
	if flags.Has(InAccess) && (isRegMode(mode) || isDirMode(mode)) {
		result |= noteRead
	}
	if flags.Has(InAttrib) {
		result |= unix.NOTE_ATTRIB
	}
	if flags.Has(InModify) && isRegMode(mode) {
		result |= unix.NOTE_WRITE
	}
	if isParent {
		if isDirMode(mode) {
			result |= unix.NOTE_WRITE
			if hasNoteExtendOnMove {
				result |= unix.NOTE_EXTEND
			}
		}
		if flags.Has(InAttrib) && isRegMode(mode) {
			result |= unix.NOTE_LINK
		}
		if flags.Has(InMoveSelf) {
			result |= unix.NOTE_RENAME
		}
		result |= unix.NOTE_DELETE | unix.NOTE_REVOKE
	}
	return result
}

// kqueueToInotify is the reverse translation, watch.c's
// kqueue_to_inotify. isDeleted distinguishes a real self-deletion from
// a hardlink count change: NOTE_LINK or NOTE_DELETE on a regular file
// parent always maps to IN_ATTRIB, and NOTE_DELETE adds IN_DELETE_SELF
// there only once the file's link count actually reached zero.
func kqueueToInotify(fflags uint32, mode uint32, isParent bool, isDeleted bool) Mask {
	var result Mask

	if fflags&noteOpen != 0 {
		result |= InOpen
	}
	if fflags&noteClose != 0 {
		result |= InCloseNowrite
	}
	if fflags&noteCloseWrite != 0 {
		result |= InCloseWrite
	}
	if fflags&noteRead != 0 && (isRegMode(mode) || isDirMode(mode)) {
		result |= InAccess
	}

	if fflags&unix.NOTE_ATTRIB != 0 ||
		(fflags&(unix.NOTE_LINK|unix.NOTE_DELETE) != 0 && isRegMode(mode) && isParent) {
		result |= InAttrib
	}

	if fflags&unix.NOTE_WRITE != 0 && isRegMode(mode) {
		result |= InModify
	}

	if fflags&unix.NOTE_DELETE != 0 && isParent && (isDeleted || !isRegMode(mode)) {
		result |= InDeleteSelf
	}

	if fflags&unix.NOTE_RENAME != 0 && isParent {
		result |= InMoveSelf
	}

	if fflags&unix.NOTE_REVOKE != 0 && isParent {
		result |= InUnmount
	}

	if result&(InAttrib|InOpen|InAccess|InClose) != 0 {
		if isDirMode(mode) && isParent {
			result |= InIsdir
		}
	}

	return result
}

// isDeleted reports whether the file behind fd has actually been
// unlinked (st_nlink == 0), grounded on utils.c's is_deleted; it
// disambiguates NOTE_LINK/NOTE_DELETE on a regular file (hardlink count
// change) from an actual removal.
func isDeleted(fd int) bool {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return true
	}
	return st.Nlink == 0
}

// registerEvent installs or updates the EVFILT_VNODE registration for
// w on kq, watch.c's watch_register_event. It is a no-op when fflags is
// already current.
func registerEvent(kq int, w *watch, fflags uint32) error {
	if fflags == w.fflags {
		return nil
	}
	ev := unix.Kevent_t{
		Ident:  uint64(w.fd),
		Filter: unix.EVFILT_VNODE,
		Flags:  unix.EV_ADD | unix.EV_ENABLE | unix.EV_CLEAR,
		Fflags: fflags,
	}
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return err
	}
	w.fflags = fflags
	return nil
}

// updateEvent recomputes w's fflags as the union over all its deps and
// re-registers if that union changed, watch.c's watch_update_event.
func updateEvent(kq int, w *watch) error {
	var fflags uint32
	for _, wd := range w.deps {
		fflags |= inotifyToKqueue(wd.iw.mask, wd.mode(), wd.isParent())
	}
	return registerEvent(kq, w, fflags)
}

// watchOpen opens dirfd-relative path with the flags inotifyToKqueue's
// mode filtering needs applied at the syscall level (O_EVTONLY-or-
// O_RDONLY, nonblocking, close-on-exec, optional no-follow/directory-
// only), grounded on watch.c's watch_open.
func watchOpen(dirfd int, path string, flags Mask) (int, error) {
	openFlags := openMode
	if flags.Has(InDontFollow) {
		openFlags |= openNofollow
	}

	fd, err := unix.Openat(dirfd, path, openFlags, 0)
	if err != nil {
		return -1, err
	}

	if flags.Has(InOnlydir) {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			unix.Close(fd)
			return -1, err
		}
		if !isDirMode(uint32(st.Mode)) {
			unix.Close(fd)
			return -1, unix.ENOTDIR
		}
	}

	return fd, nil
}
