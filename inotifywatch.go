//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"golang.org/x/sys/unix"
)

// inotifyWatch is one client-visible watch: the (wd, path) pair a
// caller of Add gets back. For a directory it also owns one
// watchDep per currently-known child, so that kqueue activity on any
// child file can be attributed back to this watch. Grounded on
// inotify-watch.c's struct i_watch.
type inotifyWatch struct {
	id   int32
	wrk  *worker
	fd   int
	mode uint32
	mask Mask

	// rootDep is this watch's own "is_parent" registration.
	rootDep *watchDep
	// rootWatch is the kqueue-level watch rootDep lives on.
	rootWatch *watch

	// deps is nil for a non-directory watch. For a directory it tracks
	// the last directory listing taken, so the next diff has something
	// to compare against.
	deps *depList
	// subDeps maps a depItem to the watchDep representing its
	// subwatch, so rename/remove can find and detach it.
	subDeps map[*depItem]*watchDep

	skipSubfiles bool

	// closed is set the moment IN_IGNORED has been enqueued for this
	// watch (via rm_watch, IN_ONESHOT, or an implicit DELETE_SELF/
	// UNMOUNT), so a kevent still in flight for an already-torn-down
	// watch is not translated twice, inotify-watch.c's IN_IGNORED +
	// "closed" bookkeeping in iwatch_free.
	closed bool
}

func newInotifyWatch(wrk *worker, id int32, fd int, mask Mask, skipSubfiles bool) (*inotifyWatch, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, err
	}

	iw := &inotifyWatch{
		id:           id,
		wrk:          wrk,
		fd:           fd,
		mode:         uint32(st.Mode) & unix.S_IFMT,
		mask:         mask,
		subDeps:      make(map[*depItem]*watchDep),
		skipSubfiles: skipSubfiles,
	}

	w := wrk.watches.find(uint64(st.Dev), uint64(st.Ino))
	if w == nil {
		w = newWatch(fd, &st)
		wrk.watches.insert(w)
	}
	iw.rootWatch = w
	iw.rootDep = w.addDep(iw, nil)
	if err := updateEvent(wrk.kq, w); err != nil {
		w.delDep(iw.rootDep)
		return nil, err
	}

	if isDirMode(iw.mode) && !iw.skipSubfiles {
		listing, err := scanDir(fd)
		if err != nil {
			return nil, err
		}
		iw.deps = listing
		for _, name := range listing.sortedNames() {
			iw.addSubwatch(listing.find(name))
		}
	} else {
		iw.deps = newDepList()
	}

	return iw, nil
}

// addSubwatch opens the child di names (relative to iw.fd) and attaches
// a watchDep for it, sharing an existing watch if one is already open
// for that (dev, inode) — e.g. a hardlinked or bind-mounted sibling.
// Grounded on inotify-watch.c's iwatch_add_subwatch, including its
// mountpoint-crossing and race-detection handling.
func (iw *inotifyWatch) addSubwatch(di *depItem) {
	if iw.wantSkipSubfilesFS() {
		return
	}

	fd, err := watchOpen(iw.fd, di.name, iw.mask&^InDontFollow)
	if err != nil {
		debugLogf("addSubwatch %s: open failed: %v", di.name, err)
		return
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return
	}

	if uint64(st.Dev) != di.dev {
		// Mount boundary: a subfile opened by name resolved onto a
		// different filesystem than readdir reported. Keep the
		// listing-time inode on di so the differ doesn't treat this
		// as a perpetual replace, and don't cross the mount: close
		// the fd we just opened and don't register a watch.
		unix.Close(fd)
		return
	}
	if uint64(st.Ino) != di.inode {
		// Raced with a replace between listing and open: di no longer
		// names what we thought. Look up (or create) the watch for
		// what's there now instead of silently watching the wrong
		// object.
		di.inode = uint64(st.Ino)
	}

	w := iw.wrk.watches.find(uint64(st.Dev), uint64(st.Ino))
	if w == nil {
		w = newWatch(fd, &st)
		iw.wrk.watches.insert(w)
	} else {
		unix.Close(fd)
	}

	wd := w.addDep(iw, di)
	iw.subDeps[di] = wd
	if err := updateEvent(iw.wrk.kq, w); err != nil {
		debugLogf("addSubwatch %s: register failed: %v", di.name, err)
	}
}

// delSubwatch detaches di's watchDep and, if that was the watch's last
// dependent, closes and forgets the underlying kqueue watch.
func (iw *inotifyWatch) delSubwatch(di *depItem) {
	wd, ok := iw.subDeps[di]
	if !ok {
		return
	}
	delete(iw.subDeps, di)

	w := iw.wrk.watches.find(di.dev, di.inode)
	if w == nil {
		return
	}
	w.delDep(wd)
	if w.isDepsEmpty() {
		iw.wrk.watches.delete(w)
		w.close()
		return
	}
	updateEvent(iw.wrk.kq, w)
}

// moveSubwatch repoints the subwatch for "from" onto "to": the
// underlying fd and kqueue watch are unaffected by a rename, only the
// depItem label the watchDep is keyed by changes.
func (iw *inotifyWatch) moveSubwatch(from, to *depItem) {
	wd, ok := iw.subDeps[from]
	if !ok {
		iw.addSubwatch(to)
		return
	}
	delete(iw.subDeps, from)
	wd.di = to
	iw.subDeps[to] = wd
}

// updateMask merges newMask into iw.mask (or replaces it, honoring
// IN_MASK_ADD) and recomputes every kqueue registration it touches,
// inotify-watch.c's iwatch_update_flags.
func (iw *inotifyWatch) updateMask(newMask Mask) {
	if newMask.Has(InMaskAdd) {
		iw.mask |= newMask &^ InMaskAdd
	} else {
		iw.mask = newMask
	}

	updateEvent(iw.wrk.kq, iw.rootWatch)
	for di := range iw.subDeps {
		w := iw.wrk.watches.find(di.dev, di.inode)
		if w != nil {
			updateEvent(iw.wrk.kq, w)
		}
	}
}

// close tears down every watch this inotifyWatch depends on.
func (iw *inotifyWatch) close() {
	for di, wd := range iw.subDeps {
		w := iw.wrk.watches.find(di.dev, di.inode)
		if w != nil {
			w.delDep(wd)
			if w.isDepsEmpty() {
				iw.wrk.watches.delete(w)
				w.close()
			}
		}
	}
	iw.subDeps = nil

	iw.rootWatch.delDep(iw.rootDep)
	if iw.rootWatch.isDepsEmpty() {
		iw.wrk.watches.delete(iw.rootWatch)
		iw.rootWatch.close()
	}
}

// wantSkipSubfilesFS reports whether iw's root directory lives on a
// filesystem type the instance was configured to never open per-child
// subwatches on (network filesystems where that would be prohibitively
// expensive), inotify-watch.c's iwatch_want_skip_subfiles.
func (iw *inotifyWatch) wantSkipSubfilesFS() bool {
	if len(iw.wrk.skipSubfilesFS) == 0 {
		return false
	}
	var st unix.Statfs_t
	if err := unix.Fstatfs(iw.fd, &st); err != nil {
		return false
	}
	name := fstypeName(&st)
	for _, fstype := range iw.wrk.skipSubfilesFS {
		if name == fstype {
			return true
		}
	}
	return false
}
