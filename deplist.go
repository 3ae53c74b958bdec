//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"io"
	"os"
	"sort"

	"golang.org/x/sys/unix"
)

// depList is the set of children of one watched directory, keyed by
// name, mirroring dep-list.c's struct dep_list (there a sorted array,
// here a map since Go maps are the idiomatic sub-linear lookup).
type depList struct {
	items map[string]*depItem
}

func newDepList() *depList {
	return &depList{items: make(map[string]*depItem)}
}

func (dl *depList) find(name string) *depItem { return dl.items[name] }

func (dl *depList) insert(di *depItem) { dl.items[di.name] = di }

func (dl *depList) remove(name string) { delete(dl.items, name) }

func (dl *depList) len() int { return len(dl.items) }

// clearFlags drops the transient diFlag bits a prior diffDir pass left
// behind, dep-list.c's dl_clearflags.
func (dl *depList) clearFlags() {
	for _, di := range dl.items {
		di.flags = 0
		di.pair = nil
		di.replacee = nil
	}
}

// sortedNames returns the child names in a stable order, used only to
// make diff output and tests deterministic; dep-list.c sorts its array
// by name for the same reason.
func (dl *depList) sortedNames() []string {
	names := make([]string, 0, len(dl.items))
	for name := range dl.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// clone returns an independent copy, used to snapshot "before" state
// ahead of a diff.
func (dl *depList) clone() *depList {
	out := newDepList()
	for name, di := range dl.items {
		cp := *di
		cp.flags = 0
		cp.pair = nil
		cp.replacee = nil
		out.items[name] = &cp
	}
	return out
}

// scanDir lists the children currently under the directory opened on
// fd, one fstatat per entry to obtain the inode and type bits a BSD
// readdir(3) would return directly. dl_readdir / dl_listing in
// dep-list.c get this for free from struct dirent's d_ino/d_type; Go's
// directory-reading primitives don't expose d_ino portably across the
// five kqueue platforms this package targets, so inotify-watch.c's own
// fstatat fallback path (used there when d_type is DT_UNKNOWN) is used
// unconditionally instead. See DESIGN.md.
func scanDir(fd int) (*depList, error) {
	dupfd, err := unix.Dup(fd)
	if err != nil {
		return nil, err
	}

	if _, err := unix.Seek(dupfd, 0, io.SeekStart); err != nil {
		unix.Close(dupfd)
		return nil, err
	}

	// os.NewFile arms a finalizer that closes dupfd; closing it a second
	// time via unix.Close would let that finalizer later close whatever
	// fd number GC happens to find reused. f.Close() is the only close.
	f := os.NewFile(uintptr(dupfd), "watched-dir")
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	dl := newDepList()
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		var st unix.Stat_t
		if err := unix.Fstatat(fd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			// Entry vanished between readdir and stat; treat it as
			// never having been listed this pass.
			continue
		}
		dl.insert(newDepItem(name, &st))
	}
	return dl, nil
}
