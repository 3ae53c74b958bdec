//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import "golang.org/x/sys/unix"

// diFlag is the transient state dl_calculate assigns to a depItem during
// one diff pass (dep-list.c's DI_* bits above the S_IFMT mode mask).
type diFlag uint8

const (
	diUnchanged diFlag = 1 << iota
	diReadded
	diMoved
	diReplaced
)

// depItem is one directory entry as tracked between successive
// directory listings, grounded on dep-list.c's struct dep_item.
type depItem struct {
	name  string
	inode uint64
	dev   uint64
	// mode holds only the S_IFMT type bits (S_IFDIR, S_IFREG, S_IFLNK,
	// ...); it is never the full permission mode.
	mode uint32

	flags diFlag

	// pair links a MOVED_FROM depItem to its MOVED_TO counterpart (or
	// vice versa) for the duration of one diff pass.
	pair *depItem

	// replacee is set on a freshly-listed item that reuses an old item's
	// name under a different inode (dep-list.c's DI_READDED): it points
	// at the old occupant of that name. If this item turns out to be a
	// rename's destination, diffDir flags replacee diReplaced instead of
	// leaving it to fall through as a plain removal.
	replacee *depItem
}

func newDepItem(name string, st *unix.Stat_t) *depItem {
	return &depItem{
		name:  name,
		inode: uint64(st.Ino),
		dev:   uint64(st.Dev),
		mode:  uint32(st.Mode) & unix.S_IFMT,
	}
}

func (di *depItem) isDir() bool  { return di.mode&unix.S_IFMT == unix.S_IFDIR }
func (di *depItem) isReg() bool  { return di.mode&unix.S_IFMT == unix.S_IFREG }
func (di *depItem) isLink() bool { return di.mode&unix.S_IFMT == unix.S_IFLNK }

// sameInode reports whether a and b name the same filesystem object,
// dep-list.c's dep_item_cmp key.
func sameInode(a, b *depItem) bool { return a.inode == b.inode && a.dev == b.dev }
