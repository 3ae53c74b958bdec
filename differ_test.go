//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeDiff struct {
	removed  []string
	replaced []string
	moved    [][2]string
	added    []string
}

func (f *fakeDiff) onRemoved(old *depItem)  { f.removed = append(f.removed, old.name) }
func (f *fakeDiff) onReplaced(old *depItem) { f.replaced = append(f.replaced, old.name) }
func (f *fakeDiff) onMoved(from, to *depItem) {
	f.moved = append(f.moved, [2]string{from.name, to.name})
}
func (f *fakeDiff) onAdded(new *depItem) { f.added = append(f.added, new.name) }

func di(name string, inode uint64) *depItem {
	return &depItem{name: name, inode: inode, dev: 1, mode: 0}
}

func listOf(items ...*depItem) *depList {
	dl := newDepList()
	for _, it := range items {
		dl.insert(it)
	}
	return dl
}

func TestDiffDirUnchangedProducesNoCallbacks(t *testing.T) {
	before := listOf(di("a", 1), di("b", 2))
	after := listOf(di("a", 1), di("b", 2))

	cb := &fakeDiff{}
	diffDir(before, after, cb)

	assert.Empty(t, cb.removed)
	assert.Empty(t, cb.added)
	assert.Empty(t, cb.moved)
	assert.Empty(t, cb.replaced)
}

func TestDiffDirCreateAndDelete(t *testing.T) {
	before := listOf(di("a", 1))
	after := listOf(di("a", 1), di("b", 2))

	cb := &fakeDiff{}
	diffDir(before, after, cb)
	assert.Equal(t, []string{"b"}, cb.added)
	assert.Empty(t, cb.removed)

	before = listOf(di("a", 1), di("b", 2))
	after = listOf(di("a", 1))
	cb = &fakeDiff{}
	diffDir(before, after, cb)
	assert.Equal(t, []string{"b"}, cb.removed)
	assert.Empty(t, cb.added)
}

func TestDiffDirRename(t *testing.T) {
	before := listOf(di("old", 42))
	after := listOf(di("new", 42))

	cb := &fakeDiff{}
	diffDir(before, after, cb)

	assert.Equal(t, [][2]string{{"old", "new"}}, cb.moved)
	assert.Empty(t, cb.added)
	assert.Empty(t, cb.removed)
}

// TestDiffDirSameNameNewInodeIsRemoveAndAdd covers "rm f; touch f"
// between scans: the name is reused but nothing was renamed into it, so
// it is a plain removed+added pair, not a replace — a replace only
// happens when a rename's destination is what overwrote the name.
func TestDiffDirSameNameNewInodeIsRemoveAndAdd(t *testing.T) {
	before := listOf(di("f", 1))
	after := listOf(di("f", 2))

	cb := &fakeDiff{}
	diffDir(before, after, cb)

	assert.Equal(t, []string{"f"}, cb.removed)
	assert.Equal(t, []string{"f"}, cb.added)
	assert.Empty(t, cb.replaced)
	assert.Empty(t, cb.moved)
}

// TestDiffDirMoveOverwritesExistingName covers "mv foo bar" where bar
// already exists: the destination name is overwritten by the rename, so
// diffDir must report exactly one MOVED_FROM/MOVED_TO pair and route the
// overwritten "bar" through replaced, never removed — neither name gets
// a DELETE or CREATE.
func TestDiffDirMoveOverwritesExistingName(t *testing.T) {
	before := listOf(di("foo", 1), di("bar", 2))
	after := listOf(di("bar", 1))

	cb := &fakeDiff{}
	diffDir(before, after, cb)

	assert.Equal(t, [][2]string{{"foo", "bar"}}, cb.moved)
	assert.Equal(t, []string{"bar"}, cb.replaced)
	assert.Empty(t, cb.removed)
	assert.Empty(t, cb.added)
}

// TestDiffDirRenameChain covers "mv a tmp; mv b a": b's destination
// name is simultaneously a's vacated source, which the overlap pass
// must resolve without treating "a" as a plain create/delete.
func TestDiffDirRenameChain(t *testing.T) {
	before := listOf(di("a", 1), di("b", 2))
	after := listOf(di("tmp", 1), di("a", 2))

	cb := &fakeDiff{}
	diffDir(before, after, cb)

	assert.Empty(t, cb.added)
	assert.Empty(t, cb.removed)
	assert.Empty(t, cb.replaced)
	assert.Len(t, cb.moved, 2)

	var got [][2]string
	got = append(got, cb.moved...)
	sort.Slice(got, func(i, j int) bool { return got[i][0] < got[j][0] })
	assert.Equal(t, [][2]string{{"a", "tmp"}, {"b", "a"}}, got)
}

// TestDiffDirCircularRename covers a and b swapping names between scans
// (e.g. "mv a tmp; mv b a; mv tmp b"): a true
// 2-cycle cannot be ordered without conflict, so both still get emitted
// as moves (not silently dropped) after one "circular rename" log line.
func TestDiffDirCircularRename(t *testing.T) {
	before := listOf(di("a", 1), di("b", 2))
	after := listOf(di("a", 2), di("b", 1))

	cb := &fakeDiff{}
	diffDir(before, after, cb)

	assert.Empty(t, cb.added)
	assert.Empty(t, cb.removed)
	assert.Len(t, cb.moved, 2)
}
