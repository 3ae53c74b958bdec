//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// collect drains in.Events() for a short settling window and returns
// whatever arrived, keyed loosely enough that ordering jitter between
// the kqueue notification and the directory-diff pass doesn't make
// these tests flaky.
func collect(t *testing.T, in *Instance, window time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(window)
	for {
		select {
		case ev, ok := <-in.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			return got
		}
	}
}

func hasEvent(events []Event, name string, bit Mask) bool {
	for _, ev := range events {
		if ev.Name == name && ev.Mask.Has(bit) {
			return true
		}
	}
	return false
}

func TestAddWatchRejectsEmptyMask(t *testing.T) {
	in, err := Open()
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	_, err = in.AddWatch(ctx, t.TempDir(), 0)
	require.Error(t, err)
	require.ErrorIs(t, err, EINVAL)
}

func TestAddWatchRejectsMissingPath(t *testing.T) {
	in, err := Open()
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	_, err = in.AddWatch(ctx, filepath.Join(t.TempDir(), "does-not-exist"), InCreate)
	require.Error(t, err)
	require.ErrorIs(t, err, ENOENT)
}

func TestDirectoryCreateAndDelete(t *testing.T) {
	dir := t.TempDir()
	in, err := Open()
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	wd, err := in.AddWatch(ctx, dir, InCreate|InDelete)
	require.NoError(t, err)
	require.Greater(t, wd, int32(0))

	f := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(f, []byte("hi"), 0o644))
	require.NoError(t, os.Remove(f))

	events := collect(t, in, 2*time.Second)
	require.True(t, hasEvent(events, "a.txt", InCreate), "expected IN_CREATE for a.txt, got %v", events)
	require.True(t, hasEvent(events, "a.txt", InDelete), "expected IN_DELETE for a.txt, got %v", events)
}

func TestRenameProducesCookiePair(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.txt"), []byte("x"), 0o644))

	in, err := Open()
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	_, err = in.AddWatch(ctx, dir, InMovedFrom|InMovedTo)
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(dir, "old.txt"), filepath.Join(dir, "new.txt")))

	events := collect(t, in, 2*time.Second)

	var from, to *Event
	for i := range events {
		if events[i].Name == "old.txt" && events[i].Mask.Has(InMovedFrom) {
			from = &events[i]
		}
		if events[i].Name == "new.txt" && events[i].Mask.Has(InMovedTo) {
			to = &events[i]
		}
	}
	require.NotNil(t, from, "missing IN_MOVED_FROM, got %v", events)
	require.NotNil(t, to, "missing IN_MOVED_TO, got %v", events)
	require.Equal(t, from.Cookie, to.Cookie)
	require.NotZero(t, from.Cookie)
}

func TestHardlinkAttribWithoutDeleteSelf(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	in, err := Open()
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	_, err = in.AddWatch(ctx, target, InAttrib|InDeleteSelf)
	require.NoError(t, err)

	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Link(target, link))

	events := collect(t, in, 2*time.Second)
	require.True(t, hasEvent(events, "", InAttrib), "expected IN_ATTRIB for the link count change, got %v", events)
	for _, ev := range events {
		require.False(t, ev.Mask.Has(InDeleteSelf), "hardlink should not trigger IN_DELETE_SELF: %v", ev)
	}
}

func TestRemoveWatchEmitsIgnored(t *testing.T) {
	dir := t.TempDir()
	in, err := Open()
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	wd, err := in.AddWatch(ctx, dir, InCreate)
	require.NoError(t, err)

	require.NoError(t, in.RemoveWatch(ctx, wd))

	events := collect(t, in, time.Second)
	require.True(t, hasEvent(events, "", InIgnored), "expected IN_IGNORED, got %v", events)
}

func TestRemoveWatchUnknownWDFails(t *testing.T) {
	in, err := Open()
	require.NoError(t, err)
	defer in.Close()

	err = in.RemoveWatch(context.Background(), 999999)
	require.Error(t, err)
	require.ErrorIs(t, err, EINVAL)
}

func TestSetParamMaxQueuedEventsOverflows(t *testing.T) {
	dir := t.TempDir()
	in, err := Open(WithMaxQueuedEvents(2))
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	_, err = in.AddWatch(ctx, dir, InCreate)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f"+string(rune('a'+i))), nil, 0o644))
	}

	events := collect(t, in, 2*time.Second)
	require.True(t, hasEvent(events, "", InQOverflow), "expected an IN_Q_OVERFLOW sentinel, got %d events", len(events))
}

func TestCloseStopsDeliveringEvents(t *testing.T) {
	in, err := Open()
	require.NoError(t, err)

	require.NoError(t, in.Close())
	require.NoError(t, in.Close()) // idempotent

	_, ok := <-in.Events()
	require.False(t, ok, "Events channel should be closed after Close")
}

func TestOneshotClosesAfterFirstDirectoryEvent(t *testing.T) {
	dir := t.TempDir()
	in, err := Open()
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	wd, err := in.AddWatch(ctx, dir, InCreate|InDelete|InOneshot)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0o644))

	events := collect(t, in, 2*time.Second)
	require.True(t, hasEvent(events, "a.txt", InCreate), "expected the first IN_CREATE, got %v", events)
	require.True(t, hasEvent(events, "", InIgnored), "expected IN_IGNORED after the first event, got %v", events)
	require.False(t, hasEvent(events, "b.txt", InCreate), "oneshot watch should not report a second create, got %v", events)

	for _, ev := range events {
		require.Equal(t, wd, ev.Watch, "all events should belong to the oneshot watch, got %v", ev)
	}
}

func TestDeleteSelfAutoClosesWatch(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	in, err := Open()
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	_, err = in.AddWatch(ctx, target, InAttrib|InDeleteSelf)
	require.NoError(t, err)

	require.NoError(t, os.Remove(target))

	events := collect(t, in, 2*time.Second)
	require.True(t, hasEvent(events, "", InDeleteSelf), "expected IN_DELETE_SELF, got %v", events)
	require.True(t, hasEvent(events, "", InIgnored), "DELETE_SELF should auto-close the watch with IN_IGNORED, got %v", events)
}

// IN_EXCL_UNLINK is accepted as a valid mask bit (it must not trip the
// empty-mask EINVAL check when combined with a real event bit) but,
// matching original_source — which defines the constant in
// sys/inotify.h and never implements any suppression logic for it —
// this package does not special-case it either; see DESIGN.md.
func TestExclUnlinkBitDoesNotBlockWatchCreation(t *testing.T) {
	dir := t.TempDir()
	in, err := Open()
	require.NoError(t, err)
	defer in.Close()

	ctx := context.Background()
	wd, err := in.AddWatch(ctx, dir, InModify|InExclUnlink)
	require.NoError(t, err)
	require.Greater(t, wd, int32(0))
}
