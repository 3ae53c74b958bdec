//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

// diffCallbacks receives the classified changes between two directory
// listings, in the order diffDir decides to emit them. Grounded on
// dep-list.c's dl_calculate, which drives the same four outcomes
// (handle_added/handle_removed/handle_replaced/handle_moved in
// worker-thread.c).
type diffCallbacks interface {
	onRemoved(old *depItem)
	onReplaced(old *depItem)
	onMoved(from, to *depItem)
	onAdded(new *depItem)
}

type moveOp struct {
	from, to *depItem
}

// diffDir compares before against after and reports every change
// through cb; it returns nothing, and the caller keeps after as the new
// "before" for next time. Ordering within one call follows dep-list.c's
// dl_calculate: removals and replacements first (disappearance before
// appearance for a reused name), then paired renames (each pair emitted
// as a MOVED_FROM immediately followed by its MOVED_TO), then plain
// creates.
func diffDir(before, after *depList, cb diffCallbacks) {
	oldByInode := make(map[uint64]*depItem)
	newByInode := make(map[uint64]*depItem)

	unchanged := make(map[string]bool)
	for name, newDi := range after.items {
		if oldDi := before.find(name); oldDi != nil && sameInode(oldDi, newDi) {
			unchanged[name] = true
			continue
		}
	}

	// A new entry that reuses an old entry's name under a different
	// inode is "readded": something used to live at that name and got
	// overwritten. Record what it overwrote so the move-pairing pass
	// below can tell a rename's destination apart from an unrelated
	// create, matching dep-list.c's dl_readdir tagging the fresh item
	// DI_READDED with a replacee pointer.
	for name, newDi := range after.items {
		if unchanged[name] {
			continue
		}
		if oldDi := before.find(name); oldDi != nil {
			newDi.flags |= diReadded
			newDi.replacee = oldDi
		}
	}

	for name, oldDi := range before.items {
		if unchanged[name] {
			continue
		}
		oldByInode[oldDi.inode] = oldDi
	}
	for name, newDi := range after.items {
		if unchanged[name] {
			continue
		}
		newByInode[newDi.inode] = newDi
	}

	var moves []moveOp
	moved := make(map[*depItem]bool)
	for inode, oldDi := range oldByInode {
		newDi, ok := newByInode[inode]
		if !ok {
			continue
		}
		// newDi landing on a readded name means it overwrote whatever
		// that name used to hold; that old occupant is replaced, not
		// removed, and must not get its own IN_DELETE — the MOVED_TO
		// for newDi stands in for it. dep-list.c: di_to->u.s.replacee
		// ->type |= DI_REPLACED.
		if newDi.flags&diReadded != 0 {
			newDi.replacee.flags |= diReplaced
		}
		oldDi.flags |= diMoved
		newDi.flags |= diMoved
		oldDi.pair, newDi.pair = newDi, oldDi
		moves = append(moves, moveOp{from: oldDi, to: newDi})
		moved[oldDi] = true
		moved[newDi] = true
	}

	// Removals and replacements: anything gone from its old name that
	// wasn't paired into a rename.
	for name, oldDi := range before.items {
		if unchanged[name] || moved[oldDi] {
			continue
		}
		if oldDi.flags&diReplaced != 0 {
			cb.onReplaced(oldDi)
		} else {
			cb.onRemoved(oldDi)
		}
	}

	emitMoves(moves, cb)

	// Plain creates: anything new that wasn't paired into a rename.
	for name, newDi := range after.items {
		if unchanged[name] || moved[newDi] {
			continue
		}
		cb.onAdded(newDi)
	}
}

// emitMoves orders paired renames so that, whenever one move's
// destination name is itself being vacated by another pending move in
// this same pass, the vacating move is emitted first. dep-list.c's
// dl_calculate does this with a want_overlap-driven multi-pass loop to
// make chains like "mv a tmp; mv b a" resolve in a sane order; a true
// cycle (a<->b) cannot fully resolve and is broken arbitrarily after
// one log line, matching the original's "Circular rename detected".
func emitMoves(pending []moveOp, cb diffCallbacks) {
	for len(pending) > 0 {
		sources := make(map[string]bool, len(pending))
		for _, mv := range pending {
			sources[mv.from.name] = true
		}

		var remaining []moveOp
		progressed := false
		for _, mv := range pending {
			if sources[mv.to.name] {
				remaining = append(remaining, mv)
				continue
			}
			cb.onMoved(mv.from, mv.to)
			progressed = true
		}
		if !progressed {
			debugLogf("circular rename detected among %d pending moves, breaking arbitrarily", len(remaining))
			for _, mv := range remaining {
				cb.onMoved(mv.from, mv.to)
			}
			return
		}
		pending = remaining
	}
}
