//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"math"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kqinotify/kqinotify/internal/debuglog"
)

// wakeIdent is the EVFILT_USER identity the command channel triggers to
// pull the worker goroutine out of its blocking kevent wait, the Go
// equivalent of worker.c's EVFILT_USER registration in worker_create.
const wakeIdent = 1

// worker is the single goroutine driving one Instance's kqueue: it
// waits on kevents, translates each into zero or more inotify Events,
// runs the directory differ when a watched directory changes, and
// drains client commands (add/remove/set-param) posted from other
// goroutines. Grounded on worker.c/worker-thread.c's worker_thread.
type worker struct {
	id debuglog.WorkerID

	kq int

	// sockFDs[0] is this worker's write end; sockFDs[1] is handed to
	// the Instance as its read end, worker.c's pipe_init socketpair.
	sockFDs [2]int

	watches *watchSet
	queue   *eventQueue

	mu            sync.Mutex
	iwatches      map[int32]*inotifyWatch
	rootsByDevIno map[devIno]*inotifyWatch
	wdLast        int32
	wdOverflowed  bool

	skipSubfilesFS []string

	cmds        chan *command
	shutdownReq chan struct{}
	closed      chan struct{}
	closeErr    error
}

func newWorker(skipSubfilesFS []string, maxEvents int) (*worker, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		unix.Close(kq)
		return nil, err
	}
	// Only the worker's write end needs O_NONBLOCK: queue.flush runs on
	// the run() goroutine and must never block it on a full send buffer.
	// The client end (fds[1]) stays blocking by default so Instance's own
	// readLoop can block in read(2) instead of spinning; Open() makes it
	// nonblocking afterwards only if the caller asked for WithFlags(IN_NONBLOCK).
	unix.SetNonblock(fds[0], true)
	for _, fd := range fds {
		unix.CloseOnExec(fd)
	}

	wrk := &worker{
		id:             debuglog.NewWorkerID(),
		kq:             kq,
		sockFDs:        [2]int{fds[0], fds[1]},
		watches:        newWatchSet(),
		queue:          newEventQueue(maxEvents),
		iwatches:       make(map[int32]*inotifyWatch),
		rootsByDevIno:  make(map[devIno]*inotifyWatch),
		skipSubfilesFS: skipSubfilesFS,
		cmds:           make(chan *command, 1),
		shutdownReq:    make(chan struct{}),
		closed:         make(chan struct{}),
	}

	changes := []unix.Kevent_t{
		{Ident: wakeIdent, Filter: unix.EVFILT_USER, Flags: unix.EV_ADD | unix.EV_CLEAR},
		{Ident: uint64(fds[0]), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR},
	}
	if _, err := unix.Kevent(kq, changes, nil, nil); err != nil {
		unix.Close(kq)
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}

	debuglog.Printf(wrk.id, "worker created, kq=%d clientfd=%d", kq, fds[1])

	go wrk.run()
	return wrk, nil
}

// wake triggers the EVFILT_USER registration so the worker goroutine's
// blocked kevent call returns and drains wrk.cmds, worker.c's
// worker_post.
func (wrk *worker) wake() error {
	trigger := unix.Kevent_t{Ident: wakeIdent, Filter: unix.EVFILT_USER, Fflags: unix.NOTE_TRIGGER}
	_, err := unix.Kevent(wrk.kq, []unix.Kevent_t{trigger}, nil, nil)
	return err
}

// submit posts cmd to the worker and blocks until it completes.
func (wrk *worker) submit(cmd *command) error {
	select {
	case wrk.cmds <- cmd:
	case <-wrk.closed:
		return wrapErrno("submit", EBADF, wrk.closeErr)
	}
	if err := wrk.wake(); err != nil {
		return err
	}
	select {
	case <-cmd.done:
		return cmd.resultErr
	case <-wrk.closed:
		return wrapErrno("submit", EBADF, wrk.closeErr)
	}
}

// allocateWatchID hands out the next watch descriptor, wrapping at
// INT_MAX and then linearly probing for a free slot, worker.c's
// worker_add_or_modify wd_last/wd_overflow logic.
func (wrk *worker) allocateWatchID() (int32, error) {
	first := wrk.wdLast
	for {
		if wrk.wdLast >= math.MaxInt32 {
			wrk.wdLast = 0
			wrk.wdOverflowed = true
		}
		wrk.wdLast++

		if !wrk.wdOverflowed {
			return wrk.wdLast, nil
		}
		if _, used := wrk.iwatches[wrk.wdLast]; !used {
			return wrk.wdLast, nil
		}
		if wrk.wdLast == first {
			return 0, wrapErrno("add_watch", ENOSPC, nil)
		}
	}
}

func (wrk *worker) run() {
	events := make([]unix.Kevent_t, 32)
	for {
		n, err := unix.Kevent(wrk.kq, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			wrk.teardown(err)
			return
		}

		shuttingDown := false
		for i := 0; i < n; i++ {
			ev := events[i]
			switch ev.Filter {
			case unix.EVFILT_VNODE:
				wrk.handleVnodeEvent(&ev)
			case unix.EVFILT_USER:
				select {
				case <-wrk.shutdownReq:
					shuttingDown = true
				default:
					wrk.drainCommands()
				}
			case unix.EVFILT_WRITE:
				// The client socket reports write space; reset the
				// coalescing shadow so a repeat of an already-delivered
				// event isn't mistaken for a duplicate, event-queue.c's
				// event_queue_reset_last. The amount of free space is
				// not checked.
				wrk.queue.resetLast()
			}
		}

		if wrk.queue.len() > 0 {
			if err := wrk.queue.flush(wrk.sockFDs[0]); err != nil {
				debuglog.Printf(wrk.id, "flush failed: %v", err)
			}
		}

		if shuttingDown {
			wrk.teardown(nil)
			return
		}
	}
}

func (wrk *worker) drainCommands() {
	for {
		select {
		case cmd := <-wrk.cmds:
			wrk.process(cmd)
		default:
			return
		}
	}
}

func (wrk *worker) process(cmd *command) {
	switch cmd.kind {
	case cmdAdd:
		wrk.handleAdd(cmd)
	case cmdRemove:
		wrk.handleRemove(cmd)
	case cmdParam:
		wrk.handleParam(cmd)
	}
}

func (wrk *worker) handleAdd(cmd *command) {
	fd, err := watchOpen(unix.AT_FDCWD, cmd.path, cmd.mask)
	if err != nil {
		cmd.finish(0, wrapErrno("add_watch", errnoFromOpen(err), err))
		return
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		cmd.finish(0, wrapErrno("add_watch", errnoFromOpen(err), err))
		return
	}
	key := devIno{uint64(st.Dev), uint64(st.Ino)}

	wrk.mu.Lock()
	defer wrk.mu.Unlock()

	if existing, ok := wrk.rootsByDevIno[key]; ok {
		unix.Close(fd)
		existing.updateMask(cmd.mask)
		cmd.finish(existing.id, nil)
		return
	}

	id, err := wrk.allocateWatchID()
	if err != nil {
		unix.Close(fd)
		cmd.finish(0, err)
		return
	}

	iw, err := newInotifyWatch(wrk, id, fd, cmd.mask, wrk.wantsSkipSubfiles())
	if err != nil {
		unix.Close(fd)
		cmd.finish(0, wrapErrno("add_watch", errnoFromOpen(err), err))
		return
	}

	wrk.iwatches[id] = iw
	wrk.rootsByDevIno[key] = iw
	cmd.finish(id, nil)
}

func (wrk *worker) handleRemove(cmd *command) {
	wrk.mu.Lock()
	iw, ok := wrk.iwatches[cmd.wd]
	wrk.mu.Unlock()
	if !ok {
		cmd.finish(0, wrapErrno("rm_watch", EINVAL, nil))
		return
	}
	wrk.closeIWatch(iw)
	cmd.finish(0, nil)
}

// closeIWatch tears an inotifyWatch down exactly once: it unlinks iw
// from the worker's lookup tables, enqueues the single IN_IGNORED
// record §4.6 promises, and releases every Watch/WatchDep iw held.
// Called from rm_watch, an IN_ONESHOT watch's first substantive event,
// and an implicit DELETE_SELF/UNMOUNT on the watched object itself.
func (wrk *worker) closeIWatch(iw *inotifyWatch) {
	if iw.closed {
		return
	}
	iw.closed = true

	wrk.mu.Lock()
	delete(wrk.iwatches, iw.id)
	delete(wrk.rootsByDevIno, devIno{iw.rootWatch.dev, iw.rootWatch.ino})
	wrk.mu.Unlock()

	wrk.queue.enqueue(Event{Watch: iw.id, Mask: InIgnored})
	iw.close()
}

func (wrk *worker) handleParam(cmd *command) {
	switch cmd.param {
	case InSockbufsize:
		unix.SetsockoptInt(wrk.sockFDs[0], unix.SOL_SOCKET, unix.SO_SNDBUF, int(cmd.value))
		cmd.finish(0, nil)
	case InMaxQueuedEvents:
		wrk.queue.setMaxEvents(int(cmd.value))
		cmd.finish(0, nil)
	default:
		cmd.finish(0, wrapErrno("set_param", EINVAL, nil))
	}
}

// wantsSkipSubfiles is a placeholder hook kept for symmetry with
// per-instance options; the filesystem-type check itself happens
// lazily in inotifyWatch.wantSkipSubfilesFS against wrk.skipSubfilesFS.
func (wrk *worker) wantsSkipSubfiles() bool { return false }

func (wrk *worker) handleVnodeEvent(kev *unix.Kevent_t) {
	w := wrk.watches.findByFD(int(kev.Ident))
	if w == nil {
		return
	}
	fflags := kev.Fflags

	if w.skipNext {
		fflags &^= uint32(noteRead | noteOpen | noteClose | noteCloseWrite)
		w.skipNext = false
	}

	deleted := isDeleted(w.fd)
	extended := hasNoteExtendOnMove && fflags&unix.NOTE_EXTEND != 0

	deps := append([]*watchDep(nil), w.deps...)
	for _, wd := range deps {
		iw := wd.iw
		if iw.closed {
			continue
		}

		mask := kqueueToInotify(fflags, wd.mode(), wd.isParent(), deleted)
		name := ""
		if wd.di != nil {
			name = wd.di.name
			if wd.di.isDir() {
				mask |= InIsdir
			}
		}
		wrk.produceNotifications(iw, mask, 0, name)

		if wd.isParent() && isDirMode(iw.mode) && !iw.skipSubfiles &&
			(fflags&unix.NOTE_WRITE != 0 || extended) {
			wrk.diffAndNotify(iw, extended)
			w.skipNext = true
		}

		if wd.isParent() && mask&(InDeleteSelf|InUnmount) != 0 {
			// §4.6: DELETE_SELF/UNMOUNT on the watched object itself
			// implicitly closes the watch after its own event, same as
			// an explicit rm_watch.
			wrk.closeIWatch(iw)
			continue
		}
		if iw.mask.Has(InOneshot) && mask&InAllEvents != 0 {
			// §4.6/§8: IN_ONESHOT delivers at most one substantive
			// event, immediately followed by IN_IGNORED.
			wrk.closeIWatch(iw)
		}
	}
}

// ieOrder is the fixed deaggregation order worker-thread.c's
// produce_notifications uses to turn one kevent's fflags bitfield into
// an ordered sequence of separate inotify records.
var ieOrder = []Mask{
	InOpen, InAccess, InModify, InCloseNowrite, InCloseWrite,
	InAttrib, InMoveSelf, InDeleteSelf, InUnmount,
}

func (wrk *worker) produceNotifications(iw *inotifyWatch, mask Mask, cookie uint32, name string) {
	isDirBit := mask & InIsdir
	for _, bit := range ieOrder {
		if mask&bit == 0 {
			continue
		}
		wrk.queue.enqueue(Event{Watch: iw.id, Mask: bit | isDirBit, Cookie: cookie, Name: name})
	}
}

func (wrk *worker) diffAndNotify(iw *inotifyWatch, pendingExtend bool) {
	fresh, err := scanDir(iw.fd)
	if err != nil {
		debuglog.Printf(wrk.id, "diff wd=%d: scanDir failed: %v", iw.id, err)
		return
	}
	cb := &dirDiffCtx{wrk: wrk, iw: iw, pendingExtend: pendingExtend}
	diffDir(iw.deps, fresh, cb)
	iw.deps = fresh

	if cb.fired && iw.mask.Has(InOneshot) {
		wrk.closeIWatch(iw)
	}
}

// teardown runs only on the run() goroutine, whether exiting because a
// shutdown was requested (err == nil) or because the kevent wait
// itself failed. It releases every owned watch and both ends of the
// client socket, then signals close() that the worker is gone.
func (wrk *worker) teardown(err error) {
	wrk.mu.Lock()
	for _, iw := range wrk.iwatches {
		iw.close()
	}
	wrk.iwatches = nil
	wrk.rootsByDevIno = nil
	wrk.mu.Unlock()

	unix.Close(wrk.kq)
	unix.Close(wrk.sockFDs[0])
	unix.Close(wrk.sockFDs[1])

	wrk.closeErr = err
	close(wrk.closed)
}

// close requests the worker goroutine shut itself down and blocks
// until it has, worker.c's worker_free. All fd teardown happens inside
// teardown on the run() goroutine, not here, so a caller never races
// the goroutine that still owns those fds.
func (wrk *worker) close() {
	select {
	case <-wrk.shutdownReq:
	default:
		close(wrk.shutdownReq)
		wrk.wake()
	}
	<-wrk.closed
}

// dirDiffCtx adapts one inotifyWatch's directory-change handling to the
// diffCallbacks interface diffDir drives.
type dirDiffCtx struct {
	wrk           *worker
	iw            *inotifyWatch
	pendingExtend bool

	// fired records whether any callback actually enqueued an event for
	// iw this pass, so diffAndNotify can decide whether an IN_ONESHOT
	// watch's one substantive event has now been delivered.
	fired bool
}

// spent reports whether an IN_ONESHOT watch already had its one event
// enqueued during this pass; later changes of the pass are not reported.
func (d *dirDiffCtx) spent() bool { return d.fired && d.iw.mask.Has(InOneshot) }

func (d *dirDiffCtx) onAdded(n *depItem) {
	if d.spent() {
		return
	}
	d.fired = true
	mask := InCreate
	if d.pendingExtend {
		mask = InMovedTo
	}
	if n.isDir() {
		mask |= InIsdir
	}
	d.wrk.queue.enqueue(Event{Watch: d.iw.id, Mask: mask, Name: n.name})
	d.iw.addSubwatch(n)
}

func (d *dirDiffCtx) onRemoved(o *depItem) {
	if d.spent() {
		return
	}
	d.fired = true
	d.iw.delSubwatch(o)
	mask := InDelete
	if d.pendingExtend {
		mask = InMovedFrom
	}
	if o.isDir() {
		mask |= InIsdir
	}
	d.wrk.queue.enqueue(Event{Watch: d.iw.id, Mask: mask, Name: o.name})
}

// onReplaced stops watching a name that a rename overwrote. It enqueues
// no event: the MOVED_FROM/MOVED_TO pair for the rename that caused the
// overwrite (reported via onMoved) already tells the client everything
// that happened to this name, matching worker-thread.c's handle_replaced.
func (d *dirDiffCtx) onReplaced(old *depItem) {
	d.iw.delSubwatch(old)
}

func (d *dirDiffCtx) onMoved(from, to *depItem) {
	if d.spent() {
		return
	}
	d.fired = true
	cookie := uint32(from.inode)

	fromMask := InMovedFrom
	if from.isDir() {
		fromMask |= InIsdir
	}
	d.wrk.queue.enqueue(Event{Watch: d.iw.id, Mask: fromMask, Cookie: cookie, Name: from.name})

	toMask := InMovedTo
	if to.isDir() {
		toMask |= InIsdir
	}
	d.wrk.queue.enqueue(Event{Watch: d.iw.id, Mask: toMask, Cookie: cookie, Name: to.name})

	d.iw.moveSubwatch(from, to)
}
