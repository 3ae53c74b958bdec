//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import (
	"context"
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/sync/semaphore"
)

// Instance is one inotify-compatible watch group: the Go analog of an
// fd returned by inotify_init1(2). Every exported method here does
// nothing but validate arguments and hand a command to the worker
// goroutine — all translation logic lives in watch.go/worker.go/
// differ.go beneath it, per controller.c's thin entry points.
type Instance struct {
	wrk *worker

	// sem bounds the instance to one in-flight command at a time,
	// client-side half of worker.c's worker_post/worker_wait
	// rendezvous. golang.org/x/sync/semaphore.Weighted is used instead
	// of a bare mutex so a caller can bound how long it waits to submit
	// a command via context.Context.
	sem *semaphore.Weighted

	events chan Event
	errs   chan error

	closeOnce sync.Once
	readDone  chan struct{}
}

// Open creates a new Instance, the equivalent of inotify_init1.
func Open(opts ...Option) (*Instance, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	wrk, err := newWorker(cfg.skipSubfilesFS, cfg.maxEvents)
	if err != nil {
		return nil, wrapErrno("init", EMFILE, err)
	}
	if cfg.nonblock {
		unix.SetNonblock(wrk.sockFDs[1], true)
	}

	inst := &Instance{
		wrk:    wrk,
		sem:    semaphore.NewWeighted(1),
		events:   make(chan Event, 64),
		errs:     make(chan error, 4),
		readDone: make(chan struct{}),
	}
	globalInstances.publish(wrk.sockFDs[1], wrk)

	go inst.readLoop()
	return inst, nil
}

// Fd returns the client-facing file descriptor, usable exactly like a
// real inotify fd with read(2)/select(2)/poll(2) — the struct
// inotify_event wire format this package produces is byte-for-byte the
// one sys/inotify.h describes.
func (in *Instance) Fd() int { return in.wrk.sockFDs[1] }

// Events returns the channel of decoded events. Prefer this over Fd
// for Go-native consumers; Fd remains for compatibility with code that
// expects a literal inotify descriptor.
func (in *Instance) Events() <-chan Event { return in.events }

// Errors reports internal faults that aren't associated with any one
// watch (a failed read off the client socket, a worker teardown).
// Per-watch problems are reported as IN_IGNORED/IN_Q_OVERFLOW events on
// Events instead, matching real inotify's semantics.
func (in *Instance) Errors() <-chan error { return in.errs }

// AddWatch adds or updates a watch on path, inotify_add_watch. Passing
// IN_MASK_ADD in mask merges into an existing watch's mask instead of
// replacing it.
func (in *Instance) AddWatch(ctx context.Context, path string, mask Mask) (int32, error) {
	if mask&InAllEvents == 0 && !mask.Has(InMaskAdd) {
		return 0, wrapErrno("add_watch", EINVAL, nil)
	}
	cmd := newCommand(cmdAdd)
	cmd.path = path
	cmd.mask = mask
	if err := in.submit(ctx, cmd); err != nil {
		return 0, err
	}
	return cmd.resultWD, cmd.resultErr
}

// RemoveWatch removes the watch identified by wd, inotify_rm_watch.
func (in *Instance) RemoveWatch(ctx context.Context, wd int32) error {
	cmd := newCommand(cmdRemove)
	cmd.wd = wd
	if err := in.submit(ctx, cmd); err != nil {
		return err
	}
	return cmd.resultErr
}

// SetParam sets a libinotify-specific tunable (IN_SOCKBUFSIZE or
// IN_MAX_QUEUED_EVENTS), inotify_set_param.
func (in *Instance) SetParam(ctx context.Context, param int, value int64) error {
	cmd := newCommand(cmdParam)
	cmd.param = param
	cmd.value = value
	if err := in.submit(ctx, cmd); err != nil {
		return err
	}
	return cmd.resultErr
}

func (in *Instance) submit(ctx context.Context, cmd *command) error {
	if err := in.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer in.sem.Release(1)
	return in.wrk.submit(cmd)
}

// Close tears down the instance: every watch is released, the worker
// goroutine exits, and both Events and Errors are closed once the
// internal read loop observes the socket going away.
func (in *Instance) Close() error {
	in.closeOnce.Do(func() {
		globalInstances.remove(in.wrk.sockFDs[1])
		in.wrk.close()
		<-in.readDone
	})
	return nil
}

// readLoop decodes struct inotify_event records off the worker's
// client socket and republishes them as Event values on in.events,
// giving Go callers a channel-based API on top of the byte-for-byte
// wire format Fd() also exposes directly. Only this goroutine ever
// sends on or closes in.events/in.errs.
func (in *Instance) readLoop() {
	defer close(in.readDone)
	defer close(in.events)
	defer close(in.errs)

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := unix.Read(in.wrk.sockFDs[1], chunk)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				// The client asked for a nonblocking fd via
				// WithFlags(IN_NONBLOCK); this loop still needs to block
				// internally, so wait for readability with poll(2)
				// instead of spinning.
				if werr := waitReadable(in.wrk.sockFDs[1]); werr != nil && werr != unix.EINTR {
					select {
					case in.errs <- wrapErrno("read", EBADF, werr):
					default:
					}
					return
				}
				continue
			}
			select {
			case in.errs <- wrapErrno("read", EBADF, err):
			default:
			}
			return
		}
		if n == 0 {
			return
		}
		buf = append(buf, chunk[:n]...)

		for len(buf) >= rawEventHeaderSize {
			nameLen := int(binary.LittleEndian.Uint32(buf[12:16]))
			total := rawEventHeaderSize + nameLen
			if len(buf) < total {
				break
			}
			ev := Event{
				Watch:  int32(binary.LittleEndian.Uint32(buf[0:4])),
				Mask:   Mask(binary.LittleEndian.Uint32(buf[4:8])),
				Cookie: binary.LittleEndian.Uint32(buf[8:12]),
			}
			if nameLen > 0 {
				name := buf[rawEventHeaderSize:total]
				if i := indexNUL(name); i >= 0 {
					name = name[:i]
				}
				ev.Name = string(name)
			}
			in.events <- ev
			buf = buf[total:]
		}
	}
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// waitReadable blocks until fd has data to read, used only to make the
// internal readLoop's retry-on-EAGAIN well-behaved when the client end
// has been put in IN_NONBLOCK mode. poll(2) is used instead of
// select(2) so the fd_set word size doesn't need to vary per platform.
func waitReadable(fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	_, err := unix.Poll(fds, -1)
	return err
}
