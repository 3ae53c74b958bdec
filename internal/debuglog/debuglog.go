// Package debuglog provides the opt-in diagnostic logging this module
// uses in place of returning internal-only failures to the client,
// grounded on fsnotify's internal/debug_kqueue.go and
// internal/debug_darwin.go (a names table plus a timestamped
// fmt.Fprintf to stderr, gated by an environment variable).
package debuglog

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Enabled mirrors fsnotify's FSNOTIFY_DEBUG gate; set once at process
// start from KQINOTIFY_DEBUG.
var Enabled = os.Getenv("KQINOTIFY_DEBUG") != ""

var out = os.Stderr

// WorkerID is a short, human-distinguishable tag attached to every log
// line a single worker goroutine emits, so interleaved worker output in
// a multi-instance process stays attributable. It has no meaning beyond
// a log correlation key.
type WorkerID string

// NewWorkerID returns a fresh correlation id for one worker's lifetime.
func NewWorkerID() WorkerID {
	id := uuid.New().String()
	return WorkerID(id[:8])
}

var mu sync.Mutex

// Printf writes one diagnostic line when Enabled, in the shape
// "<time> [<worker>] <message>".
func Printf(worker WorkerID, format string, args ...any) {
	if !Enabled {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "%s [%s] %s\n", time.Now().Format("15:04:05.000000000"), worker, fmt.Sprintf(format, args...))
}

// Kevent renders the fflags of a kqueue event against a name table the
// same way debug_darwin.go / debug_freebsd.go do, for readable trace
// output; names not recognized on the current platform are shown as a
// raw hex remainder.
func Kevent(worker WorkerID, ident uint64, fflags uint32, table []struct {
	Bit  uint32
	Name string
}) {
	if !Enabled {
		return
	}
	var parts []string
	remaining := fflags
	for _, n := range table {
		if fflags&n.Bit != 0 {
			parts = append(parts, n.Name)
			remaining &^= n.Bit
		}
	}
	if remaining != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", remaining))
	}
	Printf(worker, "ident=%d fflags=%s", ident, strings.Join(parts, "|"))
}
