//go:build freebsd || openbsd || netbsd || dragonfly || darwin

package kqinotify

import "github.com/kqinotify/kqinotify/internal/debuglog"

// debugLogf logs a diagnostic line not tied to any one worker (e.g. a
// pure-logic warning from the differ). Worker-scoped logging goes
// through debuglog.Printf directly with that worker's id instead.
func debugLogf(format string, args ...any) {
	debuglog.Printf(debuglog.WorkerID("-"), format, args...)
}
