//go:build freebsd || openbsd || netbsd || dragonfly || darwin

// Package kqinotify reproduces the Linux inotify(7) API on top of a
// kqueue(2)-based operating system.
//
// A client opens an [Instance], adds watches on named paths with a bitmask
// of interesting events (the IN_* constants in mask.go), and reads a
// stream of fixed-layout event records describing filesystem activity —
// the same wire shape a Linux inotify file descriptor produces. Internally
// every watch is backed by one or more kqueue EVFILT_VNODE filters on open
// file descriptors; directory-child activity (create/delete/rename), which
// kqueue does not report by name, is reconstructed by diffing successive
// directory listings.
//
// This does not aim for bit-exact compatibility with Linux's kernel data
// structures, recursive watches, or watching through symlinks/mount
// boundaries — see the module's SPEC_FULL.md for the full set of
// supported behaviors and their origin in libinotify-kqueue.
package kqinotify
