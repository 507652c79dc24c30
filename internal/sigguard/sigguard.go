// Package sigguard tracks the host runtime's termination-signal handlers so
// they can be temporarily replaced with the platform default disposition.
//
// The Go runtime offers no way to ask what a signal's current handling is,
// so every subscription the host makes must go through this package; that
// record is what OverrideDefault saves and restores. While an override is
// active the process is directly killable by SIGINT/SIGTERM, which is the
// point: a long-running backend call must not be shielded by the host's own
// interrupt handling.
package sigguard

import (
	"os"
	"os/signal"
	"sync"
)

// State describes how a signal is currently handled by the host.
type State int

const (
	// StateNone means the host installed no handler; the platform default
	// disposition applies.
	StateNone State = iota
	// StateIgnored means the host explicitly ignores the signal.
	StateIgnored
	// StateNotify means deliveries go to a host-registered channel.
	StateNotify
)

type subscription struct {
	state State
	ch    chan os.Signal
}

var (
	mu   sync.Mutex
	subs = make(map[os.Signal]subscription)
)

// Notify registers ch as the host's handler for the given signals.
func Notify(ch chan os.Signal, sigs ...os.Signal) {
	mu.Lock()
	defer mu.Unlock()
	signal.Notify(ch, sigs...)
	for _, sig := range sigs {
		subs[sig] = subscription{state: StateNotify, ch: ch}
	}
}

// Ignore marks the given signals as ignored by the host.
func Ignore(sigs ...os.Signal) {
	mu.Lock()
	defer mu.Unlock()
	signal.Ignore(sigs...)
	for _, sig := range sigs {
		subs[sig] = subscription{state: StateIgnored}
	}
}

// Stop undoes a Notify: deliveries to ch cease and the affected signals
// revert to the default disposition.
func Stop(ch chan os.Signal) {
	mu.Lock()
	defer mu.Unlock()
	signal.Stop(ch)
	for sig, sub := range subs {
		if sub.ch == ch {
			delete(subs, sig)
		}
	}
}

// Current returns the host's recorded handling for sig.
func Current(sig os.Signal) State {
	mu.Lock()
	defer mu.Unlock()
	return subs[sig].state
}

// OverrideDefault saves the host's handling of the given signals and
// installs the platform default disposition for each. The returned restore
// function reinstates the saved handlers and must be called on every exit
// path, typically via defer.
//
// Restoration is skipped for signals whose saved handling was "none" or
// "ignored": there is nothing to reinstate for the former, and the latter
// mirrors the save/restore convention of the host this layer integrates
// with, where ignore-valued handlers are not put back.
func OverrideDefault(sigs ...os.Signal) (restore func()) {
	mu.Lock()
	saved := make(map[os.Signal]subscription, len(sigs))
	for _, sig := range sigs {
		saved[sig] = subs[sig]
		signal.Reset(sig)
		delete(subs, sig)
	}
	mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			for sig, sub := range saved {
				if sub.state != StateNotify {
					continue
				}
				signal.Notify(sub.ch, sig)
				subs[sig] = sub
			}
		})
	}
}
