// Package dispatch is the execution boundary between the host runtime and
// the compiled-runner cache. It owns the key-resolution policy, the lazy
// construction of runners on first use, and the per-invocation wrapper
// that handles interrupt overriding and failure translation.
//
// Everything below this package speaks plain error values; the conversion
// into the host's typed-panic failure convention happens here and only
// here.
package dispatch
