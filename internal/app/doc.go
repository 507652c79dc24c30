// Package app wires the offload layer into a runnable application: logger,
// configuration, backend selection, fusion registration, ahead-of-time
// preloading, and the program execution lifecycle. It is decoupled from any
// specific entrypoint like a CLI.
package app
