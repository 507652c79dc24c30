// Package runnermap is the compiled-runner cache: a read-mostly map from
// opaque string keys to shared compiled-runner entries.
//
// Once GetOrInsert returns for a key, every later Lookup from any goroutine
// observes the same entry (the lock establishes the happens-before). An
// entry never changes after insert; only Remove or Clear frees its key.
package runnermap
