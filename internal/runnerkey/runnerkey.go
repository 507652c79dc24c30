// Package runnerkey derives cache keys for compiled subgraph runners.
//
// Two key schemes coexist. A structural key identifies one subgraph instance
// by its block identity; it is only meaningful inside the current process and
// only while that graph instance is alive. A symbolic key is a human-chosen
// qualified operator name, used to install runners ahead of time, before any
// matching subgraph exists.
package runnerkey

import (
	"encoding/binary"

	"github.com/vk/offload/internal/graph"
)

// StructuralWidth is the byte length of every structural key.
const StructuralWidth = 8

// Structural encodes a subgraph block's identity as a fixed-width binary
// key. Keys are not stable across process restarts or graph copies.
func Structural(b *graph.Block) string {
	var buf [StructuralWidth]byte
	binary.LittleEndian.PutUint64(buf[:], b.ID())
	return string(buf[:])
}

// Symbolic returns the ahead-of-time key for an operator symbol.
func Symbolic(sym graph.Symbol) string {
	return string(sym)
}
