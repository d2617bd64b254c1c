//go:build !linux || !cgo

package fence

import "sync/atomic"

// barrier is touched by both Sfence and Mfence purely to give the
// compiler a reason not to reorder surrounding atomic accesses across
// the call; on non-cgo builds (contributors without a C toolchain,
// non-Linux development) there is no host instruction this package can
// reach for, so this is the nearest portable approximation.
var barrier atomic.Uint64

// Sfence is a portable no-op store fence for builds without cgo.
func Sfence() {
	barrier.Add(1)
}

// Mfence is a portable no-op full fence for builds without cgo.
func Mfence() {
	barrier.Add(1)
}
