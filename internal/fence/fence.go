//go:build linux && cgo

// Package fence provides the store/full memory barriers the controller
// engine needs around doorbell writes and completion-queue phase-bit
// polling.
package fence

/*
#include <stdint.h>

// x86-64 store fence to ensure all prior stores are globally visible
// before a subsequent doorbell write.
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// x86-64 full memory fence, used before trusting a volatile read (e.g.
// the CQE phase bit) that must observe all prior device-side writes.
static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// Sfence issues a store fence (x86 SFENCE instruction). Required before
// ringing a doorbell so the command record it refers to is visible to
// the device first.
func Sfence() {
	C.sfence_impl()
}

// Mfence issues a full memory fence (x86 MFENCE instruction). Required
// before trusting a completion queue entry's phase bit.
func Mfence() {
	C.mfence_impl()
}
