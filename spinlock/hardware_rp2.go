//go:build rp2040

package spinlock

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"
)

type sioLocks struct{}

// SIO is the RP2040 spin lock bank.
var SIO Hardware = sioLocks{}

func lockReg(n int) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Add(unsafe.Pointer(&rp.SIO.SPINLOCK0), 4*n))
}

// A read returns non-zero when the lock was taken by this read.
func (sioLocks) TryLock(n int) bool { return lockReg(n).Get() != 0 }

func (sioLocks) Unlock(n int) { lockReg(n).Set(0) }

func (sioLocks) Locked(n int) bool { return rp.SIO.SPINLOCK_ST.Get()&(1<<uint(n)) != 0 }

func (sioLocks) DisableInterrupts() uintptr { return uintptr(interrupt.Disable()) }

func (sioLocks) RestoreInterrupts(state uintptr) { interrupt.Restore(interrupt.State(state)) }
