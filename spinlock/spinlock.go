// Package spinlock wraps the 32 RP2040 SIO hardware spin locks used to guard
// state shared between the two cores. Claim and initialisation state is kept
// in a hal.Registry.
package spinlock

import (
	"errors"
	"runtime"
	"sync"

	"picoperiph/hal"
)

const NumLocks = 32

type Status uint8

const (
	Unlocked Status = iota
	LockedRemotely
	LockedLocally
)

func (s Status) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case LockedRemotely:
		return "locked_remotely"
	case LockedLocally:
		return "locked_locally"
	}
	return "unknown"
}

var (
	ErrNoLockAvailable = errors.New("spinlock: no lock available")
	ErrNotClaimed      = errors.New("spinlock: lock not claimed")
	ErrInvalidLockNum  = errors.New("spinlock: invalid lock number")
	ErrIsUnlocked      = errors.New("spinlock: already unlocked")
	ErrIsLocked        = errors.New("spinlock: already locked")
	ErrIsInitialized   = errors.New("spinlock: already initialised")
)

// Hardware is the lock bank. TryLock must be a single atomic attempt.
type Hardware interface {
	TryLock(n int) bool
	Unlock(n int)
	Locked(n int) bool
	// DisableInterrupts and RestoreInterrupts bracket a held lock.
	DisableInterrupts() uintptr
	RestoreInterrupts(state uintptr)
}

func IsValidLockNum(n int) bool { return n >= 0 && n < NumLocks }

// Bank hands out locks.
type Bank struct {
	reg *hal.Registry
	hw  Hardware
}

func NewBank(reg *hal.Registry, hw Hardware) *Bank { return &Bank{reg: reg, hw: hw} }

// Claim reserves the lowest free lock number. With required set, running
// out of locks panics.
func (b *Bank) Claim(required bool) (int, error) {
	n, ok := b.reg.FirstClear(hal.KindSpinClaimed)
	if !ok {
		if required {
			panic(ErrNoLockAvailable)
		}
		return 0, ErrNoLockAvailable
	}
	return n, nil
}

// Lock returns a handle for lock n. The handle is usable after Initialize.
func (b *Bank) Lock(n int) *SpinLock { return &SpinLock{bank: b, n: n} }

// SpinLock is one core's handle on a hardware lock.
type SpinLock struct {
	bank *Bank
	n    int

	mu     sync.Mutex
	locked bool
	irq    uintptr
}

func (s *SpinLock) Num() int { return s.n }

// Initialize claims lock n and forces it to the unlocked state. A lock
// already initialised through another handle yields ErrIsInitialized and
// the handle is still usable.
func (s *SpinLock) Initialize() error {
	if !IsValidLockNum(s.n) {
		return ErrInvalidLockNum
	}
	reg := s.bank.reg
	if reg.IsMarked(hal.KindSpinInit, s.n) {
		return ErrIsInitialized
	}
	if !reg.IsMarked(hal.KindSpinClaimed, s.n) {
		_ = reg.Mark(hal.KindSpinClaimed, s.n)
	}
	if err := reg.Mark(hal.KindSpinInit, s.n); err != nil {
		return ErrIsInitialized
	}
	s.bank.hw.Unlock(s.n)
	return nil
}

func (s *SpinLock) Initialized() bool {
	return IsValidLockNum(s.n) && s.bank.reg.IsMarked(hal.KindSpinInit, s.n)
}

func (s *SpinLock) check() error {
	if !IsValidLockNum(s.n) {
		return ErrInvalidLockNum
	}
	if !s.bank.reg.IsMarked(hal.KindSpinClaimed, s.n) {
		return ErrNotClaimed
	}
	return nil
}

// Lock spins until the hardware lock is taken, with interrupts disabled
// while it is held.
func (s *SpinLock) Lock() error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return ErrIsLocked
	}
	hw := s.bank.hw
	for {
		irq := hw.DisableInterrupts()
		if hw.TryLock(s.n) {
			s.irq = irq
			break
		}
		hw.RestoreInterrupts(irq)
		runtime.Gosched()
	}
	s.locked = true
	return nil
}

// TryLock makes one attempt.
func (s *SpinLock) TryLock() (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return false, ErrIsLocked
	}
	hw := s.bank.hw
	irq := hw.DisableInterrupts()
	if !hw.TryLock(s.n) {
		hw.RestoreInterrupts(irq)
		return false, nil
	}
	s.irq, s.locked = irq, true
	return true, nil
}

func (s *SpinLock) Unlock() error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return ErrIsUnlocked
	}
	s.bank.hw.Unlock(s.n)
	s.bank.hw.RestoreInterrupts(s.irq)
	s.locked = false
	return nil
}

// Status reports who, if anyone, holds the lock.
func (s *SpinLock) Status() (Status, error) {
	if err := s.check(); err != nil {
		return Unlocked, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.locked:
		return LockedLocally, nil
	case s.bank.hw.Locked(s.n):
		return LockedRemotely, nil
	}
	return Unlocked, nil
}

// Release unlocks if held and returns the lock number to the pool.
func (s *SpinLock) Release() error {
	if err := s.check(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.locked {
		s.bank.hw.Unlock(s.n)
		s.bank.hw.RestoreInterrupts(s.irq)
		s.locked = false
	}
	s.mu.Unlock()
	_ = s.bank.reg.Clear(hal.KindSpinInit, s.n)
	_ = s.bank.reg.Clear(hal.KindSpinClaimed, s.n)
	return nil
}
