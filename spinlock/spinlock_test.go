package spinlock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picoperiph/hal"
)

// fakeBank models the SIO bank: a lock is taken by whichever TryLock gets
// there first.
type fakeBank struct {
	mu       sync.Mutex
	held     [NumLocks]bool
	disabled int
}

func (f *fakeBank) TryLock(n int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[n] {
		return false
	}
	f.held[n] = true
	return true
}

func (f *fakeBank) Unlock(n int) {
	f.mu.Lock()
	f.held[n] = false
	f.mu.Unlock()
}

func (f *fakeBank) Locked(n int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[n]
}

func (f *fakeBank) DisableInterrupts() uintptr {
	f.mu.Lock()
	f.disabled++
	f.mu.Unlock()
	return 1
}

func (f *fakeBank) RestoreInterrupts(uintptr) {
	f.mu.Lock()
	f.disabled--
	f.mu.Unlock()
}

func TestClaimHandsOutDistinctLocks(t *testing.T) {
	b := NewBank(hal.NewRegistry(), &fakeBank{})
	seen := map[int]bool{}
	for i := 0; i < NumLocks; i++ {
		n, err := b.Claim(false)
		require.NoError(t, err)
		assert.False(t, seen[n])
		seen[n] = true
	}
	_, err := b.Claim(false)
	assert.ErrorIs(t, err, ErrNoLockAvailable)
	assert.Panics(t, func() { _, _ = b.Claim(true) })
}

func TestLifecycle(t *testing.T) {
	hw := &fakeBank{}
	b := NewBank(hal.NewRegistry(), hw)
	n, err := b.Claim(true)
	require.NoError(t, err)
	s := b.Lock(n)

	require.NoError(t, s.Initialize())
	assert.True(t, s.Initialized())
	assert.ErrorIs(t, s.Initialize(), ErrIsInitialized)

	st, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, Unlocked, st)

	require.NoError(t, s.Lock())
	assert.ErrorIs(t, s.Lock(), ErrIsLocked)
	st, _ = s.Status()
	assert.Equal(t, LockedLocally, st)
	assert.Equal(t, 1, hw.disabled)

	other := b.Lock(n)
	st, err = other.Status()
	require.NoError(t, err)
	assert.Equal(t, LockedRemotely, st)
	ok, err := other.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Unlock())
	assert.ErrorIs(t, s.Unlock(), ErrIsUnlocked)
	assert.Equal(t, 0, hw.disabled)

	require.NoError(t, s.Release())
	assert.ErrorIs(t, s.Lock(), ErrNotClaimed)
}

func TestInvalidLockNumbers(t *testing.T) {
	b := NewBank(hal.NewRegistry(), &fakeBank{})
	for _, n := range []int{-1, NumLocks} {
		s := b.Lock(n)
		assert.ErrorIs(t, s.Initialize(), ErrInvalidLockNum)
		assert.ErrorIs(t, s.Lock(), ErrInvalidLockNum)
		assert.False(t, IsValidLockNum(n))
	}
	assert.ErrorIs(t, b.Lock(3).Lock(), ErrNotClaimed)
}

func TestMutualExclusion(t *testing.T) {
	b := NewBank(hal.NewRegistry(), &fakeBank{})
	n, _ := b.Claim(true)
	require.NoError(t, b.Lock(n).Initialize())

	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := b.Lock(n)
			for i := 0; i < 200; i++ {
				if !assert.NoError(t, s.Lock()) {
					return
				}
				counter++
				assert.NoError(t, s.Unlock())
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, counter)
}
