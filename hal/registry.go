package hal

import (
	"sync"

	"picoperiph/errcode"
)

// Func is the function a claimed pin is muxed to.
type Func uint8

const (
	FuncGPIOIn Func = iota
	FuncGPIOOut
	FuncPWM
	FuncADC
	FuncI2C
	FuncSPI
	FuncUART
)

func (f Func) String() string {
	switch f {
	case FuncGPIOIn:
		return "gpio_in"
	case FuncGPIOOut:
		return "gpio_out"
	case FuncPWM:
		return "pwm"
	case FuncADC:
		return "adc"
	case FuncI2C:
		return "i2c"
	case FuncSPI:
		return "spi"
	case FuncUART:
		return "uart"
	}
	return "unknown"
}

// Kind names one family of numbered peripheral instances whose
// initialised/enabled state the Registry tracks as a bit set.
type Kind uint8

const (
	KindADC        Kind = iota // ADC input channels 0..4 (4 = temperature)
	KindPWMPin                 // pins muxed to PWM
	KindPWMSlice               // enabled PWM slices
	KindPWMPhase               // PWM slices in phase-correct mode
	KindI2C                    // I2C controllers
	KindSPI                    // SPI controllers
	KindSpinClaimed            // hardware spin locks claimed
	KindSpinInit               // hardware spin locks initialised
	kindCount
)

var kindLimit = [kindCount]int{
	KindADC:         5,
	KindPWMPin:      NumPins,
	KindPWMSlice:    8,
	KindPWMPhase:    8,
	KindI2C:         2,
	KindSPI:         2,
	KindSpinClaimed: 32,
	KindSpinInit:    32,
}

type pinOwner struct {
	owner string
	fn    Func
}

// Registry is the application-owned record of which pins are claimed and
// which peripheral instances are initialised. One Registry is shared by the
// adc, pwm, i2cbus, spibus and spinlock helpers.
type Registry struct {
	mu    sync.Mutex
	pins  map[int]pinOwner
	marks [kindCount]uint32
}

func NewRegistry() *Registry {
	return &Registry{pins: make(map[int]pinOwner)}
}

// ClaimPin records owner as the user of pin n with function fn.
// Re-claiming by the same owner updates the function.
func (r *Registry) ClaimPin(owner string, n int, fn Func) error {
	if !IsPin(n) {
		return errcode.InvalidPin
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pins[n]; ok && cur.owner != owner {
		return errcode.PinInUse
	}
	r.pins[n] = pinOwner{owner: owner, fn: fn}
	return nil
}

// ClaimPins claims all pins or none.
func (r *Registry) ClaimPins(owner string, fn Func, pins ...int) error {
	for i, n := range pins {
		if err := r.ClaimPin(owner, n, fn); err != nil {
			for _, m := range pins[:i] {
				r.ReleasePin(owner, m)
			}
			return err
		}
	}
	return nil
}

// ReleasePin drops owner's claim on n. Claims held by others are untouched.
func (r *Registry) ReleasePin(owner string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pins[n]; ok && cur.owner == owner {
		delete(r.pins, n)
	}
}

// Owner reports who holds pin n.
func (r *Registry) Owner(n int) (owner string, fn Func, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.pins[n]
	return cur.owner, cur.fn, ok
}

func validIndex(k Kind, idx int) bool {
	return k < kindCount && idx >= 0 && idx < kindLimit[k]
}

// Mark sets instance idx of kind k. It fails with AlreadyInitialized when the
// bit is already set.
func (r *Registry) Mark(k Kind, idx int) error {
	if !validIndex(k, idx) {
		return errcode.InvalidParams
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bit := uint32(1) << uint(idx)
	if r.marks[k]&bit != 0 {
		return errcode.AlreadyInitialized
	}
	r.marks[k] |= bit
	return nil
}

// Clear resets instance idx of kind k. It fails with NotInitialized when the
// bit is not set.
func (r *Registry) Clear(k Kind, idx int) error {
	if !validIndex(k, idx) {
		return errcode.InvalidParams
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	bit := uint32(1) << uint(idx)
	if r.marks[k]&bit == 0 {
		return errcode.NotInitialized
	}
	r.marks[k] &^= bit
	return nil
}

func (r *Registry) IsMarked(k Kind, idx int) bool {
	if !validIndex(k, idx) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.marks[k]&(1<<uint(idx)) != 0
}

// Mask returns the whole bit set for kind k.
func (r *Registry) Mask(k Kind) uint32 {
	if k >= kindCount {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.marks[k]
}

// FirstClear marks and returns the lowest clear index of kind k.
func (r *Registry) FirstClear(k Kind) (int, bool) {
	if k >= kindCount {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < kindLimit[k]; i++ {
		bit := uint32(1) << uint(i)
		if r.marks[k]&bit == 0 {
			r.marks[k] |= bit
			return i, true
		}
	}
	return 0, false
}
