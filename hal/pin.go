// Package hal holds the small hardware abstraction shared by the drivers:
// a GPIO pin contract, RP2040 pin numbering helpers, busy-wait helpers and
// the Registry that tracks which pins and peripheral instances are in use.
package hal

import "picoperiph/errcode"

// RP2040 user GPIO numbering.
const (
	NumPins = 30
	MaxPin  = NumPins - 1
	NotAPin = 0xFF
)

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Pin is a single GPIO. Drivers only ever need these operations.
type Pin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	IsOutput() bool
	Number() int
}

// PinFactory supplies GPIO pins by number.
type PinFactory interface {
	ByNumber(n int) (Pin, bool)
}

// BitOrder selects the order bits are clocked on serial lines.
type BitOrder uint8

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

// IsPin reports whether n is a usable RP2040 GPIO number.
func IsPin(n int) bool { return n >= 0 && n <= MaxPin }

// PinToBitMask returns the single-bit mask for pin n.
func PinToBitMask(n int) (uint32, error) {
	if !IsPin(n) {
		return 0, errcode.InvalidPin
	}
	return 1 << uint(n), nil
}

// BitMaskToPin is the inverse of PinToBitMask. Exactly one bit in the
// pin range must be set.
func BitMaskToPin(mask uint32) (int, error) {
	if mask == 0 || mask&(mask-1) != 0 || mask >= 1<<NumPins {
		return 0, errcode.InvalidBitMask
	}
	n := 0
	for mask > 1 {
		mask >>= 1
		n++
	}
	return n, nil
}
