//go:build rp2040

package random

import (
	"device/rp"
	"time"
)

func roscBit() bool { return rp.ROSC.RANDOMBIT.Get()&1 != 0 }

// Seed returns 32 bits read from the ROSC random bit.
func Seed() uint32 {
	return Collect(roscBit, func(b bool) {
		if b {
			time.Sleep(time.Microsecond)
		}
	})
}
