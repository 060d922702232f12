package bitbang

import "picoperiph/hal"

// ShiftOut writes v on data, pulsing clock high after each bit. The clock
// is expected to idle low. wait, if non-nil, runs after every edge.
func ShiftOut(data, clock hal.Pin, order hal.BitOrder, v byte, wait func()) {
	for i := 0; i < 8; i++ {
		data.Set(v&bitMask(order, i) != 0)
		pulse(clock, wait)
	}
}

// ShiftIn samples data before each clock pulse, which suits parallel-load
// registers whose first bit is present as soon as they are loaded.
func ShiftIn(data, clock hal.Pin, order hal.BitOrder, wait func()) byte {
	var v byte
	for i := 0; i < 8; i++ {
		if data.Get() {
			v |= bitMask(order, i)
		}
		pulse(clock, wait)
	}
	return v
}

func pulse(clock hal.Pin, wait func()) {
	clock.Set(true)
	if wait != nil {
		wait()
	}
	clock.Set(false)
	if wait != nil {
		wait()
	}
}
