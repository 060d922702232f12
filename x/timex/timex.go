// Package timex converts between frequencies and periods.
package timex

import "time"

// Period returns the period of hz. Zero is treated as 1 Hz.
func Period(hz uint32) time.Duration {
	if hz == 0 {
		hz = 1
	}
	return time.Second / time.Duration(hz)
}
