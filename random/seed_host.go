//go:build !rp2040

package random

import (
	"crypto/rand"
	"encoding/binary"
)

// Seed returns 32 bits from the operating system.
func Seed() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return binary.LittleEndian.Uint32(b[:])
}
