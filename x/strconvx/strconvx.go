// Package strconvx is the small slice of strconv the drivers and board
// config need, kept off the full strconv tables on the RP2040.
package strconvx

import (
	"errors"

	"picoperiph/x/conv"
)

var (
	ErrSyntax = errors.New("strconvx: invalid syntax")
	ErrRange  = errors.New("strconvx: value out of range")
)

func itoa(i int) string { return string(conv.AppendInt(nil, int64(i))) }

// atoi parses an optionally signed decimal int.
func atoi(s string) (int, error) {
	if s == "" {
		return 0, ErrSyntax
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return 0, ErrSyntax
	}
	const limit = uint64(1<<63 - 1)
	var n uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, ErrSyntax
		}
		if n > (limit+1)/10 {
			return 0, ErrRange
		}
		n = n*10 + uint64(c-'0')
		if n > limit+1 {
			return 0, ErrRange
		}
	}
	if !neg && n > limit {
		return 0, ErrRange
	}
	v := int64(n)
	if neg {
		v = -v
	}
	if int64(int(v)) != v {
		return 0, ErrRange
	}
	return int(v), nil
}
