// Package conv formats integers into caller-owned buffers without fmt or
// strconv, for firmware paths that must not allocate.
package conv

const hexDigits = "0123456789ABCDEF"

// AppendUint appends the decimal form of n to dst.
func AppendUint(dst []byte, n uint64) []byte {
	var tmp [20]byte
	i := len(tmp)
	for {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
		if n == 0 {
			break
		}
	}
	return append(dst, tmp[i:]...)
}

// AppendInt appends the decimal form of n to dst.
func AppendInt(dst []byte, n int64) []byte {
	if n < 0 {
		dst = append(dst, '-')
		return AppendUint(dst, uint64(-(n + 1))+1)
	}
	return AppendUint(dst, uint64(n))
}

// AppendHex32 appends n as eight upper-case hex digits.
func AppendHex32(dst []byte, n uint32) []byte {
	for shift := 28; shift >= 0; shift -= 4 {
		dst = append(dst, hexDigits[n>>uint(shift)&0xF])
	}
	return dst
}
