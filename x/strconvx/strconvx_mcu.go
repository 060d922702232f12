//go:build rp2040

package strconvx

func Itoa(i int) string { return itoa(i) }

func Atoi(s string) (int, error) { return atoi(s) }
