package strconvx

import (
	"errors"
	"strconv"
	"testing"
)

// The MCU versions must agree with strconv.
func TestItoaMatchesStrconv(t *testing.T) {
	for _, n := range []int{0, 1, -1, 9, 10, 12345, -98765, 1<<31 - 1, -1 << 31} {
		if got, want := itoa(n), strconv.Itoa(n); got != want {
			t.Errorf("itoa(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestAtoi(t *testing.T) {
	cases := []struct {
		in   string
		want int
		err  error
	}{
		{"0", 0, nil},
		{"42", 42, nil},
		{"+7", 7, nil},
		{"-13", -13, nil},
		{"", 0, ErrSyntax},
		{"-", 0, ErrSyntax},
		{"1x", 0, ErrSyntax},
		{" 1", 0, ErrSyntax},
		{"99999999999999999999", 0, ErrRange},
	}
	for _, c := range cases {
		got, err := atoi(c.in)
		if !errors.Is(err, c.err) {
			t.Errorf("atoi(%q) err = %v, want %v", c.in, err, c.err)
			continue
		}
		if err == nil && got != c.want {
			t.Errorf("atoi(%q) = %d, want %d", c.in, got, c.want)
		}
		if err == nil {
			if host, _ := Atoi(c.in); host != got {
				t.Errorf("Atoi(%q) = %d, atoi %d", c.in, host, got)
			}
		}
	}
}
