package timex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriod(t *testing.T) {
	cases := []struct {
		hz   uint32
		want time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{50, 20 * time.Millisecond},
		{1000, time.Millisecond},
		{3, 333333333 * time.Nanosecond},
		{125_000_000, 8 * time.Nanosecond},
		{2_000_000_000, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Period(c.hz), "%d Hz", c.hz)
	}
}
