package strx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoalesce(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"", ""}, ""},
		{[]string{"a", "b"}, "a"},
		{[]string{"", "b"}, "b"},
		{[]string{"", "", "c"}, "c"},
		{[]string{" ", "b"}, " "},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Coalesce(c.in...), "%q", c.in)
	}
}
