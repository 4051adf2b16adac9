package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitTaskListKeys(t *testing.T) {
	assert.Equal(t, "Car001TaskList", UnitTaskListKey(1))
	assert.Equal(t, []string{"Car001TaskList", "Car002TaskList", "Car003TaskList"}, UnitTaskListKeys(3))
	assert.Empty(t, UnitTaskListKeys(0))
}

func TestParseCount(t *testing.T) {
	cases := []struct {
		raw   string
		found bool
		want  int64
		ok    bool
	}{
		{"3", true, 3, true},
		{" 12 ", true, 12, true},
		{"", true, 0, false},
		{"abc", true, 0, false},
		{"-2", true, 0, false},
		{"7", false, 0, false},
	}
	for _, c := range cases {
		n, ok := ParseCount(c.raw, c.found)
		assert.Equal(t, c.want, n, c.raw)
		assert.Equal(t, c.ok, ok, c.raw)
	}
}
