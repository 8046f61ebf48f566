package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProgressPercent(t *testing.T) {
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{"12%", 12.0, true},
		{"render 12.5 %", 12.5, true},
		{" 100 % ", 100.0, true},
		{"0.0 %", 0.0, true},
		{"nope", 0, false},
		{"-1%", 0, false},
		{"101%", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseProgressPercent(c.line)
		assert.Equal(t, c.ok, ok, "line %q", c.line)
		if c.ok {
			assert.Equal(t, c.want, got, "line %q", c.line)
		}
	}
}

func TestParseFatalImageInvalid(t *testing.T) {
	reason, ok := ParseFatalImageInvalid("FATAL_IMAGE_INVALID: background.png is corrupt")
	assert.True(t, ok)
	assert.Equal(t, "background.png is corrupt", reason)

	_, ok = ParseFatalImageInvalid("10.0 %")
	assert.False(t, ok)
}
