package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTestMode(t *testing.T) {
	for raw, want := range map[string]bool{
		"":      false,
		"1":     true,
		"true":  true,
		"0":     false,
		"nope":  false,
		"FALSE": false,
	} {
		assert.Equal(t, want, parseTestMode(raw), raw)
	}
}
