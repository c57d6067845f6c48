package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupKnownSignature(t *testing.T) {
	info, ok := Lookup([3]byte{0x1E, 0x93, 0x07})
	assert.True(t, ok)
	assert.Equal(t, "ATmega8", info.Long)
}

func TestLookupUnknownSignature(t *testing.T) {
	_, ok := Lookup([3]byte{0xAA, 0xBB, 0xCC})
	assert.False(t, ok)
}

func TestStringFallsBackForUnknownSignature(t *testing.T) {
	s := String([3]byte{0xAA, 0xBB, 0xCC})
	assert.Contains(t, s, "unknown signature")
}
