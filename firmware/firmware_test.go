package firmware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoEqualIgnoresDDR(t *testing.T) {
	a := &Info{Signature: [3]byte{1, 2, 3}, Ports: NewPortMap()}
	a.Ports.SetPIN('B', 0x16)

	b := &Info{Signature: [3]byte{1, 2, 3}, Ports: NewPortMap()}
	b.Ports.SetRegisters('B', 0x16, 0xFF, 0x18) // DDR differs, PIN/PORT match

	assert.True(t, a.Equal(b))
}

func TestInfoNotEqualOnDifferentSignature(t *testing.T) {
	a := &Info{Signature: [3]byte{1, 2, 3}, Ports: NewPortMap()}
	b := &Info{Signature: [3]byte{1, 2, 4}, Ports: NewPortMap()}
	assert.False(t, a.Equal(b))
}

func TestNewImageDefaultsToB0B1(t *testing.T) {
	img := NewImage([]byte{0, 0}, &Info{Ports: NewPortMap()})
	assert.Equal(t, Pin{'B', 0}, img.RxD)
	assert.Equal(t, Pin{'B', 1}, img.TxD)
}
