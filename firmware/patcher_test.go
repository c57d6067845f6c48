package firmware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultPorts() *PortMap {
	m := NewPortMap()
	m.SetPIN('B', 0x16) // PINB=0x16, DDRB=0x17, PORTB=0x18
	m.SetPIN('C', 0x13)
	m.SetPIN('D', 0x09) // PIND=0x09, DDRD=0x0A, PORTD=0x0B
	return m
}

func TestPatchDefaultWiringIsIdentityExceptChecksum(t *testing.T) {
	data := buildImageWithInstaller(t, []byte{0xC1, 0x9A}) // SBI PORTB,1
	info := &Info{Signature: [3]byte{0x1E, 0x93, 0x07}, Ports: defaultPorts()}
	image := NewImage(data, info) // NewImage defaults RxD/TxD to ('B',0)/('B',1)

	out, err := Patch(image)
	require.NoError(t, err)

	checksumOff := (installerPageWords - 1) * 2
	assert.Equal(t, data[:checksumOff], out[:checksumOff])
	assert.Equal(t, data[checksumOff+2:], out[checksumOff+2:])
}

func TestPatchRewritesBitIOInstruction(t *testing.T) {
	// SBI PORTB,1 = A=0x18 (PORTB), b=1 -> bytes C1 9A.
	instr := []byte{0xC1, 0x9A}
	data := buildImageWithInstaller(t, instr)
	info := &Info{Ports: defaultPorts()}
	image := NewImage(data, info)
	image.TxD = Pin{Port: 'D', Bit: 1} // PORTD = 0x0B

	out, err := Patch(image)
	require.NoError(t, err)

	// instruction sits right after the first jump, the 8-word filler and the
	// second jump, at word 10 (see
	// buildImageWithInstaller); A=0x0B, b=1 -> low byte 0x0B<<3|1 = 0x59.
	idx := instrOffset
	assert.Equal(t, byte(0x59), out[idx])
	assert.Equal(t, byte(0x9A), out[idx+1])
}

func TestPatchLeavesUnrelatedPortUntouched(t *testing.T) {
	instr := []byte{0x99, 0x99} // SBIC A=0x13,bit1 — not PIN/DDR/PORT of bank B
	data := buildImageWithInstaller(t, instr)
	info := &Info{Ports: defaultPorts()}
	image := NewImage(data, info)
	image.RxD, image.TxD = Pin{Port: 'D', Bit: 0}, Pin{Port: 'D', Bit: 1}

	out, err := Patch(image)
	require.NoError(t, err)
	assert.Equal(t, instr, out[instrOffset:instrOffset+2])
}

func TestParseRxTxValid(t *testing.T) {
	ports := defaultPorts()
	rxd, txd, err := ParseRxTx("D0D1", ports)
	require.NoError(t, err)
	assert.Equal(t, Pin{'D', 0}, rxd)
	assert.Equal(t, Pin{'D', 1}, txd)
}

func TestParseRxTxUnsupportedPort(t *testing.T) {
	ports := defaultPorts()
	_, _, err := ParseRxTx("X0D1", ports)
	require.Error(t, err)
	var fwErr *Error
	require.ErrorAs(t, err, &fwErr)
	assert.Equal(t, UnsupportedPort, fwErr.Kind)
}

func TestDetectInstallerBoundaries(t *testing.T) {
	cases := []struct {
		run      int
		wantOK   bool
		wantPage int
	}{
		{run: 7, wantOK: false},
		{run: 8, wantOK: true, wantPage: 10},
		{run: 128, wantOK: true, wantPage: 130},
		{run: 129, wantOK: false},
	}
	for _, c := range cases {
		data := make([]byte, 2+2*c.run+2)
		// word0: arbitrary jump
		data[0], data[1] = 0x00, 0xC0
		for w := 1; w <= c.run; w++ {
			data[2*w], data[2*w+1] = 0xFF, 0xFF
		}
		// second jump word right after the filler run
		off := 2 * (c.run + 1)
		data[off], data[off+1] = 0x00, 0xC0

		page, ok := detectInstaller(data)
		assert.Equal(t, c.wantOK, ok, "run=%d", c.run)
		if c.wantOK {
			assert.Equal(t, c.wantPage, page, "run=%d", c.run)
		}
	}
}

func TestChecksumCoversPaddedTailFromSecondPage(t *testing.T) {
	data := buildImageWithInstaller(t, []byte{0xC1, 0x9A})
	out, err := Patch(NewImage(data, &Info{Ports: defaultPorts()}))
	require.NoError(t, err)

	// Tail from word 10: one word C1 9A (0xC1+0x9A = 0x15B), then 9 phantom
	// 0xFFFF words to fill the page (9*0x1FE = 0x11EE); 0x15B+0x11EE = 0x1349,
	// stored big-endian at word 9.
	checksumOff := (installerPageWords - 1) * 2
	assert.Equal(t, []byte{0x13, 0x49}, out[checksumOff:checksumOff+2])
}

// installerPageWords and instrOffset describe the fixture built by
// buildImageWithInstaller: an 8-word 0xFFFF filler run (words 1..8) making
// page_size = 8+2 = 10 words; the instruction sits at word 10.
const (
	installerFillerRun = 8
	installerPageWords = installerFillerRun + 2 // = 10
	instrOffset        = installerPageWords * 2
)

// buildImageWithInstaller constructs a minimal image carrying the
// jump/filler/jump installer header (filler run length 8, so page_size=10
// words = 20 bytes) followed by one instruction word. The image is not padded
// to a whole page and its checksum word is not filled in; Patch does that.
func buildImageWithInstaller(t *testing.T, instrWord []byte) []byte {
	t.Helper()
	data := make([]byte, installerPageWords*2+2)
	data[0], data[1] = 0x00, 0xC0 // word 0: arbitrary jump
	for w := 1; w <= installerFillerRun; w++ {
		data[2*w], data[2*w+1] = 0xFF, 0xFF
	}
	off := 2 * (installerFillerRun + 1)
	data[off], data[off+1] = 0x00, 0xC0 // second jump word
	copy(data[installerPageWords*2:], instrWord)
	return data
}
