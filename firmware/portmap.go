package firmware

import "sort"

// Pin is a (port letter, bit index) pair identifying a single AVR I/O pin,
// e.g. RxD/TxD wiring.
type Pin struct {
	Port byte // 'A'..'H'
	Bit  byte // 0..7
}

// registers holds the PIN/DDR/PORT addresses for one port letter. DDR and
// PORT are usually PIN+1 and PIN+2; SetPIN derives them that way, so callers
// can omit them to mirror the original's DDR/PORT elision in persisted form,
// while SetRegisters records any other layout explicitly.
type registers struct {
	pin     byte
	hasPin  bool
	ddr     byte
	hasDDR  bool
	port    byte
	hasPort bool
}

// PortMap is a device's PIN/DDR/PORT register map, indexed by port letter
// 'A'..'H'.
type PortMap struct {
	regs map[byte]registers
}

// NewPortMap returns an empty port map.
func NewPortMap() *PortMap {
	return &PortMap{regs: make(map[byte]registers)}
}

// SetPIN records the PIN register address for a port letter and derives
// DDR (PIN+1) and PORT (PIN+2), matching the invariant in spec §3.
func (m *PortMap) SetPIN(letter, pin byte) {
	m.regs[letter] = registers{pin: pin, hasPin: true, ddr: pin + 1, hasDDR: true, port: pin + 2, hasPort: true}
}

// SetRegisters records explicit PIN/DDR/PORT addresses for a port letter,
// for the rare device whose registers aren't the usual PIN/PIN+1/PIN+2
// layout.
func (m *PortMap) SetRegisters(letter, pin, ddr, port byte) {
	m.regs[letter] = registers{pin: pin, hasPin: true, ddr: ddr, hasDDR: true, port: port, hasPort: true}
}

// Letters returns the defined port letters in ascending order.
func (m *PortMap) Letters() []byte {
	out := make([]byte, 0, len(m.regs))
	for l := range m.regs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PIN, DDR, PORT return the register address and whether the port letter is
// defined at all.
func (m *PortMap) PIN(letter byte) (byte, bool) {
	r, ok := m.regs[letter]
	return r.pin, ok && r.hasPin
}

func (m *PortMap) DDR(letter byte) (byte, bool) {
	r, ok := m.regs[letter]
	return r.ddr, ok && r.hasDDR
}

func (m *PortMap) PORT(letter byte) (byte, bool) {
	r, ok := m.regs[letter]
	return r.port, ok && r.hasPort
}

// Has reports whether the port letter is defined in this map at all.
func (m *PortMap) Has(letter byte) bool {
	_, ok := m.regs[letter]
	return ok
}

// bank identifies which of PIN/DDR/PORT an address belongs to for a given
// port letter, or ok=false if it matches none of the three.
func (m *PortMap) bank(letter byte, addr byte) (which byte, ok bool) {
	r, present := m.regs[letter]
	if !present {
		return 0, false
	}
	switch {
	case r.hasPin && r.pin == addr:
		return 'P', true
	case r.hasDDR && r.ddr == addr:
		return 'D', true
	case r.hasPort && r.port == addr:
		return 'O', true
	default:
		return 0, false
	}
}

// registerFor returns the address of the given bank ('P'/'D'/'O') for a port
// letter.
func (m *PortMap) registerFor(letter byte, which byte) (byte, bool) {
	r, ok := m.regs[letter]
	if !ok {
		return 0, false
	}
	switch which {
	case 'P':
		return r.pin, r.hasPin
	case 'D':
		return r.ddr, r.hasDDR
	case 'O':
		return r.port, r.hasPort
	default:
		return 0, false
	}
}

// DerivedPORT reports whether a port's DDR/PORT registers are exactly
// PIN+1/PIN+2 (the common case, elidable in persisted form per spec §4.4).
func (m *PortMap) DerivedPORT(letter byte) bool {
	r, ok := m.regs[letter]
	if !ok || !r.hasPin {
		return false
	}
	return r.hasDDR && r.ddr == r.pin+1 && r.hasPort && r.port == r.pin+2
}
