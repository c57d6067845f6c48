package firmware

// Info describes one device variant sharing a base image: its name aliases,
// AVR signature, register map, and TSB placement, per spec §3.
type Info struct {
	Devices  []string
	Signature [3]byte
	Ports    *PortMap
	TSBStart int
	FWConf   []byte // opaque trailing config, <=16 bytes, optional
}

// Equal reports whether two Infos describe the same device variant for
// catalog dedup purposes: equal signature and equal PIN/PORT maps (DDR is
// derived, so it doesn't participate), per spec §3/§4.4.
func (i *Info) Equal(other *Info) bool {
	if i.Signature != other.Signature {
		return false
	}
	la, lb := i.Ports.Letters(), other.Ports.Letters()
	if len(la) != len(lb) {
		return false
	}
	for idx, letter := range la {
		if letter != lb[idx] {
			return false
		}
		pa, oka := i.Ports.PIN(letter)
		pb, okb := other.Ports.PIN(letter)
		if oka != okb || pa != pb {
			return false
		}
		qa, oka := i.Ports.PORT(letter)
		qb, okb := other.Ports.PORT(letter)
		if oka != okb || qa != qb {
			return false
		}
	}
	return true
}

// Image is a base firmware binary plus the device variant it targets and
// the caller's requested RxD/TxD wiring.
type Image struct {
	BinData []byte
	Info    *Info
	RxD     Pin
	TxD     Pin
}

// NewImage returns an Image with the spec's default wiring, ('B',0)/('B',1).
func NewImage(binData []byte, info *Info) *Image {
	return &Image{
		BinData: binData,
		Info:    info,
		RxD:     Pin{Port: 'B', Bit: 0},
		TxD:     Pin{Port: 'B', Bit: 1},
	}
}
