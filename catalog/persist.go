package catalog

import "github.com/tsbhost/avrtsb/firmware"

// persistedEntry is one base image's on-disk record.
type persistedEntry struct {
	BinData []byte          `cbor:"bin"`
	Infos   []persistedInfo `cbor:"infos"`
}

// persistedPort is one port letter's register record, with DDR/PORT omitted
// when they're derivable as PIN+1/PIN+2 (spec §4.4's elision rule).
type persistedPort struct {
	Letter byte   `cbor:"letter"`
	PIN    byte   `cbor:"pin"`
	DDR    *byte  `cbor:"ddr,omitempty"`
	PORT   *byte  `cbor:"port,omitempty"`
}

// persistedInfo is the on-disk form of firmware.Info.
type persistedInfo struct {
	Devices   []string        `cbor:"devices"`
	Signature [3]byte         `cbor:"signature"`
	Ports     []persistedPort `cbor:"ports"`
	TSBStart  int             `cbor:"tsb_start"`
	FWConf    []byte          `cbor:"fwconf,omitempty"`
}

func fromInfo(info *firmware.Info) persistedInfo {
	pi := persistedInfo{
		Devices:   info.Devices,
		Signature: info.Signature,
		TSBStart:  info.TSBStart,
		FWConf:    info.FWConf,
	}
	for _, letter := range info.Ports.Letters() {
		pin, _ := info.Ports.PIN(letter)
		pp := persistedPort{Letter: letter, PIN: pin}
		if !info.Ports.DerivedPORT(letter) {
			if ddr, ok := info.Ports.DDR(letter); ok {
				pp.DDR = &ddr
			}
			if port, ok := info.Ports.PORT(letter); ok {
				pp.PORT = &port
			}
		}
		pi.Ports = append(pi.Ports, pp)
	}
	return pi
}

func (pi persistedInfo) toInfo() *firmware.Info {
	ports := firmware.NewPortMap()
	for _, pp := range pi.Ports {
		if pp.DDR != nil && pp.PORT != nil {
			ports.SetRegisters(pp.Letter, pp.PIN, *pp.DDR, *pp.PORT)
		} else {
			ports.SetPIN(pp.Letter, pp.PIN)
		}
	}
	return &firmware.Info{
		Devices:   pi.Devices,
		Signature: pi.Signature,
		Ports:     ports,
		TSBStart:  pi.TSBStart,
		FWConf:    pi.FWConf,
	}
}
