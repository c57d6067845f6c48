package serial

import (
	"syscall"
	"unsafe"

	ioctl "github.com/daedaluz/goioctl"
)

// Winsize is the terminal window size, as used by TIOCGWINSZ/TIOCSWINSZ.
type Winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

// SetLockPT locks or unlocks the pty slave paired with this (master) Port.
// The slave cannot be opened while locked.
func (p *Port) SetLockPT(locked bool) error {
	var v int32
	if locked {
		v = 1
	}
	return ioctl.Ioctl(uintptr(p.f), tiocsptlck, uintptr(unsafe.Pointer(&v)))
}

// GetPTPeer opens the pty slave paired with this (master) Port via
// TIOCGPTPEER, without needing to resolve /dev/pts/N by name. flags are
// OR'd onto the O_RDWR|O_NOCTTY open mode used for the slave.
func (p *Port) GetPTPeer(flags int) (*Port, error) {
	fd, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(p.f), tiocgptpeer,
		uintptr(syscall.O_RDWR|syscall.O_NOCTTY|flags))
	if errno != 0 {
		return nil, errno
	}
	return &Port{options: NewOptions(), f: int(fd)}, nil
}

// SetWinSize sets the terminal window size associated with this Port.
func (p *Port) SetWinSize(w *Winsize) error {
	return ioctl.Ioctl(uintptr(p.f), tiocswinsz, uintptr(unsafe.Pointer(w)))
}

// OpenPTY finds an available pseudoterminal and returns a master and slave port.
// If termp is non-nil, the slave port will be configured with the given termios.
// If winp is non-nil, the slave port will be configured with the given window size.
func OpenPTY(termp *Termios, winp *Winsize) (*Port, *Port, error) {
	master, err := Open("/dev/ptmx", nil)
	if err != nil {
		return nil, nil, err
	}
	if err := master.SetLockPT(false); err != nil {
		master.Close()
		return nil, nil, err
	}
	slave, err := master.GetPTPeer(0)
	if err != nil {
		master.Close()
		return nil, nil, err
	}
	if termp != nil {
		if err := slave.SetAttr(TCSANOW, termp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}
	if winp != nil {
		if err := slave.SetWinSize(winp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}

	return master, slave, nil
}
