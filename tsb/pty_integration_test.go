package tsb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tsbhost/avrtsb/serial"
)

// TestActivateOverPTY drives a real Engine against one end of a pseudo-
// terminal pair while a scripted goroutine plays the bootloader on the
// other end, giving integration-style coverage of framing and timeouts
// without real hardware.
func TestActivateOverPTY(t *testing.T) {
	master, slave, err := serial.OpenPTY(nil, nil)
	require.NoError(t, err)
	defer master.Close()

	master.SetReadTimeout(500 * time.Millisecond)
	slave.SetReadTimeout(2 * time.Second)

	done := make(chan error, 1)
	go func() {
		done <- runFakeBootloader(slave)
	}()

	opts := DefaultOptions()
	opts.ResetSettle = time.Millisecond
	opts.ProbeTimeout = 300 * time.Millisecond

	e := NewEngine(master, opts)
	err = e.Activate()
	require.NoError(t, err)
	require.Equal(t, 64, e.Info().Pagesize)

	require.NoError(t, <-done)
}

// runFakeBootloader speaks just enough TSB to satisfy one Activate call: it
// waits for "@@@", answers with the info header, then waits for 'c' and
// answers with a blank user-data page.
func runFakeBootloader(p *serial.Port) error {
	probe := make([]byte, 3)
	if _, err := readFull(p, probe); err != nil {
		return err
	}
	if string(probe) != "@@@" {
		return errUnexpectedProbe
	}
	if _, err := p.Write(scenario1Header()); err != nil {
		return err
	}

	cmd := make([]byte, 1)
	if _, err := readFull(p, cmd); err != nil {
		return err
	}
	if cmd[0] != 'c' {
		return errUnexpectedProbe
	}
	userPage := make([]byte, 64)
	userPage[2] = 0xFF
	_, err := p.Write(userPage)
	return err
}

var errUnexpectedProbe = &Error{Kind: UnexpectedReply, msg: "fake bootloader received unexpected bytes"}

func readFull(p *serial.Port, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := p.Read(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			continue
		}
		total += n
	}
	return total, nil
}
