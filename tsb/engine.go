package tsb

import (
	"log/slog"
	"time"
)

// State is the protocol engine's lifecycle stage, per spec §4.1.
type State int

const (
	StateInit State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateActive:
		return "Active"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ResetMode selects how the device is driven into the bootloader.
type ResetMode int

const (
	ResetDTR ResetMode = iota
	ResetRTS
	ResetCmd
)

// Options configures an Engine's reset discipline and activation.
type Options struct {
	// Password logs in if the device doesn't respond to the bare "@@@" probe.
	Password []byte

	// Reset selects line-driven (DTR/RTS) or command-driven reset.
	Reset ResetMode
	// ResetActiveHigh is the asserted level for the chosen line. The other
	// line is raised by setPower before the reset pulse and left raised.
	ResetActiveHigh bool
	// ResetCommand is sent to the running application for ResetCmd.
	ResetCommand string
	// ResetSettle is how long to wait after the reset pulse before probing.
	ResetSettle time.Duration

	// ProbeTimeout bounds the read after sending "@@@".
	ProbeTimeout time.Duration

	Logger *slog.Logger
}

// DefaultOptions returns the spec's defaults: DTR active-high reset, 200ms
// settle, "TSB" command string, 50ms probe deadline.
func DefaultOptions() *Options {
	return &Options{
		Reset:           ResetDTR,
		ResetActiveHigh: true,
		ResetCommand:    "TSB",
		ResetSettle:     200 * time.Millisecond,
		ProbeTimeout:    50 * time.Millisecond,
		Logger:          slog.Default(),
	}
}

// Progress reports page-level advancement of a long-running operation; see
// design note in spec §9 ("long-running operations as progress streams").
// Called once per page round-trip; never called before the first page.
type Progress func(done, total int)

func noProgress(int, int) {}

// Engine drives the TSB wire protocol state machine over a Transport.
type Engine struct {
	raw       Transport
	transport Transport
	oneWire   bool
	state     State
	info      *DeviceInfo
	opts      *Options
	log       *slog.Logger
}

// NewEngine wraps t with the protocol engine. Reset/activation parameters
// come from opts; a nil opts uses DefaultOptions.
func NewEngine(t Transport, opts *Options) *Engine {
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		raw:       t,
		transport: t,
		state:     StateInit,
		opts:      opts,
		log:       logger,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

// Info returns the device info learned at activation, or nil before it.
func (e *Engine) Info() *DeviceInfo { return e.info }

func (e *Engine) requireActive() error {
	if e.state != StateActive {
		return newErr(UnexpectedReply, "operation requires an active session")
	}
	return nil
}

// setPower raises the non-reset control line and waits ~100ms before the
// reset pulse, supporting self-powered RS-232 converters that steal bus power
// from a control line; the line stays raised afterwards. Per spec §4.1 /
// recovered tsbloader.py behavior.
func (e *Engine) setPower() error {
	if e.opts.Reset == ResetCmd {
		return nil
	}
	var err error
	if e.opts.Reset == ResetDTR {
		err = e.raw.SetRTS(true)
	} else {
		err = e.raw.SetDTR(true)
	}
	if err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return nil
}

// resetMCU executes the configured reset discipline.
func (e *Engine) resetMCU() error {
	switch e.opts.Reset {
	case ResetDTR, ResetRTS:
		active, inactive := e.opts.ResetActiveHigh, !e.opts.ResetActiveHigh
		set := e.raw.SetDTR
		if e.opts.Reset == ResetRTS {
			set = e.raw.SetRTS
		}
		if err := set(active); err != nil {
			return err
		}
		time.Sleep(1 * time.Millisecond)
		if err := set(inactive); err != nil {
			return err
		}
		time.Sleep(e.opts.ResetSettle)
	case ResetCmd:
		if err := e.raw.SetDTR(false); err != nil {
			return err
		}
		if err := e.raw.SetRTS(false); err != nil {
			return err
		}
		cmd := e.opts.ResetCommand
		if cmd == "" {
			cmd = "TSB"
		}
		if _, err := e.raw.Write([]byte(cmd)); err != nil {
			return err
		}
		discard := make([]byte, 256)
		e.raw.ReadTimeout(discard, e.opts.ResetSettle)
	}
	return nil
}

// read collects up to len(buf) bytes, resetting the deadline on every
// received byte so a slow trickle doesn't time out as long as it's making
// progress. Returns the number of bytes actually read.
func (e *Engine) read(buf []byte, timeout time.Duration) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := e.transport.ReadTimeout(buf[total:], timeout)
		if n > 0 {
			total += n
			continue
		}
		if err != nil {
			return total, err
		}
		break
	}
	return total, nil
}

// waitByte reads a single byte and requires it to equal want.
func (e *Engine) waitByte(want byte, timeout time.Duration) error {
	b := make([]byte, 1)
	n, err := e.read(b, timeout)
	if err != nil {
		return wrapErr(NoResponse, "waiting for reply", err)
	}
	if n == 0 {
		return newErr(NoResponse, "device did not reply")
	}
	if b[0] != want {
		return newErr(UnexpectedReply, "device sent an unexpected reply byte")
	}
	return nil
}

// Activate resets the device, probes for the bootloader, logs in if a
// password is configured, and parses the info header and user-data page.
func (e *Engine) Activate() error {
	if err := e.setPower(); err != nil {
		return err
	}
	if err := e.resetMCU(); err != nil {
		return err
	}

	if _, err := e.raw.Write([]byte("@@@")); err != nil {
		return err
	}
	resp := make([]byte, 1024)
	n, err := e.raw.ReadTimeout(resp, e.opts.ProbeTimeout)
	if err != nil {
		return wrapErr(NoResponse, "probing for bootloader", err)
	}
	resp = resp[:n]

	if len(resp) >= 3 && string(resp[0:3]) == "@@@" {
		e.oneWire = true
		e.transport = newTransport(e.raw, true)
		resp = resp[3:]
		e.log.Debug("one-wire link detected")
	}

	if len(resp) == 0 {
		if len(e.opts.Password) == 0 {
			return newErr(NoResponse, "no response from bootloader; a password may be required")
		}
		if _, err := e.transport.Write(e.opts.Password); err != nil {
			return err
		}
		resp = make([]byte, 1024)
		n, err = e.raw.ReadTimeout(resp, e.opts.ProbeTimeout)
		if err != nil {
			return wrapErr(NoResponse, "logging in", err)
		}
		resp = resp[:n]
	}

	if len(resp) == 0 {
		return newErr(NoResponse, "no response from bootloader; the configured password may be wrong")
	}

	info := &DeviceInfo{}
	if err := info.ParseInfoHeader(resp); err != nil {
		return err
	}
	e.info = info
	e.state = StateActive

	if err := e.readUserDataLocked(); err != nil {
		e.state = StateInit
		return err
	}
	return nil
}

func (e *Engine) sendCommand(cmd byte) error {
	_, err := e.transport.Write([]byte{cmd})
	return err
}

// readUserDataLocked issues the user-data read command and stores the
// result on e.info. Called with the session already Active.
func (e *Engine) readUserDataLocked() error {
	if err := e.sendCommand('c'); err != nil {
		return err
	}
	page := make([]byte, e.info.Pagesize)
	n, err := e.read(page, 200*time.Millisecond)
	if err != nil {
		return wrapErr(NoResponse, "reading user data", err)
	}
	if n < len(page) {
		return newErr(PageShort, "user data page truncated")
	}
	return e.info.ParseUserData(page)
}

// WriteUserData pushes the current DeviceInfo's timeout/password back to
// the device, per spec §4.1.
func (e *Engine) WriteUserData() error {
	if err := e.requireActive(); err != nil {
		return err
	}
	if err := e.sendCommand('C'); err != nil {
		return err
	}
	if err := e.waitByte(Request, 200*time.Millisecond); err != nil {
		return err
	}
	if _, err := e.transport.Write([]byte{Confirm}); err != nil {
		return err
	}
	page := e.info.EncodeUserData()
	if _, err := e.transport.Write(page); err != nil {
		return err
	}
	reply := make([]byte, 1)
	n, err := e.read(reply, 200*time.Millisecond)
	if err != nil {
		return wrapErr(UserDataWriteError, "writing user data", err)
	}
	if n == 0 {
		return newErr(NoResponse, "no reply after user data write")
	}
	switch reply[0] {
	case Confirm:
		return newErr(UserDataWriteError, "device rejected the user data write")
	case Request:
		return nil
	default:
		return newErr(UnexpectedReply, "unexpected reply after user data write")
	}
}

// pagedRead implements the flash/EEPROM read rhythm of spec §4.1.
func (e *Engine) pagedRead(cmd byte, size int, progress Progress) ([]byte, error) {
	if progress == nil {
		progress = noProgress
	}
	if err := e.sendCommand(cmd); err != nil {
		return nil, err
	}
	pagesize := e.info.Pagesize
	total := (size + pagesize - 1) / pagesize
	out := make([]byte, 0, total*pagesize)
	for i := 0; i < total; i++ {
		if _, err := e.transport.Write([]byte{Confirm}); err != nil {
			return nil, err
		}
		page := make([]byte, pagesize)
		n, err := e.read(page, 1*time.Second)
		if err != nil {
			return nil, wrapErr(NoResponse, "reading page", err)
		}
		if n < pagesize {
			return nil, newErr(PageShort, "page shorter than pagesize")
		}
		out = append(out, page...)
		progress(i+1, total)
	}
	if _, err := e.transport.Write([]byte{Request}); err != nil {
		return nil, err
	}
	if err := e.waitByte(Confirm, 1*time.Second); err != nil {
		return nil, wrapErr(TruncatedStream, "stream did not terminate cleanly", err)
	}
	return trimFF(out), nil
}

// pagedWrite implements the flash/EEPROM write rhythm of spec §4.1.
func (e *Engine) pagedWrite(cmd byte, data []byte, maxSize int, perPage time.Duration, progress Progress) error {
	if progress == nil {
		progress = noProgress
	}
	if len(data) > maxSize {
		return newErr(OutOfSpace, "data exceeds target memory size")
	}
	pagesize := e.info.Pagesize
	padded := padTo(data, pagesize)
	total := len(padded) / pagesize

	if err := e.sendCommand(cmd); err != nil {
		return err
	}
	if err := e.waitByte(Request, time.Duration(total+1)*perPage); err != nil {
		return wrapErr(NoResponse, "waiting for device erase", err)
	}

	for i := 0; i < total; i++ {
		if _, err := e.transport.Write([]byte{Confirm}); err != nil {
			return err
		}
		page := padded[i*pagesize : (i+1)*pagesize]
		if _, err := e.transport.Write(page); err != nil {
			return err
		}
		reply := make([]byte, 1)
		n, err := e.read(reply, perPage)
		if err != nil {
			return wrapErr(NoResponse, "writing page", err)
		}
		if n == 0 {
			return newErr(NoResponse, "no reply after page write")
		}
		switch reply[0] {
		case Request:
			progress(i+1, total)
			continue
		case Confirm:
			return newErr(VerifyError, "device signalled verify failure or end of memory")
		default:
			return newErr(UnexpectedReply, "unexpected reply after page write")
		}
	}

	if _, err := e.transport.Write([]byte{Request}); err != nil {
		return err
	}
	return e.waitByte(Confirm, perPage)
}

func trimFF(data []byte) []byte {
	i := len(data)
	for i > 0 && data[i-1] == 0xFF {
		i--
	}
	return data[:i]
}

func padTo(data []byte, pagesize int) []byte {
	total := (len(data) + pagesize - 1) / pagesize
	if total == 0 {
		total = 1
	}
	padded := make([]byte, total*pagesize)
	for i := range padded {
		padded[i] = 0xFF
	}
	copy(padded, data)
	return padded
}

// spmOpcode is the AVR SPM instruction, little-endian bytes {0xE8, 0x95}.
const spmOpcode = 0x95E8

func containsSPM(data []byte) bool {
	for i := 0; i+1 < len(data); i += 2 {
		word := uint16(data[i]) | uint16(data[i+1])<<8
		if word == spmOpcode {
			return true
		}
	}
	return false
}

// check4SPM refuses a flash write containing the SPM opcode when the
// device's Tinymega flag is 0, unless force is set, per spec §4.1.
func (e *Engine) check4SPM(data []byte, force bool) error {
	if force || e.info.Tinymega == 1 {
		return nil
	}
	if containsSPM(data) {
		return newErr(VerifyError, "image contains an SPM instruction; pass force to override")
	}
	return nil
}

// FlashRead reads the full application flash area.
func (e *Engine) FlashRead(progress Progress) ([]byte, error) {
	if err := e.requireActive(); err != nil {
		return nil, err
	}
	return e.pagedRead('f', e.info.Appflash, progress)
}

// FlashWrite writes data to application flash, 0xFF-padded to a whole page.
// The SPM safety check applies unless force is set.
func (e *Engine) FlashWrite(data []byte, force bool, progress Progress) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	if err := e.check4SPM(data, force); err != nil {
		return err
	}
	return e.pagedWrite('F', data, e.info.Appflash, 200*time.Millisecond, progress)
}

// FlashErase writes appflash bytes of 0xFF, the whole application area.
func (e *Engine) FlashErase(progress Progress) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	blank := make([]byte, e.info.Appflash)
	for i := range blank {
		blank[i] = 0xFF
	}
	return e.pagedWrite('F', blank, e.info.Appflash, 200*time.Millisecond, progress)
}

// FlashVerify reads flash back and compares it to data (trailing 0xFF
// stripped from both sides, matching FlashRead's own normalization).
func (e *Engine) FlashVerify(data []byte, progress Progress) error {
	got, err := e.FlashRead(progress)
	if err != nil {
		return err
	}
	return verifyEqual(trimFF(data), got)
}

// EepromRead reads the full EEPROM area.
func (e *Engine) EepromRead(progress Progress) ([]byte, error) {
	if err := e.requireActive(); err != nil {
		return nil, err
	}
	return e.pagedRead('e', e.info.Eepromsize, progress)
}

// EepromWrite writes data to EEPROM, 0xFF-padded to a whole page. EEPROM
// writes get a longer per-page deadline since byte-program time is slower.
func (e *Engine) EepromWrite(data []byte, progress Progress) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	perPage := time.Duration(e.info.Pagesize*10) * time.Millisecond
	return e.pagedWrite('E', data, e.info.Eepromsize, perPage, progress)
}

// EepromErase writes eepromsize bytes of 0xFF to EEPROM.
func (e *Engine) EepromErase(progress Progress) error {
	if err := e.requireActive(); err != nil {
		return err
	}
	blank := make([]byte, e.info.Eepromsize)
	for i := range blank {
		blank[i] = 0xFF
	}
	perPage := time.Duration(e.info.Pagesize*10) * time.Millisecond
	return e.pagedWrite('E', blank, e.info.Eepromsize, perPage, progress)
}

// EepromVerify reads EEPROM back and compares it to data.
func (e *Engine) EepromVerify(data []byte, progress Progress) error {
	got, err := e.EepromRead(progress)
	if err != nil {
		return err
	}
	return verifyEqual(trimFF(data), got)
}

func verifyEqual(want, got []byte) error {
	if len(want) != len(got) {
		return newErr(VerifyError, "readback length does not match expected data")
	}
	for i := range want {
		if want[i] != got[i] {
			return newErr(VerifyError, "readback does not match expected data")
		}
	}
	return nil
}

// EmergencyErase wipes the device without a login, for a lost password.
// It fails on a closed engine; it does not check for any other state.
func (e *Engine) EmergencyErase(progress Progress) error {
	if progress == nil {
		progress = noProgress
	}
	if e.state == StateClosed {
		return newErr(UnexpectedReply, "engine is closed")
	}
	if err := e.setPower(); err != nil {
		return err
	}
	if err := e.resetMCU(); err != nil {
		return err
	}
	if _, err := e.raw.Write([]byte("@@@")); err != nil {
		return err
	}
	resp := make([]byte, 1024)
	n, err := e.raw.ReadTimeout(resp, e.opts.ProbeTimeout)
	if err != nil {
		return wrapErr(NoResponse, "probing for bootloader", err)
	}
	if n > 0 {
		return newErr(UnexpectedReply, "TSB is accessible without password")
	}

	e.transport = e.raw
	steps := []struct {
		send  byte
		await byte
	}{
		{0x00, Request},
		{Confirm, Request},
		{Confirm, Confirm},
	}
	for i, step := range steps {
		if _, err := e.transport.Write([]byte{step.send}); err != nil {
			return err
		}
		deadline := 1 * time.Second
		if i == len(steps)-1 {
			deadline = 60 * time.Second
		}
		if err := e.waitByte(step.await, deadline); err != nil {
			return wrapErr(NoResponse, "emergency erase did not complete", err)
		}
		progress(i+1, len(steps))
	}
	return nil
}

// Close sends the exit command, resets the MCU back to the application,
// and closes the underlying port.
func (e *Engine) Close() error {
	if e.state == StateClosed {
		return nil
	}
	if e.state == StateActive {
		e.sendCommand('q')
		e.resetMCU()
	}
	e.state = StateClosed
	e.log.Debug("session closed")
	return e.raw.Close()
}
