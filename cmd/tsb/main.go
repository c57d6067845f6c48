// Command tsb talks to a TinySafeBoot device over a serial port: reading or
// writing flash/EEPROM, changing the activation password/timeout, or wiping
// the device in an emergency.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsbhost/avrtsb/serial"
	"github.com/tsbhost/avrtsb/tsb"
)

type connFlags struct {
	baud      uint32
	password  string
	timeout   int
	resetDTR  int
	resetRTS  int
	resetCmd  string
	hasResetD bool
	hasResetR bool
	hasResetC bool
}

type opFlags struct {
	info           bool
	flashRead      string
	flashWrite     string
	flashErase     bool
	flashVerify    string
	eepromRead     string
	eepromWrite    string
	eepromErase    bool
	eepromVerify   string
	newPassword    string
	changeTimeout  []string
	emergencyErase bool
	force          bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cf connFlags
	var of opFlags

	cmd := &cobra.Command{
		Use:   "tsb <port>",
		Short: "Talk to a TinySafeBoot device over a serial port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTSB(args[0], cf, of)
		},
	}

	flags := cmd.Flags()
	flags.Uint32Var(&cf.baud, "baud", 19200, "serial baud rate")
	flags.StringVar(&cf.password, "password", "", "bootloader login password")
	flags.IntVar(&cf.timeout, "timeout", 0, "read timeout override, milliseconds")
	flags.IntVar(&cf.resetDTR, "reset-dtr", -1, "line-driven reset via DTR (0 or 1 = active level)")
	flags.IntVar(&cf.resetRTS, "reset-rts", -1, "line-driven reset via RTS (0 or 1 = active level)")
	flags.StringVar(&cf.resetCmd, "reset-cmd", "", "command-driven reset string (default TSB)")

	flags.BoolVarP(&of.info, "info", "i", false, "print device information and exit")
	flags.StringVar(&of.flashRead, "fr", "", "read flash to file")
	flags.StringVar(&of.flashWrite, "fw", "", "write flash from file")
	flags.BoolVar(&of.flashErase, "fe", false, "erase flash")
	flags.StringVar(&of.flashVerify, "fv", "", "verify flash against file")
	flags.StringVar(&of.eepromRead, "er", "", "read EEPROM to file")
	flags.StringVar(&of.eepromWrite, "ew", "", "write EEPROM from file")
	flags.BoolVar(&of.eepromErase, "ee", false, "erase EEPROM")
	flags.StringVar(&of.eepromVerify, "ev", "", "verify EEPROM against file")
	flags.StringVar(&of.newPassword, "new-password", "", "set a new bootloader password")
	flags.StringSliceVar(&of.changeTimeout, "change-timeout", nil, "T, or MS,F to compute a factor")
	flags.BoolVar(&of.emergencyErase, "emergency-erase", false, "wipe a device whose password is lost")
	flags.BoolVarP(&of.force, "force", "f", false, "override the SPM safety check on flash writes")

	cmd.MarkFlagsMutuallyExclusive("reset-dtr", "reset-rts", "reset-cmd")
	return cmd
}

func runTSB(port string, cf connFlags, of opFlags) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if of.emergencyErase {
		return runEmergencyErase(port, cf, logger)
	}

	opts := tsb.DefaultOptions()
	opts.Logger = logger
	if cf.password != "" {
		opts.Password = []byte(cf.password)
	}
	switch {
	case cf.resetDTR >= 0:
		opts.Reset = tsb.ResetDTR
		opts.ResetActiveHigh = cf.resetDTR == 1
	case cf.resetRTS >= 0:
		opts.Reset = tsb.ResetRTS
		opts.ResetActiveHigh = cf.resetRTS == 1
	case cf.resetCmd != "":
		opts.Reset = tsb.ResetCmd
		opts.ResetCommand = cf.resetCmd
	}

	sopts := serial.NewOptions().SetBaud(cf.baud)
	if cf.timeout > 0 {
		sopts.SetReadTimeout(time.Duration(cf.timeout) * time.Millisecond)
	}
	sp, err := serial.OpenRaw(port, sopts)
	if err != nil {
		return fmt.Errorf("opening %s: %w", port, err)
	}

	engine := tsb.NewEngine(sp, opts)
	if err := engine.Activate(); err != nil {
		sp.Close()
		return fmt.Errorf("activating bootloader: %w", err)
	}
	defer engine.Close()

	if of.info {
		fmt.Println(engine.Info().String())
		return nil
	}

	progress := func(done, total int) {
		logger.Info("progress", "done", done, "total", total)
	}

	if of.flashErase {
		if err := engine.FlashErase(progress); err != nil {
			return err
		}
	}
	if of.flashWrite != "" {
		data, err := os.ReadFile(of.flashWrite)
		if err != nil {
			return err
		}
		if err := engine.FlashWrite(data, of.force, progress); err != nil {
			return err
		}
	}
	if of.flashRead != "" {
		data, err := engine.FlashRead(progress)
		if err != nil {
			return err
		}
		if err := os.WriteFile(of.flashRead, data, 0o644); err != nil {
			return err
		}
	}
	if of.flashVerify != "" {
		data, err := os.ReadFile(of.flashVerify)
		if err != nil {
			return err
		}
		if err := engine.FlashVerify(data, progress); err != nil {
			return err
		}
	}
	if of.eepromErase {
		if err := engine.EepromErase(progress); err != nil {
			return err
		}
	}
	if of.eepromWrite != "" {
		data, err := os.ReadFile(of.eepromWrite)
		if err != nil {
			return err
		}
		if err := engine.EepromWrite(data, progress); err != nil {
			return err
		}
	}
	if of.eepromRead != "" {
		data, err := engine.EepromRead(progress)
		if err != nil {
			return err
		}
		if err := os.WriteFile(of.eepromRead, data, 0o644); err != nil {
			return err
		}
	}
	if of.eepromVerify != "" {
		data, err := os.ReadFile(of.eepromVerify)
		if err != nil {
			return err
		}
		if err := engine.EepromVerify(data, progress); err != nil {
			return err
		}
	}

	if of.newPassword != "" {
		if err := engine.Info().SetPassword([]byte(of.newPassword)); err != nil {
			return err
		}
		if err := engine.WriteUserData(); err != nil {
			return err
		}
	}
	if len(of.changeTimeout) > 0 {
		factor, err := computeTimeoutFactor(of.changeTimeout)
		if err != nil {
			return err
		}
		if err := engine.Info().SetTimeout(factor); err != nil {
			return err
		}
		if err := engine.WriteUserData(); err != nil {
			return err
		}
	}

	return nil
}

func runEmergencyErase(port string, cf connFlags, logger *slog.Logger) error {
	opts := tsb.DefaultOptions()
	opts.Logger = logger
	switch {
	case cf.resetDTR >= 0:
		opts.Reset = tsb.ResetDTR
		opts.ResetActiveHigh = cf.resetDTR == 1
	case cf.resetRTS >= 0:
		opts.Reset = tsb.ResetRTS
		opts.ResetActiveHigh = cf.resetRTS == 1
	case cf.resetCmd != "":
		opts.Reset = tsb.ResetCmd
		opts.ResetCommand = cf.resetCmd
	}

	sopts := serial.NewOptions().SetBaud(cf.baud)
	sp, err := serial.OpenRaw(port, sopts)
	if err != nil {
		return fmt.Errorf("opening %s: %w", port, err)
	}
	defer sp.Close()

	engine := tsb.NewEngine(sp, opts)
	return engine.EmergencyErase(func(done, total int) {
		logger.Info("emergency erase progress", "done", done, "total", total)
	})
}

// computeTimeoutFactor implements the --change-timeout T | MS F forms of
// spec §6: a single value sets the factor directly; two values compute
// factor = floor((F_Hz * MS/1000) / 196600), clamped to >= 1.
func computeTimeoutFactor(args []string) (int, error) {
	if len(args) == 1 {
		var t int
		if _, err := fmt.Sscanf(args[0], "%d", &t); err != nil {
			return 0, fmt.Errorf("invalid --change-timeout value %q", args[0])
		}
		return t, nil
	}
	if len(args) != 2 {
		return 0, fmt.Errorf("--change-timeout takes 1 or 2 values")
	}
	var ms, freq int
	if _, err := fmt.Sscanf(args[0], "%d", &ms); err != nil {
		return 0, fmt.Errorf("invalid timeout ms %q", args[0])
	}
	if _, err := fmt.Sscanf(args[1], "%d", &freq); err != nil {
		return 0, fmt.Errorf("invalid frequency %q", args[1])
	}
	if ms < 100 || ms > 10000 {
		return 0, fmt.Errorf("timeout ms must be in range 100..10000")
	}
	hz := freq
	if freq >= 1 && freq <= 25 {
		hz = freq * 1_000_000
	} else if freq < 10_000 || freq > 25_000_000 {
		return 0, fmt.Errorf("frequency must be 1..25 (MHz) or 10000..25000000 (Hz)")
	}
	factor := (hz * ms / 1000) / 196600
	if factor < 1 {
		factor = 1
	}
	return factor, nil
}
