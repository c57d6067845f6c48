// Command fw produces a TinySafeBoot firmware image retargeted to a
// specific device and a chosen pair of RxD/TxD pins.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tsbhost/avrtsb/catalog"
	"github.com/tsbhost/avrtsb/firmware"
	"github.com/tsbhost/avrtsb/internal/ihex"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		device     string
		rxtx       string
		output     string
		format     string
		force      bool
		catalogPath string
	)

	cmd := &cobra.Command{
		Use:   "fw",
		Short: "Produce a retargeted TinySafeBoot firmware image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFW(device, rxtx, output, format, force, catalogPath)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&device, "device", "d", "", "device name to look up in the catalog")
	flags.StringVarP(&rxtx, "rxtx", "p", "", "RxD/TxD pin spec, e.g. D0D1")
	flags.StringVarP(&output, "output", "o", "", "output file path")
	flags.StringVar(&format, "fff", "auto", "output format: auto, ihex, or raw")
	flags.BoolVarP(&force, "force", "f", false, "overwrite an existing output file")
	flags.StringVar(&catalogPath, "catalog", "firmware.catalog", "firmware catalog file")
	cmd.MarkFlagRequired("device")
	cmd.MarkFlagRequired("rxtx")
	cmd.MarkFlagRequired("output")
	return cmd
}

func runFW(device, rxtx, output, format string, force bool, catalogPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if !force {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("%s already exists; pass --force to overwrite", output)
		}
	}

	cat, err := catalog.Load(catalogPath, logger)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	base, info, ok := cat.LookupByName(device)
	if !ok {
		return fmt.Errorf("device %q not found in catalog", device)
	}

	rxd, txd, err := firmware.ParseRxTx(rxtx, info.Ports)
	if err != nil {
		return err
	}

	image := firmware.NewImage(base, info)
	image.RxD, image.TxD = rxd, txd

	patched, err := firmware.Patch(image)
	if err != nil {
		return err
	}

	effective := format
	if effective == "auto" {
		effective = formatFromExtension(output)
	}
	switch effective {
	case "ihex":
		return ihex.WriteHex(output, uint32(info.TSBStart), patched)
	case "raw":
		return ihex.WriteRaw(output, patched)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func formatFromExtension(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".hex") {
		return "ihex"
	}
	return "raw"
}
