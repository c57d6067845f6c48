// Package signature holds the static AVR signature-to-name table consulted
// when the firmware catalog has no entry for a connected device.
package signature

import "fmt"

// Info is the human-readable name pair for one device signature.
type Info struct {
	Short string
	Long  string
}

// table is a representative subset of the devices TinySafeBoot historically
// targets: ATtiny13/25/45/85, ATtiny2313/4313, ATmega8/48/88/168/328,
// ATmega16/32/162/644.
var table = map[[3]byte]Info{
	{0x1E, 0x90, 0x07}: {"t13", "ATtiny13"},
	{0x1E, 0x91, 0x08}: {"t13a", "ATtiny13A"},
	{0x1E, 0x91, 0x07}: {"t25", "ATtiny25"},
	{0x1E, 0x92, 0x06}: {"t45", "ATtiny45"},
	{0x1E, 0x93, 0x0B}: {"t85", "ATtiny85"},
	{0x1E, 0x91, 0x0A}: {"t2313", "ATtiny2313"},
	{0x1E, 0x92, 0x01}: {"t4313", "ATtiny4313"},
	{0x1E, 0x93, 0x07}: {"m8", "ATmega8"},
	{0x1E, 0x92, 0x05}: {"m48", "ATmega48"},
	{0x1E, 0x93, 0x0A}: {"m88", "ATmega88"},
	{0x1E, 0x94, 0x06}: {"m168", "ATmega168"},
	{0x1E, 0x95, 0x14}: {"m328", "ATmega328"},
	{0x1E, 0x94, 0x03}: {"m16", "ATmega16"},
	{0x1E, 0x95, 0x02}: {"m32", "ATmega32"},
	{0x1E, 0x94, 0x04}: {"m162", "ATmega162"},
	{0x1E, 0x96, 0x09}: {"m644", "ATmega644"},
}

// Lookup returns the known name pair for a signature, if any.
func Lookup(sig [3]byte) (Info, bool) {
	info, ok := table[sig]
	return info, ok
}

// String renders a signature as it would appear in device listings, falling
// back to raw hex when unknown.
func String(sig [3]byte) string {
	if info, ok := table[sig]; ok {
		return fmt.Sprintf("%s (%s)", info.Long, info.Short)
	}
	return fmt.Sprintf("unknown signature %02X %02X %02X", sig[0], sig[1], sig[2])
}
