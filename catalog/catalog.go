// Package catalog implements the content-addressed firmware store of
// spec §4.4: base images keyed by content hash, each with a list of device
// variants sharing that base.
package catalog

import (
	"bytes"
	"compress/gzip"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/tsbhost/avrtsb/firmware"
)

// entry is one base image plus the device variants built from it.
type entry struct {
	BinData []byte
	Infos   []*firmware.Info
}

// Catalog is a content-addressed firmware store, safe for concurrent use.
type Catalog struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     *slog.Logger
}

// New returns an empty catalog.
func New(log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{entries: make(map[string]*entry), log: log}
}

// Load reads a catalog from a gzip-compressed CBOR file. A missing file
// yields an empty, still-usable catalog and a non-fatal warning, per
// spec §4.4.
func Load(path string, log *slog.Logger) (*Catalog, error) {
	c := New(log)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.log.Warn("firmware catalog not found, starting empty", "path", path)
			return c, nil
		}
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("decompressing catalog: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var doc document
	if err := cbor.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	for key, pe := range doc.Entries {
		e := &entry{BinData: pe.BinData}
		for _, pi := range pe.Infos {
			e.Infos = append(e.Infos, pi.toInfo())
		}
		c.entries[key] = e
	}
	return c, nil
}

// Save writes the catalog as gzip-compressed CBOR.
func (c *Catalog) Save(path string) error {
	c.mu.Lock()
	doc := document{Entries: make(map[string]persistedEntry, len(c.entries))}
	for key, e := range c.entries {
		pe := persistedEntry{BinData: e.BinData}
		for _, info := range e.Infos {
			pe.Infos = append(pe.Infos, fromInfo(info))
		}
		doc.Entries[key] = pe
	}
	c.mu.Unlock()

	raw, err := cbor.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating catalog file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("compressing catalog: %w", err)
	}
	return gz.Close()
}

// document is the on-disk CBOR schema: md5-hex -> entry.
type document struct {
	Entries map[string]persistedEntry `cbor:"entries"`
}

// Add inserts info for the given base image, deduplicating by content hash
// and merging device-name aliases when an equal variant already exists
// (spec §4.4). The trailing "TSB"+FWConf blob, if present on binData, is
// stripped before hashing so an image carrying the trailer hashes identically
// to the same image without it.
func (c *Catalog) Add(binData []byte, info *firmware.Info) {
	base := stripTrailer(binData, info.FWConf)
	sum := md5.Sum(base)
	key := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{BinData: base}
		c.entries[key] = e
	}
	for _, existing := range e.Infos {
		if existing.Equal(info) {
			existing.Devices = mergeNames(existing.Devices, info.Devices)
			return
		}
	}
	e.Infos = append(e.Infos, info)
}

func stripTrailer(data []byte, fwconf []byte) []byte {
	if len(fwconf) == 0 {
		return data
	}
	suffix := append([]byte("TSB"), fwconf...)
	if bytes.HasSuffix(data, suffix) {
		return data[:len(data)-len(suffix)]
	}
	return data
}

func mergeNames(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, n := range a {
		seen[strings.ToLower(n)] = true
	}
	for _, n := range b {
		if !seen[strings.ToLower(n)] {
			out = append(out, n)
			seen[strings.ToLower(n)] = true
		}
	}
	return out
}

// LookupByName returns the first (base image, variant) pair whose device
// aliases contain name, case-insensitively.
func (c *Catalog) LookupByName(name string) ([]byte, *firmware.Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name = strings.ToLower(name)
	for _, e := range c.entries {
		for _, info := range e.Infos {
			for _, dev := range info.Devices {
				if strings.ToLower(dev) == name {
					return e.BinData, info, true
				}
			}
		}
	}
	return nil, nil, false
}

// LookupBySignature returns every device alias whose variant's signature
// matches sig.
func (c *Catalog) LookupBySignature(sig [3]byte) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var names []string
	for _, e := range c.entries {
		for _, info := range e.Infos {
			if info.Signature == sig {
				names = append(names, info.Devices...)
			}
		}
	}
	return names
}
