package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsbhost/avrtsb/firmware"
)

func makeInfo(t *testing.T, devices []string, sig [3]byte) *firmware.Info {
	t.Helper()
	ports := firmware.NewPortMap()
	ports.SetPIN('B', 0x16)
	return &firmware.Info{Devices: devices, Signature: sig, Ports: ports, TSBStart: 0x1C00}
}

func TestAddDedupesByContentHashAndMergesDevices(t *testing.T) {
	c := New(nil)
	base := []byte{1, 2, 3, 4}

	c.Add(base, makeInfo(t, []string{"m8"}, [3]byte{0x1E, 0x93, 0x07}))
	c.Add(append([]byte(nil), base...), makeInfo(t, []string{"m8a"}, [3]byte{0x1E, 0x93, 0x07}))

	_, infoA, okA := c.LookupByName("m8")
	_, infoB, okB := c.LookupByName("m8a")
	require.True(t, okA)
	require.True(t, okB)
	assert.ElementsMatch(t, []string{"m8", "m8a"}, infoA.Devices)
	assert.Equal(t, infoA, infoB)
}

func TestAddDistinguishesDifferentRegisterMaps(t *testing.T) {
	c := New(nil)
	base := []byte{1, 2, 3, 4}

	infoA := makeInfo(t, []string{"devA"}, [3]byte{1, 2, 3})
	infoB := makeInfo(t, []string{"devB"}, [3]byte{1, 2, 3})
	infoB.Ports.SetPIN('B', 0x20) // different PIN address -> not Equal

	c.Add(base, infoA)
	c.Add(base, infoB)

	_, gotA, _ := c.LookupByName("devA")
	_, gotB, _ := c.LookupByName("devB")
	assert.NotEqual(t, gotA.Devices, gotB.Devices)
}

func TestLookupBySignature(t *testing.T) {
	c := New(nil)
	sig := [3]byte{0x1E, 0x93, 0x0B}
	c.Add([]byte{1, 2}, makeInfo(t, []string{"t85"}, sig))
	c.Add([]byte{3, 4}, makeInfo(t, []string{"t85v2"}, sig))

	names := c.LookupBySignature(sig)
	assert.ElementsMatch(t, []string{"t85", "t85v2"}, names)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fw.catalog")

	c := New(nil)
	c.Add([]byte{1, 2, 3, 4}, makeInfo(t, []string{"m8"}, [3]byte{0x1E, 0x93, 0x07}))
	require.NoError(t, c.Save(path))

	loaded, err := Load(path, nil)
	require.NoError(t, err)

	base, info, ok := loaded.LookupByName("m8")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, base)
	assert.Equal(t, []string{"m8"}, info.Devices)
	pin, ok := info.Ports.PIN('B')
	require.True(t, ok)
	assert.Equal(t, byte(0x16), pin)
}

func TestLoadMissingFileYieldsEmptyCatalog(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "missing"), nil)
	require.NoError(t, err)
	_, _, ok := c.LookupByName("anything")
	assert.False(t, ok)
}

func TestLoadPropagatesOtherErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt")
	require.NoError(t, os.WriteFile(path, []byte("not gzip"), 0o644))

	_, err := Load(path, nil)
	require.Error(t, err)
}
