package tsb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(ft *fakeTransport) *Engine {
	opts := DefaultOptions()
	opts.ResetSettle = time.Millisecond
	opts.ProbeTimeout = time.Millisecond
	return NewEngine(ft, opts)
}

func TestActivateTwoWire(t *testing.T) {
	userPage := make([]byte, 64)
	userPage[2] = 0xFF // timeout byte

	ft := &fakeTransport{reads: [][]byte{scenario1Header(), userPage}}
	e := newTestEngine(ft)

	require.NoError(t, e.Activate())
	assert.Equal(t, StateActive, e.State())
	assert.False(t, e.oneWire)
	assert.Equal(t, 64, e.Info().Pagesize)
}

func TestActivateOneWireDetection(t *testing.T) {
	probe := append([]byte("@@@"), scenario1Header()...)
	userPage := make([]byte, 64)
	userPage[2] = 0xFF

	ft := &fakeTransport{reads: [][]byte{probe, []byte("c"), userPage}}
	e := newTestEngine(ft)

	require.NoError(t, e.Activate())
	assert.True(t, e.oneWire)
	assert.Equal(t, StateActive, e.State())
}

func TestActivateNoResponseWithoutPassword(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{}}}
	e := newTestEngine(ft)

	err := e.Activate()
	require.Error(t, err)
	var tsbErr *Error
	require.ErrorAs(t, err, &tsbErr)
	assert.Equal(t, NoResponse, tsbErr.Kind)
}

func TestActivateLogsInWithPassword(t *testing.T) {
	userPage := make([]byte, 64)
	userPage[2] = 0xFF
	ft := &fakeTransport{reads: [][]byte{{}, scenario1Header(), userPage}}
	e := newTestEngine(ft)
	e.opts.Password = []byte("secret")

	require.NoError(t, e.Activate())
	require.Len(t, ft.writes, 3) // "@@@", password, 'c'
	assert.Equal(t, []byte("secret"), ft.writes[1])
}

func testActiveEngine(ft *fakeTransport, pagesize, appflash int) *Engine {
	e := newTestEngine(ft)
	e.state = StateActive
	e.info = &DeviceInfo{Pagesize: pagesize, Appflash: appflash, Flashsize: appflash, Eepromsize: appflash}
	return e
}

func TestPagedReadTrimsTrailingFF(t *testing.T) {
	page0 := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	page1 := append([]byte{17, 18, 19, 20, 21, 22, 23, 24}, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)

	ft := &fakeTransport{reads: [][]byte{page0, page1, {Confirm}}}
	e := testActiveEngine(ft, 16, 32)

	var progressCalls [][2]int
	data, err := e.FlashRead(func(done, total int) { progressCalls = append(progressCalls, [2]int{done, total}) })
	require.NoError(t, err)
	assert.Equal(t, append(page0, page1[:8]...), data)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, progressCalls)
}

func TestPagedWriteSuccess(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{Request}, {Request}, {Request}, {Confirm}}}
	e := testActiveEngine(ft, 16, 32)

	data := make([]byte, 32)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, e.FlashWrite(data, true, nil))
}

func TestPagedWriteVerifyError(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{Request}, {Confirm}}}
	e := testActiveEngine(ft, 16, 32)

	err := e.FlashWrite(make([]byte, 32), true, nil)
	require.Error(t, err)
	var tsbErr *Error
	require.ErrorAs(t, err, &tsbErr)
	assert.Equal(t, VerifyError, tsbErr.Kind)
}

func TestPagedWriteOutOfSpace(t *testing.T) {
	ft := &fakeTransport{}
	e := testActiveEngine(ft, 16, 32)

	err := e.FlashWrite(make([]byte, 48), true, nil)
	require.Error(t, err)
	var tsbErr *Error
	require.ErrorAs(t, err, &tsbErr)
	assert.Equal(t, OutOfSpace, tsbErr.Kind)
	assert.Empty(t, ft.writes)
}

func TestFlashWriteRefusesSPMWithoutForce(t *testing.T) {
	ft := &fakeTransport{}
	e := testActiveEngine(ft, 16, 32)

	data := make([]byte, 32)
	data[0], data[1] = 0xE8, 0x95 // SPM opcode, little-endian

	err := e.FlashWrite(data, false, nil)
	require.Error(t, err)
	assert.Empty(t, ft.writes)
}

func TestFlashWriteAllowsSPMOnTinyMega(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{Request}, {Request}, {Confirm}}}
	e := testActiveEngine(ft, 16, 16)
	e.info.Tinymega = 1

	data := make([]byte, 16)
	data[0], data[1] = 0xE8, 0x95
	require.NoError(t, e.FlashWrite(data, false, nil))
}

func TestRequireActiveGuardsOperations(t *testing.T) {
	ft := &fakeTransport{}
	e := newTestEngine(ft)
	_, err := e.FlashRead(nil)
	require.Error(t, err)
}

func TestEmergencyEraseHappyPath(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{{}, {Request}, {Request}, {Confirm}}}
	e := newTestEngine(ft)

	var progressCalls int
	err := e.EmergencyErase(func(done, total int) { progressCalls++ })
	require.NoError(t, err)
	assert.Equal(t, 3, progressCalls)
}

func TestEmergencyEraseRefusedWhenUnlocked(t *testing.T) {
	ft := &fakeTransport{reads: [][]byte{scenario1Header()}}
	e := newTestEngine(ft)

	err := e.EmergencyErase(nil)
	require.Error(t, err)
	var tsbErr *Error
	require.ErrorAs(t, err, &tsbErr)
	assert.Equal(t, UnexpectedReply, tsbErr.Kind)
}

func TestCloseSendsQuitAndClosesPort(t *testing.T) {
	ft := &fakeTransport{}
	e := testActiveEngine(ft, 16, 16)

	require.NoError(t, e.Close())
	assert.True(t, ft.closed)
	require.Len(t, ft.writes, 1)
	assert.Equal(t, []byte{'q'}, ft.writes[0])
	assert.Equal(t, StateClosed, e.State())
}
