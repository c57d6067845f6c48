package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPTYWriteReadRoundTrip(t *testing.T) {
	master, slave, err := OpenPTY(nil, nil)
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	master.SetReadTimeout(time.Second)
	_, err = slave.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := master.ReadTimeout(buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestSetDTRAndRTS(t *testing.T) {
	master, slave, err := OpenPTY(nil, nil)
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	assert.NoError(t, master.SetDTR(true))
	assert.NoError(t, master.SetDTR(false))
	assert.NoError(t, master.SetRTS(true))
	assert.NoError(t, master.SetRTS(false))
}

func TestClosedPortWriteFails(t *testing.T) {
	master, slave, err := OpenPTY(nil, nil)
	require.NoError(t, err)
	defer slave.Close()

	require.NoError(t, master.Close())
	_, err = master.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}
