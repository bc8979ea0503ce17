package ca

import (
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer speaks just enough of the server side of the protocol to
// exercise a virtual circuit: it grants every channel (sid 555, double)
// and answers reads and monitors with canned values.
func fakeServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			f, err := readFrame(conn)
			if err != nil {
				return
			}
			switch f.cmd {
			case cmdCreateChan:
				_, _ = conn.Write(frame{cmd: cmdAccessRights, p1: f.p1, p2: 1}.encode())
				_, _ = conn.Write(frame{cmd: cmdCreateChan, dataType: dbrDouble, count: 1, p1: f.p1, p2: 555}.encode())
			case cmdEventAdd:
				_, _ = conn.Write(frame{
					cmd: cmdEventAdd, dataType: dbrDouble, count: 1, p1: 1, p2: f.p2,
					payload: doubleBytes(7.5),
				}.encode())
			case cmdReadNotify:
				_, _ = conn.Write(frame{
					cmd: cmdReadNotify, dataType: dbrDouble, count: 1, p1: 1, p2: f.p2,
					payload: doubleBytes(3.25),
				}.encode())
			}
		}
	}()
	return ln
}

func doubleBytes(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func TestCircuitSubscribeDeliversEvents(t *testing.T) {
	ln := fakeServer(t)
	c := NewClient("", time.Second)
	defer c.Close()

	circ, err := c.circuit(ln.Addr().String())
	require.NoError(t, err)

	ch, err := circ.createChannel("TEST:LEVEL")
	require.NoError(t, err)
	assert.Equal(t, uint32(555), ch.sid)
	assert.Equal(t, dbrDouble, ch.dataType)

	got := make(chan any, 1)
	require.NoError(t, circ.subscribe(ch, func(name string, value any) {
		assert.Equal(t, "TEST:LEVEL", name)
		got <- value
	}))

	select {
	case v := <-got:
		assert.Equal(t, 7.5, v)
	case <-time.After(time.Second):
		t.Fatal("no monitor event arrived")
	}
}

func TestCircuitReadNotify(t *testing.T) {
	ln := fakeServer(t)
	c := NewClient("", time.Second)
	defer c.Close()

	circ, err := c.circuit(ln.Addr().String())
	require.NoError(t, err)
	ch, err := circ.createChannel("TEST:LEVEL")
	require.NoError(t, err)

	v, err := circ.read(ch)
	require.NoError(t, err)
	assert.Equal(t, 3.25, v)
}

func TestSearchTimesOutOnSilence(t *testing.T) {
	c := NewClient("127.0.0.1:1", 50*time.Millisecond)
	_, err := c.Search("NO:SUCH:CHANNEL")
	require.Error(t, err)
	assert.False(t, c.Probe("NO:SUCH:CHANNEL", 50*time.Millisecond))
}

func TestNewClientAddressParsing(t *testing.T) {
	c := NewClient("130.246.39.152 gateway:5066", time.Second)
	assert.Equal(t, []string{"130.246.39.152:5064", "gateway:5066"}, c.addrs)
}
