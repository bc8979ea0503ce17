package ca

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	f := frame{
		cmd:      cmdCreateChan,
		dataType: dbrDouble,
		count:    1,
		p1:       0xDEAD,
		p2:       0xBEEF,
		payload:  []byte("SOME:CHANNEL"),
	}
	got, err := readFrame(bytes.NewReader(f.encode()))
	require.NoError(t, err)
	assert.Equal(t, f.cmd, got.cmd)
	assert.Equal(t, f.dataType, got.dataType)
	assert.Equal(t, f.count, got.count)
	assert.Equal(t, f.p1, got.p1)
	assert.Equal(t, f.p2, got.p2)
	// payload is padded to the 8-byte boundary with NULs
	assert.Equal(t, 16, len(got.payload))
	assert.Equal(t, "SOME:CHANNEL", trimNULs(got.payload))
}

func TestFrameExtendedHeader(t *testing.T) {
	f := frame{cmd: cmdEventAdd, count: 70000, payload: make([]byte, 0x10000)}
	enc := f.encode()
	// marker size 0xFFFF selects the 24-byte header
	assert.Equal(t, uint16(0xFFFF), binary.BigEndian.Uint16(enc[2:4]))

	got, err := readFrame(bytes.NewReader(enc))
	require.NoError(t, err)
	assert.Equal(t, uint32(70000), got.count)
	assert.Equal(t, 0x10000, len(got.payload))
}

func TestNamePayloadIsTerminatedAndPadded(t *testing.T) {
	p := namePayload("AB")
	assert.Equal(t, 8, len(p))
	assert.Equal(t, byte(0), p[2])
	assert.Equal(t, "AB", trimNULs(p))

	assert.Equal(t, 16, len(namePayload("12345678")))
}

func TestDecodeScalar(t *testing.T) {
	dbl := make([]byte, 8)
	binary.BigEndian.PutUint64(dbl, math.Float64bits(7.5))
	v, err := decodeScalar(dbrDouble, 1, dbl)
	require.NoError(t, err)
	assert.Equal(t, 7.5, v)

	flt := make([]byte, 8)
	binary.BigEndian.PutUint32(flt, math.Float32bits(1.25))
	v, err = decodeScalar(dbrFloat, 1, flt)
	require.NoError(t, err)
	assert.Equal(t, 1.25, v)

	sh := []byte{0xFF, 0xFE, 0, 0}
	v, err = decodeScalar(dbrShort, 1, sh)
	require.NoError(t, err)
	assert.Equal(t, int16(-2), v)

	lng := make([]byte, 8)
	binary.BigEndian.PutUint32(lng, 100000)
	v, err = decodeScalar(dbrLong, 1, lng)
	require.NoError(t, err)
	assert.Equal(t, int32(100000), v)

	v, err = decodeScalar(dbrString, 1, append([]byte("LEVEL OK"), make([]byte, 32)...))
	require.NoError(t, err)
	assert.Equal(t, "LEVEL OK", v)

	// char arrays are byte strings
	v, err = decodeScalar(dbrChar, 5, append([]byte("hello"), 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	// a lone char is a small integer
	v, err = decodeScalar(dbrChar, 1, []byte{42, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, int16(42), v)

	_, err = decodeScalar(99, 1, dbl)
	assert.Error(t, err)
}

func TestParseFramesSplitsDatagram(t *testing.T) {
	var b []byte
	b = append(b, frame{cmd: cmdVersion, dataType: 1, count: uint32(protocolVersion)}.encode()...)
	b = append(b, frame{cmd: cmdSearch, dataType: 5064, p1: 0xFFFFFFFF, p2: 7, payload: []byte{0, 0, 0, 0, 0, 0, 0, 0}}.encode()...)

	frames := parseFrames(b)
	require.Len(t, frames, 2)
	assert.Equal(t, cmdVersion, frames[0].cmd)
	assert.Equal(t, cmdSearch, frames[1].cmd)
	assert.Equal(t, uint32(7), frames[1].p2)
}
