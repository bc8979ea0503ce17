// Package ca implements the small slice of the EPICS Channel Access
// protocol the import engine needs: UDP name search, TCP virtual
// circuits, channel creation, value reads and server-push monitors.
// All integers on the wire are big-endian.
package ca

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	protocolVersion uint16 = 13
	serverPort             = 5064

	cmdVersion        uint16 = 0
	cmdEventAdd       uint16 = 1
	cmdSearch         uint16 = 6
	cmdNotFound       uint16 = 14
	cmdReadNotify     uint16 = 15
	cmdCreateChan     uint16 = 18
	cmdClientName     uint16 = 20
	cmdHostName       uint16 = 21
	cmdAccessRights   uint16 = 22
	cmdCreateChanFail uint16 = 26

	// DBR basic value types.
	dbrString uint16 = 0
	dbrShort  uint16 = 1
	dbrFloat  uint16 = 2
	dbrEnum   uint16 = 3
	dbrChar   uint16 = 4
	dbrLong   uint16 = 5
	dbrDouble uint16 = 6

	dbrStringSize = 40

	// Event mask: value and alarm changes.
	eventMask uint16 = 0x01 | 0x04

	// Search reply flag: only servers holding the channel answer.
	dontReply uint16 = 5
)

// frame is one CA message. The 16-byte header carries command, payload
// size, data type, element count and two command-specific parameters;
// the extended header form (size >= 0xFFFF) is handled transparently.
type frame struct {
	cmd      uint16
	dataType uint16
	count    uint32
	p1, p2   uint32
	payload  []byte
}

func (f frame) encode() []byte {
	payload := padTo8(f.payload)
	var b bytes.Buffer
	if len(payload) >= 0xFFFF {
		hdr := make([]byte, 24)
		binary.BigEndian.PutUint16(hdr[0:2], f.cmd)
		binary.BigEndian.PutUint16(hdr[2:4], 0xFFFF)
		binary.BigEndian.PutUint16(hdr[4:6], f.dataType)
		binary.BigEndian.PutUint16(hdr[6:8], 0)
		binary.BigEndian.PutUint32(hdr[8:12], f.p1)
		binary.BigEndian.PutUint32(hdr[12:16], f.p2)
		binary.BigEndian.PutUint32(hdr[16:20], uint32(len(payload)))
		binary.BigEndian.PutUint32(hdr[20:24], f.count)
		b.Write(hdr)
	} else {
		hdr := make([]byte, 16)
		binary.BigEndian.PutUint16(hdr[0:2], f.cmd)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(payload)))
		binary.BigEndian.PutUint16(hdr[4:6], f.dataType)
		binary.BigEndian.PutUint16(hdr[6:8], uint16(f.count))
		binary.BigEndian.PutUint32(hdr[8:12], f.p1)
		binary.BigEndian.PutUint32(hdr[12:16], f.p2)
		b.Write(hdr)
	}
	b.Write(payload)
	return b.Bytes()
}

func readFrame(r io.Reader) (frame, error) {
	hdr := make([]byte, 16)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return frame{}, err
	}
	f := frame{
		cmd:      binary.BigEndian.Uint16(hdr[0:2]),
		dataType: binary.BigEndian.Uint16(hdr[4:6]),
		count:    uint32(binary.BigEndian.Uint16(hdr[6:8])),
		p1:       binary.BigEndian.Uint32(hdr[8:12]),
		p2:       binary.BigEndian.Uint32(hdr[12:16]),
	}
	size := uint32(binary.BigEndian.Uint16(hdr[2:4]))
	if size == 0xFFFF {
		ext := make([]byte, 8)
		if _, err := io.ReadFull(r, ext); err != nil {
			return frame{}, err
		}
		size = binary.BigEndian.Uint32(ext[0:4])
		f.count = binary.BigEndian.Uint32(ext[4:8])
	}
	if size > 0 {
		f.payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.payload); err != nil {
			return frame{}, err
		}
	}
	return f, nil
}

// parseFrames splits a UDP datagram into its frames.
func parseFrames(b []byte) []frame {
	var out []frame
	r := bytes.NewReader(b)
	for r.Len() >= 16 {
		f, err := readFrame(r)
		if err != nil {
			break
		}
		out = append(out, f)
	}
	return out
}

func padTo8(b []byte) []byte {
	if rem := len(b) % 8; rem != 0 {
		b = append(b, make([]byte, 8-rem)...)
	}
	return b
}

// namePayload is a NUL-terminated channel name padded to the CA payload
// alignment.
func namePayload(name string) []byte {
	return padTo8(append([]byte(name), 0))
}

// decodeScalar extracts the first scalar from a DBR payload. A char
// array is decoded as a UTF-8 byte string.
func decodeScalar(dataType uint16, count uint32, payload []byte) (any, error) {
	switch dataType {
	case dbrString:
		n := len(payload)
		if n > dbrStringSize {
			n = dbrStringSize
		}
		return trimNULs(payload[:n]), nil
	case dbrShort:
		if len(payload) < 2 {
			return nil, fmt.Errorf("short payload for DBR_SHORT")
		}
		return int16(binary.BigEndian.Uint16(payload)), nil
	case dbrFloat:
		if len(payload) < 4 {
			return nil, fmt.Errorf("short payload for DBR_FLOAT")
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(payload))), nil
	case dbrEnum:
		if len(payload) < 2 {
			return nil, fmt.Errorf("short payload for DBR_ENUM")
		}
		return binary.BigEndian.Uint16(payload), nil
	case dbrChar:
		if len(payload) == 0 {
			return nil, fmt.Errorf("empty payload for DBR_CHAR")
		}
		if count > 1 {
			n := int(count)
			if n > len(payload) {
				n = len(payload)
			}
			return trimNULs(payload[:n]), nil
		}
		return int16(payload[0]), nil
	case dbrLong:
		if len(payload) < 4 {
			return nil, fmt.Errorf("short payload for DBR_LONG")
		}
		return int32(binary.BigEndian.Uint32(payload)), nil
	case dbrDouble:
		if len(payload) < 8 {
			return nil, fmt.Errorf("short payload for DBR_DOUBLE")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(payload)), nil
	default:
		return nil, fmt.Errorf("unsupported DBR type %d", dataType)
	}
}

func trimNULs(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
