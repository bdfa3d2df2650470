package gdl90

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	errNoFlags        = errors.New("gdl90: frame not delimited by 0x7E")
	errDanglingEscape = errors.New("gdl90: escape byte before closing flag")
)

// Unframe is the inverse of Frame: it strips the flags, undoes byte stuffing
// and checks the trailing CRC. msg excludes the CRC. A CRC mismatch is
// reported through crcOK, not err.
func Unframe(frame []byte) (msg []byte, crcOK bool, err error) {
	n := len(frame)
	if n < 4 {
		return nil, false, fmt.Errorf("gdl90: frame too short: %d bytes", n)
	}
	if frame[0] != flagByte || frame[n-1] != flagByte {
		return nil, false, errNoFlags
	}

	body, err := unstuff(frame[1 : n-1])
	if err != nil {
		return nil, false, err
	}
	if len(body) < 3 {
		return nil, false, fmt.Errorf("gdl90: message too short after unstuffing: %d bytes", len(body))
	}

	split := len(body) - 2
	msg = body[:split]
	got := uint16(body[split]) | uint16(body[split+1])<<8
	return msg, got == crc16(msg), nil
}

func unstuff(in []byte) ([]byte, error) {
	out := make([]byte, 0, len(in))
	escaped := false
	for _, b := range in {
		switch {
		case escaped:
			out = append(out, b^escapeXor)
			escaped = false
		case b == escapeByte:
			escaped = true
		default:
			out = append(out, b)
		}
	}
	if escaped {
		return nil, errDanglingEscape
	}
	return out, nil
}

// SplitFrames returns the flag-delimited frames in a datagram. Bytes outside
// a 0x7E...0x7E pair are skipped.
func SplitFrames(b []byte) [][]byte {
	var out [][]byte
	for {
		start := bytes.IndexByte(b, flagByte)
		if start < 0 {
			return out
		}
		b = b[start:]
		// Back-to-back flags: the first one closes nothing.
		for len(b) > 1 && b[1] == flagByte {
			b = b[1:]
		}
		end := bytes.IndexByte(b[1:], flagByte)
		if end < 0 {
			return out
		}
		out = append(out, b[:end+2])
		b = b[end+2:]
	}
}
