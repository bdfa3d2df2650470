package motion

import (
	"encoding/binary"
	"math"

	"levelcube/internal/attitude"
)

// CH protocol framing used by HI229-family IMUs:
//
//	0x5A 0xA5 | len (LE u16) | crc (LE u16) | payload[len]
//
// The CRC-16/XMODEM runs over the first four header bytes and the payload.
// Payload is a sequence of tagged items; only the quaternion-bearing ones
// are decoded here.
const (
	chSync1   = 0x5A
	chSync2   = 0xA5
	chHdrSize = 6
	chMaxLen  = 512 - chHdrSize

	chItemID     = 0x90
	chItemAcc    = 0xA0
	chItemGyr    = 0xB0
	chItemMag    = 0xC0
	chItemEuler  = 0xD0
	chItemQuat   = 0xD1
	chItemPress  = 0xF0
	chItemIMUSOL = 0x91

	imusolSize  = 76
	imusolQuatO = 60
)

// chDecoder is a byte-at-a-time CH frame parser.
type chDecoder struct {
	buf  [chHdrSize + chMaxLen]byte
	n    int
	need int

	badCRC uint64
}

// Feed consumes one byte. It returns a quaternion when b completes a valid
// frame carrying one.
func (d *chDecoder) Feed(b byte) (attitude.Quaternion, bool) {
	if d.n == 0 {
		// Slide a two-byte window looking for sync.
		d.buf[0] = d.buf[1]
		d.buf[1] = b
		if d.buf[0] == chSync1 && d.buf[1] == chSync2 {
			d.n = 2
		}
		return attitude.Quaternion{}, false
	}

	d.buf[d.n] = b
	d.n++
	if d.n == chHdrSize {
		d.need = int(binary.LittleEndian.Uint16(d.buf[2:4]))
		if d.need > chMaxLen {
			d.reset()
			return attitude.Quaternion{}, false
		}
	}
	if d.n < chHdrSize || d.n < chHdrSize+d.need {
		return attitude.Quaternion{}, false
	}

	frame := d.buf[:chHdrSize+d.need]
	d.reset()

	crc := crc16CCITT(0, frame[:4])
	crc = crc16CCITT(crc, frame[chHdrSize:])
	if crc != binary.LittleEndian.Uint16(frame[4:6]) {
		d.badCRC++
		return attitude.Quaternion{}, false
	}
	return parseCHPayload(frame[chHdrSize:])
}

func (d *chDecoder) reset() {
	d.n = 0
	d.need = 0
	d.buf[0], d.buf[1] = 0, 0
}

func parseCHPayload(p []byte) (attitude.Quaternion, bool) {
	var q attitude.Quaternion
	found := false
	for ofs := 0; ofs < len(p); {
		switch p[ofs] {
		case chItemID:
			ofs += 2
		case chItemAcc, chItemGyr, chItemMag, chItemEuler:
			ofs += 7
		case chItemPress:
			ofs += 5
		case chItemQuat:
			if ofs+17 > len(p) {
				return q, found
			}
			q, found = quatWXYZ(p[ofs+1:]), true
			ofs += 17
		case chItemIMUSOL:
			if ofs+imusolSize > len(p) {
				return q, found
			}
			q, found = quatWXYZ(p[ofs+imusolQuatO:]), true
			ofs += imusolSize
		default:
			ofs++
		}
	}
	if !found {
		return q, false
	}
	n, err := q.Normalize()
	if err != nil {
		return attitude.Quaternion{}, false
	}
	return n, true
}

// quatWXYZ reads four little-endian float32 in w, x, y, z order.
func quatWXYZ(p []byte) attitude.Quaternion {
	f := func(i int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:])))
	}
	return attitude.Quaternion{W: f(0), X: f(1), Y: f(2), Z: f(3)}
}

func crc16CCITT(crc uint16, src []byte) uint16 {
	for _, b := range src {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
