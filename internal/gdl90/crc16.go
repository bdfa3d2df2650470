package gdl90

const crcPoly = 0x1021

// crcTable[i] is the CRC-CCITT remainder of i shifted into the high byte.
var crcTable [256]uint16

func init() {
	for i := range crcTable {
		r := uint16(i) << 8
		for j := 0; j < 8; j++ {
			carry := r&0x8000 != 0
			r <<= 1
			if carry {
				r ^= crcPoly
			}
		}
		crcTable[i] = r
	}
}

// crc16 is the message CRC from the GDL90 ICD (initial value 0). Frame
// appends it low byte first.
func crc16(msg []byte) uint16 {
	var c uint16
	for _, b := range msg {
		c = crcTable[c>>8] ^ c<<8 ^ uint16(b)
	}
	return c
}
