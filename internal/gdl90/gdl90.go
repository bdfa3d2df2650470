package gdl90

import "time"

const (
	flagByte   = 0x7E
	escapeByte = 0x7D
	escapeXor  = 0x20
)

// Frame takes an unframed GDL90 message (message ID + payload bytes), appends
// the CRC16 low byte first, applies byte-stuffing, and wraps it in 0x7E flags.
func Frame(message []byte) []byte {
	crc := crc16(message)

	withCRC := make([]byte, 0, len(message)+2)
	withCRC = append(withCRC, message...)
	withCRC = append(withCRC, byte(crc&0xFF), byte(crc>>8))

	out := make([]byte, 0, 2+len(withCRC)*2)
	out = append(out, flagByte)
	for _, b := range withCRC {
		if b == flagByte || b == escapeByte {
			out = append(out, escapeByte, b^escapeXor)
			continue
		}
		out = append(out, b)
	}
	out = append(out, flagByte)
	return out
}

// HeartbeatFrame builds the standard GDL90 Heartbeat (0x00) for now.
func HeartbeatFrame(utcOK bool) []byte {
	return HeartbeatFrameAt(time.Now().UTC(), utcOK, false)
}

// HeartbeatFrameAt builds the Heartbeat for a given time. EFB apps treat a
// device as connected while these arrive about once per second.
func HeartbeatFrameAt(nowUTC time.Time, utcOK bool, maintenanceRequired bool) []byte {
	msg := make([]byte, 7)
	msg[0] = 0x00

	// bit0 UAT initialized, bit4 address talkback, bit6 maintenance, bit7 GPS position valid.
	flags := byte(0x01) | byte(0x10)
	if utcOK {
		flags |= 0x80
	}
	if maintenanceRequired {
		flags |= 0x40
	}
	msg[1] = flags

	nowUTC = nowUTC.UTC()
	midnight := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), 0, 0, 0, 0, time.UTC)
	seconds := uint32(nowUTC.Sub(midnight).Seconds())

	// Bit 16 of the timestamp rides in status byte 2, next to "UTC OK".
	status2 := byte((seconds>>16)&0x01) << 7
	if utcOK {
		status2 |= 0x01
	}
	msg[2] = status2
	msg[3] = byte(seconds & 0xFF)
	msg[4] = byte((seconds >> 8) & 0xFF)
	return Frame(msg)
}

// StratuxHeartbeatFrame builds the Stratux heartbeat (0xCC). Apps use it to
// recognise a device that provides AHRS.
func StratuxHeartbeatFrame(gpsValid bool, ahrsValid bool) []byte {
	b := byte(0)
	if ahrsValid {
		b |= 0x01
	}
	if gpsValid {
		b |= 0x02
	}
	const protocolVersion = 1
	b |= protocolVersion << 2
	return Frame([]byte{0xCC, b})
}
