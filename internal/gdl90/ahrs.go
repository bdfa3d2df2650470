package gdl90

import "math"

// Attitude is what the AHRS messages carry. Angles are degrees; heading is
// normalised to [0, 360).
//
// When Valid is false every field is sent as the "invalid" sentinel, which
// EFB apps render as a failed attitude indicator.
type Attitude struct {
	Valid      bool
	RollDeg    float64
	PitchDeg   float64
	HeadingDeg float64
	// HeadingValid is false when the yaw reference is arbitrary.
	HeadingValid bool
}

// ForeFlightAHRSFrame builds the ForeFlight AHRS message (0x65, sub-id 0x01):
// roll, pitch and heading in 0.1 degree units, airspeeds invalid.
func ForeFlightAHRSFrame(a Attitude) []byte {
	msg := make([]byte, 12)
	msg[0] = 0x65
	msg[1] = 0x01

	roll := int16(0x7FFF)
	pitch := int16(0x7FFF)
	hdg := uint16(0xFFFF)
	if a.Valid {
		roll = deg10(a.RollDeg)
		pitch = deg10(a.PitchDeg)
		if a.HeadingValid {
			// Bit 15 clear: true heading.
			hdg = uint16(heading10(a.HeadingDeg)) & 0x7FFF
		}
	}

	putI16(msg[2:], roll)
	putI16(msg[4:], pitch)
	putU16(msg[6:], hdg)
	putU16(msg[8:], 0xFFFF)  // IAS
	putU16(msg[10:], 0xFFFF) // TAS
	return Frame(msg)
}

// ParseForeFlightAHRS decodes an unframed ForeFlight AHRS message. ok is
// false when msg is some other message.
func ParseForeFlightAHRS(msg []byte) (a Attitude, ok bool) {
	if len(msg) < 12 || msg[0] != 0x65 || msg[1] != 0x01 {
		return Attitude{}, false
	}
	roll := int16(getU16(msg[2:]))
	pitch := int16(getU16(msg[4:]))
	hdg := getU16(msg[6:])
	if roll == 0x7FFF || pitch == 0x7FFF {
		return Attitude{}, true
	}
	a.Valid = true
	a.RollDeg = float64(roll) / 10
	a.PitchDeg = float64(pitch) / 10
	// Bit 15 set means magnetic heading; 0xFFFF means none.
	if hdg != 0xFFFF && hdg&0x8000 == 0 {
		a.HeadingValid = true
		a.HeadingDeg = float64(hdg) / 10
	}
	return a, true
}

// LevilAHRSFrame builds the Stratux "LE" AHRS report. Only the attitude
// fields are populated; air data stays invalid.
func LevilAHRSFrame(a Attitude) []byte {
	msg := make([]byte, 24)
	msg[0] = 0x4C
	msg[1] = 0x45
	msg[2] = 0x01
	msg[3] = 0x01

	roll := int16(0x7FFF)
	pitch := int16(0x7FFF)
	hdg := int16(0x7FFF)
	if a.Valid {
		roll = deg10(a.RollDeg)
		pitch = deg10(a.PitchDeg)
		if a.HeadingValid {
			hdg = heading10(a.HeadingDeg)
		}
	}

	putI16(msg[4:], roll)
	putI16(msg[6:], pitch)
	putI16(msg[8:], hdg)
	putI16(msg[10:], 0x7FFF) // slip/skid
	putI16(msg[12:], 0x7FFF) // yaw rate
	putI16(msg[14:], 0x7FFF) // G
	putI16(msg[16:], 0x7FFF) // IAS
	putU16(msg[18:], 0xFFFF) // pressure altitude
	putI16(msg[20:], 0x7FFF) // vertical speed
	msg[22] = 0x7F
	msg[23] = 0xFF
	return Frame(msg)
}

// heading10 is the heading in 0.1 degree units within [0, 3600).
func heading10(deg float64) int16 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	v := deg10(h)
	if v >= 3600 {
		v -= 3600
	}
	return v
}

func deg10(deg float64) int16 {
	v := math.Round(deg * 10)
	return int16(clampI32(int32(v), -32768, 32767))
}

func putI16(b []byte, v int16) { putU16(b, uint16(v)) }

func getU16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func putU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func clampI32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
