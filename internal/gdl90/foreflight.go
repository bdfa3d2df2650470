package gdl90

import "strings"

// ForeFlightIDFrame builds the ForeFlight "ID" message (0x65, sub-id 0x00)
// that names the device in EFB connection lists.
func ForeFlightIDFrame(shortName string, longName string) []byte {
	msg := make([]byte, 39)
	msg[0] = 0x65
	msg[1] = 0x00
	msg[2] = 0x01 // version

	// Serial number unknown.
	for i := 3; i <= 10; i++ {
		msg[i] = 0xFF
	}

	shortName = strings.TrimSpace(shortName)
	if shortName == "" {
		shortName = "levelcub"
	}
	if len(shortName) > 8 {
		shortName = shortName[:8]
	}
	copy(msg[11:19], shortName)

	longName = strings.TrimSpace(longName)
	if longName == "" {
		longName = "levelcube"
	}
	if len(longName) > 16 {
		longName = longName[:16]
	}
	copy(msg[19:35], longName)

	// Capabilities: none beyond AHRS.
	msg[38] = 0x00
	return Frame(msg)
}
