package protocol

import (
	"encoding/binary"

	"solarpi/internal/telemetry"
)

// Solar charger "home data" response layout. The charger answers the home
// data request with a fixed 43-byte modbus-style frame:
//   - Bytes 0-2: header 0x01 0x03 0x26
//   - Bytes 5-7: battery-side voltage in 0.1 V (big endian uint16)
//   - Bytes 7-9: charge current in 0.01 A (big endian uint16)
//   - Byte 11:   charger internal temperature
//   - Byte 12:   battery probe temperature, sign-folded around 128
//   - Bytes 19-21: panel voltage in 0.1 V (big endian uint16)
//   - Byte 28:   charger status code
//   - Bytes 33-37: lifetime energy counter (big endian uint32)
const (
	chargerFrameLen = 43

	chargerHeader0 = 0x01
	chargerHeader1 = 0x03
	chargerHeader2 = 0x26
)

// DecodeChargerFrame applies one solar charger notification to the reading.
// Frames of any other shape are noise from other request types and are
// silently ignored. A valid frame always advances the timestamp.
func DecodeChargerFrame(frame []byte, reading *telemetry.Reading) bool {
	if len(frame) != chargerFrameLen ||
		frame[0] != chargerHeader0 || frame[1] != chargerHeader1 || frame[2] != chargerHeader2 {
		return false
	}

	return reading.Mutate(func(f *telemetry.Fields) bool {
		f.ChargerVoltage = float64(binary.BigEndian.Uint16(frame[5:7])) / 10
		f.ChargerCurrent = float64(binary.BigEndian.Uint16(frame[7:9])) / 100
		f.ChargerTemp = float64(frame[11])
		f.BatteryTemp = foldedTemp(frame[12])
		f.PanelVoltage = float64(binary.BigEndian.Uint16(frame[19:21])) / 10
		f.ChargerStatus = int(frame[28])
		f.ChargerTotalEnergy = float64(binary.BigEndian.Uint32(frame[33:37]))
		return true
	})
}

// foldedTemp interprets the probe temperature byte: values at or above 128
// are negative, offset from 128.
func foldedTemp(b byte) float64 {
	if b < 128 {
		return float64(b)
	}
	return float64(128 - int(b))
}
