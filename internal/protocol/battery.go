package protocol

import (
	"encoding/hex"
	"math"
	"strconv"

	"solarpi/internal/telemetry"
)

// Battery monitor field identifiers. Any byte >= 0xA0 terminates the pending
// value bytes; only the ids below carry fields this daemon stores.
const (
	fieldVoltage              = 0xC0
	fieldCurrent              = 0xC1
	fieldIsCharging           = 0xD1
	fieldRemainingAh          = 0xD2
	fieldTotalDischargeEnergy = 0xD3
	fieldTotalChargeEnergy    = 0xD4
	fieldTempData             = 0xD9
	fieldIsTempInFahrenheit   = 0xF7
)

func isFieldID(b byte) bool { return b >= 0xA0 }

// decimalValue decodes the battery monitor's BCD-like numbers: the value
// bytes rendered as a hex string and parsed as base-10, so each byte carries
// two decimal digits. Bytes with nibbles above 9 cannot occur in well-formed
// values and fail the parse.
func decimalValue(data []byte) (int64, bool) {
	if len(data) == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(hex.EncodeToString(data), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// DecodeBatteryFrame applies one reassembled battery monitor frame to the
// reading. Returns whether any field changed (and the timestamp advanced).
//
// The interior of the frame - excluding the start marker and the final byte -
// is a sequence of value bytes terminated by field-id bytes. The final byte
// is skipped even though the end marker was already stripped by the
// assembler, which truncates the trailing field's last value byte.
// TODO: capture a frame alongside the vendor app to confirm whether the
// trailing byte is a checksum or a genuinely dropped value digit.
func DecodeBatteryFrame(frame []byte, reading *telemetry.Reading) bool {
	if len(frame) < 2 {
		return false
	}

	return reading.Mutate(func(f *telemetry.Fields) bool {
		changed := false
		var pending []byte

		for _, c := range frame[1 : len(frame)-1] {
			if !isFieldID(c) || len(pending) == 0 {
				pending = append(pending, c)
				continue
			}

			if v, ok := decimalValue(pending); ok {
				switch c {
				case fieldVoltage:
					f.BatteryVoltage = float64(v) / 100
					changed = true
				case fieldCurrent:
					f.BatteryCurrent = float64(v) / 100
					changed = true
				case fieldRemainingAh:
					f.BatteryRemainingAh = float64(v) / 1000
					changed = true
				case fieldIsCharging:
					f.BatteryCharging = v == 1
					changed = true
				case fieldTotalDischargeEnergy:
					f.BatteryTotalDischargeEnergy = float64(v) / 100
					changed = true
				case fieldTotalChargeEnergy:
					f.BatteryTotalChargeEnergy = float64(v) / 100
					changed = true
				case fieldIsTempInFahrenheit:
					f.BatteryTempInFahrenheit = v == 1
					changed = true
				case fieldTempData:
					f.RoomTemp = toCelsius(float64(v), f.BatteryTempInFahrenheit)
					changed = true
				}
			}
			pending = pending[:0]
		}

		return changed
	})
}

// toCelsius converts the raw temperature field. The device offsets Celsius
// readings by 100 and Fahrenheit readings by 5 on top of the unit conversion.
func toCelsius(raw float64, fahrenheit bool) float64 {
	if fahrenheit {
		return math.Round((raw-32-5)*5.0/9.0*10) / 10
	}
	return raw - 100
}
