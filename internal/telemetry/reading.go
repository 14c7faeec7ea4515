package telemetry

import (
	"math"
	"sync"
	"time"
)

// Fields holds the raw telemetry values collected from both devices.
// Individual fields are written independently as decodes arrive; the two
// device roles mutate disjoint subsets and may interleave freely.
type Fields struct {
	Timestamp int64 // unix seconds of the last mutating decode

	BatteryVoltage  float64
	BatteryCurrent  float64
	BatteryCharging bool
	// BatteryTempInFahrenheit starts true: the monitor reports Fahrenheit
	// unless a unit-flag field says otherwise.
	BatteryTempInFahrenheit     bool
	BatteryRemainingAh          float64
	BatteryTotalChargeEnergy    float64
	BatteryTotalDischargeEnergy float64

	PanelVoltage       float64
	ChargerVoltage     float64
	ChargerCurrent     float64
	ChargerTemp        float64
	BatteryTemp        float64
	ChargerTotalEnergy float64
	ChargerStatus      int

	RoomTemp float64
}

// Reading is the single shared telemetry aggregate. It is owned by the
// acquisition engine; consumers only ever see Snapshot copies.
type Reading struct {
	mu              sync.Mutex
	fields          Fields
	batteryCapacity float64

	now func() time.Time
}

// NewReading creates an empty aggregate with the given battery capacity in
// amp-hours (used for the derived charge percentage).
func NewReading(batteryCapacity float64) *Reading {
	return &Reading{
		fields:          Fields{BatteryTempInFahrenheit: true},
		batteryCapacity: batteryCapacity,
		now:             time.Now,
	}
}

// Mutate applies fn to the raw fields under the aggregate lock. If fn reports
// that at least one field changed, the timestamp is advanced to the current
// wall clock in the same critical section. Returns whether a change happened.
func (r *Reading) Mutate(fn func(*Fields) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !fn(&r.fields) {
		return false
	}
	r.fields.Timestamp = r.now().Unix()
	return true
}

// Timestamp returns the unix time of the last mutating decode, 0 if none yet.
func (r *Reading) Timestamp() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fields.Timestamp
}

// SetBatteryCapacity updates the configured battery capacity.
func (r *Reading) SetBatteryCapacity(capacity float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if capacity > 0 {
		r.batteryCapacity = capacity
	}
}

// Snapshot returns an immutable copy of the aggregate with derived metrics
// computed from the raw fields at the moment of the call.
func (r *Reading) Snapshot() Snapshot {
	r.mu.Lock()
	f := r.fields
	capacity := r.batteryCapacity
	r.mu.Unlock()

	snap := Snapshot{Fields: f}

	if f.PanelVoltage != 0 {
		snap.PanelCurrent = round2(f.ChargerVoltage / f.PanelVoltage * f.ChargerCurrent)
	}

	sign := -1.0
	if f.BatteryCharging {
		sign = 1.0
	}
	snap.BatteryPower = round2(f.BatteryVoltage * sign * f.BatteryCurrent)

	if capacity > 0 {
		snap.BatteryPercent = round2(100 * f.BatteryRemainingAh / capacity)
	}

	snap.ChargerPower = round2(f.ChargerVoltage * f.ChargerCurrent)

	snap.InverterVoltage = math.Max(f.ChargerVoltage, f.BatteryVoltage)
	if f.BatteryCharging {
		// Charger output minus what the battery absorbs is the inverter draw.
		snap.InverterCurrent = round2(math.Max(0, f.ChargerCurrent-f.BatteryCurrent))
	} else {
		// Battery discharge adds to the charger output.
		snap.InverterCurrent = round2(f.ChargerCurrent + f.BatteryCurrent)
	}
	snap.InverterPower = round2(snap.InverterVoltage * snap.InverterCurrent)

	return snap
}

// Snapshot is a point-in-time copy of the aggregate plus derived metrics.
type Snapshot struct {
	Fields

	PanelCurrent    float64
	BatteryPower    float64
	BatteryPercent  float64
	ChargerPower    float64
	InverterVoltage float64
	InverterCurrent float64
	InverterPower   float64
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
