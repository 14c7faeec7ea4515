package acquire

import "time"

// Role identifies which device a connection serves.
type Role int

const (
	RoleBatteryMonitor Role = iota
	RoleSolarCharger
)

func (r Role) String() string {
	switch r {
	case RoleBatteryMonitor:
		return "battery_monitor"
	case RoleSolarCharger:
		return "solar_charger"
	default:
		return "unknown"
	}
}

// GATT attributes of the two supported devices. Short 16-bit forms; the
// transport accepts either form.
const (
	deviceModelCharUUID = "2a24"

	batteryServiceUUID  = "fff0"
	batteryDataCharUUID = "fff1"
	batteryConfCharUUID = "fff2"

	chargerServiceUUID  = "ffe0"
	chargerDataCharUUID = "ffe1"
)

var (
	// batteryRefreshCommand asks the battery monitor to restart its live
	// data stream.
	batteryRefreshCommand = []byte{0xBB, 0x9A, 0xA9, 0x0C, 0xEE}

	// chargerHomeDataRequest asks the charger for one home-data frame.
	chargerHomeDataRequest = []byte{0x01, 0x03, 0x01, 0x01, 0x00, 0x13, 0x54, 0x3B}
)

// Profile fixes the per-role parameters of the connection lifecycle. Both
// roles run the same state machine; only these values and the decode path
// differ.
type Profile struct {
	Role         Role
	DataCharUUID string

	ConnectTimeout time.Duration

	// PollInterval is the cadence of keepalive checks while streaming.
	PollInterval time.Duration
	// KeepaliveWindow is how long since the last send before a refresh is
	// due.
	KeepaliveWindow       time.Duration
	KeepaliveCharUUID     string
	KeepaliveCommand      []byte
	KeepaliveWithResponse bool

	// RefreshAfterSubscribe issues the refresh command once right after
	// subscribing. Only the battery monitor wants this; sending anything
	// else that early destabilizes the link.
	RefreshAfterSubscribe bool

	// MaxKeepaliveFailures is how many consecutive failed keepalive writes
	// are tolerated before the connection faults.
	MaxKeepaliveFailures int

	// DataEffect is how an arriving notification influences the keepalive
	// schedule.
	DataEffect dataEffect
}

// BatteryMonitorProfile returns the battery monitor lifecycle parameters.
// The monitor streams on its own once refreshed, so data arrival counts as a
// send and keepalives are rare.
func BatteryMonitorProfile() Profile {
	return Profile{
		Role:                  RoleBatteryMonitor,
		DataCharUUID:          batteryDataCharUUID,
		ConnectTimeout:        30 * time.Second,
		PollInterval:          10 * time.Second,
		KeepaliveWindow:       60 * time.Second,
		KeepaliveCharUUID:     batteryConfCharUUID,
		KeepaliveCommand:      batteryRefreshCommand,
		KeepaliveWithResponse: true,
		RefreshAfterSubscribe: true,
		MaxKeepaliveFailures:  9,
		DataEffect:            dataDefersKeepalive,
	}
}

// SolarChargerProfile returns the solar charger lifecycle parameters. The
// charger only answers explicit requests, so every response re-arms the next
// request and any write failure faults immediately.
func SolarChargerProfile() Profile {
	return Profile{
		Role:                  RoleSolarCharger,
		DataCharUUID:          chargerDataCharUUID,
		ConnectTimeout:        10 * time.Second,
		PollInterval:          2 * time.Second,
		KeepaliveWindow:       5 * time.Second,
		KeepaliveCharUUID:     chargerDataCharUUID,
		KeepaliveCommand:      chargerHomeDataRequest,
		KeepaliveWithResponse: false,
		RefreshAfterSubscribe: false,
		MaxKeepaliveFailures:  0,
		DataEffect:            dataTriggersKeepalive,
	}
}
