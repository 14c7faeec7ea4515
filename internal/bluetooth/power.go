package bluetooth

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// PowerControl toggles the host radio and drops stale peripheral links. The
// underlying commands are opaque OS-level operations; failures are reported
// for logging but never escalate further.
type PowerControl interface {
	SetPower(on bool) error
	DisconnectAddress(addr string) error
}

var addrPattern = regexp.MustCompile(`(?i)^([0-9A-F]{2}:){5}[0-9A-F]{2}$`)

// IsAddress reports whether s looks like a Bluetooth MAC address.
func IsAddress(s string) bool {
	return addrPattern.MatchString(s)
}

// AddressEqual compares two MAC addresses case-insensitively.
func AddressEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}

// BluetoothctlPower drives the adapter through the bluetoothctl command, the
// only reliable way to clear a stuck BlueZ stack without a reboot.
type BluetoothctlPower struct {
	logger *logrus.Logger
}

// NewBluetoothctlPower creates a bluetoothctl-backed power control.
func NewBluetoothctlPower(logger *logrus.Logger) *BluetoothctlPower {
	if logger == nil {
		logger = logrus.New()
	}
	return &BluetoothctlPower{logger: logger}
}

// SetPower powers the adapter on or off.
func (p *BluetoothctlPower) SetPower(on bool) error {
	state := "off"
	if on {
		state = "on"
	}
	return p.run("power", state)
}

// DisconnectAddress asks BlueZ to drop any existing link to addr.
func (p *BluetoothctlPower) DisconnectAddress(addr string) error {
	if !IsAddress(addr) {
		return fmt.Errorf("%q is not a bluetooth address", addr)
	}
	return p.run("disconnect", addr)
}

func (p *BluetoothctlPower) run(args ...string) error {
	p.logger.WithField("cmd", "bluetoothctl "+strings.Join(args, " ")).Debug("Running radio command")

	out, err := exec.Command("bluetoothctl", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("bluetoothctl %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	p.logger.WithField("output", strings.TrimSpace(string(out))).Debug("Radio command completed")
	return nil
}
