package acquire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solarpi/internal/bluetooth"
	"solarpi/internal/bluetooth/bletest"
	"solarpi/internal/config"
)

const (
	batteryAddr = "54:14:A7:53:14:E9"
	chargerAddr = "C8:47:80:0D:2C:6A"
)

// failingTransport wraps the fake and makes every scan window fail.
type failingTransport struct {
	*bletest.Transport
	scans int
}

func (t *failingTransport) Scan(ctx context.Context, window time.Duration, allowDup bool,
	h func(bluetooth.Advertisement)) error {
	t.scans++
	return errors.New("hci device busy")
}

type scannerFixture struct {
	transport *bletest.Transport
	power     *bletest.Power
	errCount  *ErrorCounter
	battery   *Connection
	charger   *Connection
	scanner   *Scanner
	cfg       *config.Config
}

func newScannerFixture(t *testing.T, transport bluetooth.Transport) *scannerFixture {
	t.Helper()

	fake, _ := transport.(*bletest.Transport)
	if transport == nil {
		fake = bletest.NewTransport()
		transport = fake
	}

	f := &scannerFixture{
		transport: fake,
		power:     bletest.NewPower(),
		errCount:  &ErrorCounter{},
		cfg:       config.Default(),
	}
	gate := bluetooth.NewRadioGate(quietLogger())
	f.battery = NewConnection(fastProfile(BatteryMonitorProfile()), transport, gate,
		f.errCount, func([]byte) {}, quietLogger())
	f.charger = NewConnection(fastProfile(SolarChargerProfile()), transport, gate,
		f.errCount, func([]byte) {}, quietLogger())
	f.scanner = NewScanner(transport, gate, f.power, f.errCount, f.battery, f.charger,
		func() *config.Config { return f.cfg }, quietLogger())
	f.scanner.window = time.Millisecond
	f.scanner.resetSettle = 2 * time.Millisecond
	return f
}

func TestScannerMatchesByService(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.transport.SetAdvertisements(
		bletest.NewAdvertisement(batteryAddr).WithName("BM6").WithServices("fff0").Build(),
		bletest.NewAdvertisement(chargerAddr).WithName("MPPT").WithServices("ffe0").Build(),
	)

	f.scanner.runPass(context.Background())

	assert.Equal(t, batteryAddr, f.battery.Address())
	assert.Equal(t, chargerAddr, f.charger.Address())
}

func TestScannerMatchesLongFormServiceUUIDs(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.transport.SetAdvertisements(
		bletest.NewAdvertisement(batteryAddr).
			WithServices("0000fff0-0000-1000-8000-00805f9b34fb").Build(),
	)

	f.scanner.runPass(context.Background())

	assert.Equal(t, batteryAddr, f.battery.Address())
}

func TestScannerPrefersBatteryForDualServiceDevice(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.transport.SetAdvertisements(
		bletest.NewAdvertisement(batteryAddr).WithServices("fff0", "ffe0").Build(),
	)

	f.scanner.runPass(context.Background())

	assert.Equal(t, batteryAddr, f.battery.Address())
	assert.False(t, f.charger.Bound(), "dual-service device must not claim the charger role")
}

func TestScannerMatchesChargerByConfiguredAddress(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.cfg.SolarChargerAddr = chargerAddr
	// No advertised services at all; only the configured address matches.
	f.transport.SetAdvertisements(
		bletest.NewAdvertisement("c8:47:80:0d:2c:6a").WithName("MPPT").Build(),
	)

	f.scanner.runPass(context.Background())

	assert.True(t, f.charger.Bound())
	assert.False(t, f.battery.Bound())
}

func TestScannerSkipsPassWhenBothBound(t *testing.T) {
	f := newScannerFixture(t, nil)
	require.True(t, f.battery.Bind(batteryAddr))
	require.True(t, f.charger.Bind(chargerAddr))

	f.scanner.runPass(context.Background())

	assert.Zero(t, f.transport.ScanCount(), "no scan window while both roles are bound")
}

func TestScannerCountsUnboundPassAsFailed(t *testing.T) {
	f := newScannerFixture(t, nil)
	// An empty neighborhood: the window succeeds but a role stays unbound.
	f.scanner.runPass(context.Background())
	assert.Equal(t, 1, f.scanner.failedPasses)

	// Binding both roles breaks the streak.
	require.True(t, f.battery.Bind(batteryAddr))
	require.True(t, f.charger.Bind(chargerAddr))
	f.scanner.runPass(context.Background())
	assert.Zero(t, f.scanner.failedPasses)
}

func TestScannerResetsAdapterAfterFailedPasses(t *testing.T) {
	failing := &failingTransport{Transport: bletest.NewTransport()}
	f := newScannerFixture(t, failing)

	for i := 0; i < scanFailResetThreshold; i++ {
		f.scanner.runPass(context.Background())
	}

	assert.Equal(t, 1, f.power.Cycles(), "exactly one power cycle")
	assert.Zero(t, f.scanner.failedPasses)

	// The counter starts over after a reset.
	f.scanner.runPass(context.Background())
	assert.Equal(t, 1, f.power.Cycles())
}

func TestScannerResetsAdapterOnErrorThreshold(t *testing.T) {
	f := newScannerFixture(t, nil)
	require.True(t, f.battery.Bind(batteryAddr))
	for i := 0; i < errorResetThreshold; i++ {
		f.errCount.Inc()
	}

	f.scanner.runPass(context.Background())

	assert.Equal(t, 1, f.power.Cycles())
	assert.Zero(t, f.errCount.Count())
	assert.False(t, f.battery.Bound(), "reset discards bindings")
	assert.Zero(t, f.transport.ScanCount(), "reset pass does not scan")
}

func TestScannerNudgesKnownAddressesAtStartup(t *testing.T) {
	f := newScannerFixture(t, nil)
	f.cfg.BatteryMonitorAddr = batteryAddr
	f.cfg.SolarChargerAddr = chargerAddr
	require.True(t, f.battery.Bind(batteryAddr))
	require.True(t, f.charger.Bind(chargerAddr))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.scanner.Run(ctx)

	assert.Equal(t, []string{batteryAddr, chargerAddr}, f.power.Disconnects())
}
