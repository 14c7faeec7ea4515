package acquire

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"solarpi/internal/bluetooth"
	"solarpi/internal/config"
	"solarpi/internal/protocol"
	"solarpi/internal/telemetry"
)

// Sink receives every committed snapshot. Implementations must tolerate
// being called once per second.
type Sink interface {
	ReadingCommitted(ctx context.Context, snap telemetry.Snapshot) error
}

// Options configures a Monitor. Transport and Power default to the real
// BlueZ-backed implementations; tests substitute fakes.
type Options struct {
	ConfigPath string
	Logger     *logrus.Logger
	Sink       Sink
	Transport  bluetooth.Transport
	Power      bluetooth.PowerControl
}

// Monitor is the top-level acquisition daemon: one scanner, two device
// connections, one shared reading that snapshots flow out of.
type Monitor struct {
	logger  *logrus.Logger
	sink    Sink
	power   bluetooth.PowerControl
	reading *telemetry.Reading
	scanner *Scanner
	battery *Connection
	charger *Connection
}

// New assembles a monitor from opts.
func New(opts Options) (*Monitor, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	transport := opts.Transport
	if transport == nil {
		t, err := bluetooth.TransportFactory(logger)
		if err != nil {
			return nil, err
		}
		transport = t
	}
	power := opts.Power
	if power == nil {
		power = bluetooth.NewBluetoothctlPower(logger)
	}

	initial := config.Load(opts.ConfigPath, logger)
	reading := telemetry.NewReading(initial.BatteryCapacity)

	// Config is re-read every scan pass; capacity changes flow into the
	// derived metrics immediately.
	loadConfig := func() *config.Config {
		cfg := config.Load(opts.ConfigPath, logger)
		reading.SetBatteryCapacity(cfg.BatteryCapacity)
		return cfg
	}

	gate := bluetooth.NewRadioGate(logger)
	errCount := &ErrorCounter{}

	assembler := protocol.NewFrameAssembler(func(frame []byte) {
		protocol.DecodeBatteryFrame(frame, reading)
	}, logger)

	battery := NewConnection(BatteryMonitorProfile(), transport, gate, errCount,
		assembler.Push, logger)
	battery.OnSessionStart(assembler.Reset)
	charger := NewConnection(SolarChargerProfile(), transport, gate, errCount,
		func(data []byte) { protocol.DecodeChargerFrame(data, reading) }, logger)

	scanner := NewScanner(transport, gate, power, errCount, battery, charger, loadConfig, logger)

	return &Monitor{
		logger:  logger,
		sink:    opts.Sink,
		power:   power,
		reading: reading,
		scanner: scanner,
		battery: battery,
		charger: charger,
	}, nil
}

// Run starts acquisition and blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	// The adapter may have been left off by an interrupted reset.
	if err := m.power.SetPower(true); err != nil {
		m.logger.WithError(err).Warn("Failed to power adapter on at startup")
	}

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		m.scanner.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		m.battery.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		m.charger.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		m.emitSnapshots(ctx)
	}()
	wg.Wait()
}

// emitSnapshots pushes a snapshot to the sink whenever new data arrived
// since the previous emit. The timestamp only advances on committed decodes,
// so comparing it is enough.
func (m *Monitor) emitSnapshots(ctx context.Context) {
	if m.sink == nil {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := m.reading.Snapshot()
			if snap.Timestamp == last {
				continue
			}
			last = snap.Timestamp
			if err := m.sink.ReadingCommitted(ctx, snap); err != nil {
				m.logger.WithError(err).Error("Failed to commit reading")
			}
		}
	}
}
