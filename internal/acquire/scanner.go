package acquire

import (
	"context"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"solarpi/internal/bluetooth"
	"solarpi/internal/config"
)

const (
	// errorResetThreshold is how many accumulated connection faults trigger
	// an adapter power cycle.
	errorResetThreshold = 5

	// scanFailResetThreshold is how many consecutive scan passes ending
	// with a role still unbound trigger an adapter power cycle.
	scanFailResetThreshold = 10
)

// Scanner runs discovery passes and hands matched devices to the two
// connections. It also owns the adapter reset: when faults or failed scans
// accumulate, the radio itself is assumed wedged and gets power cycled.
type Scanner struct {
	transport  bluetooth.Transport
	gate       *bluetooth.RadioGate
	power      bluetooth.PowerControl
	errCount   *ErrorCounter
	battery    *Connection
	charger    *Connection
	loadConfig func() *config.Config
	logger     *logrus.Entry

	window      time.Duration
	period      time.Duration
	resetSettle time.Duration

	failedPasses int
}

// NewScanner wires the discovery loop. loadConfig is called at the top of
// every pass so address changes in the config file take effect without a
// restart.
func NewScanner(transport bluetooth.Transport, gate *bluetooth.RadioGate, power bluetooth.PowerControl,
	errCount *ErrorCounter, battery, charger *Connection,
	loadConfig func() *config.Config, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		transport:   transport,
		gate:        gate,
		power:       power,
		errCount:    errCount,
		battery:     battery,
		charger:     charger,
		loadConfig:  loadConfig,
		logger:      logger.WithField("component", "scanner"),
		window:      10 * time.Second,
		period:      10 * time.Second,
		resetSettle: 10 * time.Second,
	}
}

// Run executes scan passes until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	// Known addresses may be lingering in the controller from a previous
	// run; kick them loose so they advertise again.
	cfg := s.loadConfig()
	for _, addr := range []string{cfg.BatteryMonitorAddr, cfg.SolarChargerAddr} {
		if addr == "" {
			continue
		}
		if err := s.power.DisconnectAddress(addr); err != nil {
			s.logger.WithError(err).WithField("address", addr).Debug("Pre-run disconnect failed")
		}
	}

	for {
		s.runPass(ctx)
		if !sleepCtx(ctx, s.period) {
			return
		}
	}
}

func (s *Scanner) runPass(ctx context.Context) {
	if s.errCount.Count() >= errorResetThreshold {
		s.logger.WithField("errors", s.errCount.Count()).Warn("Error threshold reached, resetting adapter")
		s.resetAdapter(ctx)
		return
	}

	if s.battery.Bound() && s.charger.Bound() {
		s.failedPasses = 0
		return
	}

	cfg := s.loadConfig()

	found := hashmap.New[string, bluetooth.Advertisement]()
	err := s.gate.Do("scan", func() error {
		return s.transport.Scan(ctx, s.window, false, func(adv bluetooth.Advertisement) {
			found.Set(adv.Addr(), adv)
		})
	})
	if err != nil {
		s.logger.WithError(err).Warn("Scan window failed")
	}

	found.Range(func(addr string, adv bluetooth.Advertisement) bool {
		s.match(cfg, adv)
		return true
	})

	// A pass that still leaves a role unbound counts against the adapter,
	// whether the window errored or simply saw nothing useful.
	if s.battery.Bound() && s.charger.Bound() {
		s.failedPasses = 0
		return
	}
	s.failedPasses++
	s.logger.WithField("failed_passes", s.failedPasses).Debug("Discovery pass left a role unbound")
	if s.failedPasses >= scanFailResetThreshold {
		s.resetAdapter(ctx)
	}
}

// MatchRole reports which role, if any, would claim this advertisement. A
// device carrying the battery service is always the battery monitor, even if
// it advertises the charger service too.
func MatchRole(cfg *config.Config, adv bluetooth.Advertisement) (Role, bool) {
	addr := adv.Addr()

	batteryByAddr := cfg.BatteryMonitorAddr != "" && bluetooth.AddressEqual(addr, cfg.BatteryMonitorAddr)
	if batteryByAddr || bluetooth.HasService(adv.Services(), batteryServiceUUID) {
		return RoleBatteryMonitor, true
	}

	chargerByAddr := cfg.SolarChargerAddr != "" && bluetooth.AddressEqual(addr, cfg.SolarChargerAddr)
	if chargerByAddr || bluetooth.HasService(adv.Services(), chargerServiceUUID) {
		return RoleSolarCharger, true
	}

	return 0, false
}

// match assigns an advertisement to its role's connection, if that role is
// still unbound.
func (s *Scanner) match(cfg *config.Config, adv bluetooth.Advertisement) {
	role, ok := MatchRole(cfg, adv)
	if !ok {
		return
	}

	conn := s.battery
	if role == RoleSolarCharger {
		conn = s.charger
	}
	if conn.Bound() {
		return
	}
	if conn.Bind(adv.Addr()) {
		s.logger.WithFields(logrus.Fields{
			"role": role.String(), "address": adv.Addr(),
			"name": adv.LocalName(), "rssi": adv.RSSI(),
		}).Info("Device discovered")
	}
}

// resetAdapter power cycles the radio. Connections are torn down first so
// nothing holds a handle into the dying adapter, then everything starts from
// a clean slate.
func (s *Scanner) resetAdapter(ctx context.Context) {
	s.battery.Reset()
	s.charger.Reset()

	err := s.gate.Do("power-cycle", func() error {
		if err := s.power.SetPower(false); err != nil {
			s.logger.WithError(err).Warn("Failed to power adapter off")
		}
		sleepCtx(ctx, s.resetSettle/2)
		if err := s.power.SetPower(true); err != nil {
			s.logger.WithError(err).Warn("Failed to power adapter on")
		}
		sleepCtx(ctx, s.resetSettle/2)
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Error("Adapter reset failed")
	}

	s.errCount.Reset()
	s.failedPasses = 0
	s.logger.Info("Adapter reset complete")
}
