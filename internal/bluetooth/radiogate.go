package bluetooth

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// RadioGate serializes every adapter-level operation: scans, connects,
// disconnects, characteristic writes and subscriptions. The radio corrupts
// its state when such operations overlap, so all components share one gate.
//
// The gate itself never times out; every operation run under it must carry
// its own timeout.
type RadioGate struct {
	mu     sync.Mutex
	logger *logrus.Logger
}

// NewRadioGate creates the shared gate.
func NewRadioGate(logger *logrus.Logger) *RadioGate {
	if logger == nil {
		logger = logrus.New()
	}
	return &RadioGate{logger: logger}
}

// Do runs fn while holding the gate. op names the operation for tracing.
func (g *RadioGate) Do(op string, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.WithField("op", op).Debug("Radio gate acquired")
	return fn()
}
