package acquire

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solarpi/internal/bluetooth/bletest"
	"solarpi/internal/telemetry"
)

type memorySink struct {
	mu    sync.Mutex
	snaps []telemetry.Snapshot
}

func (s *memorySink) ReadingCommitted(ctx context.Context, snap telemetry.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *memorySink) latest() (telemetry.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return telemetry.Snapshot{}, false
	}
	return s.snaps[len(s.snaps)-1], true
}

// End to end through the real wiring: discovery, connect, a notification
// chunk reassembled and decoded, and the snapshot landing in the sink.
func TestMonitorDeliversDecodedSnapshots(t *testing.T) {
	transport := bletest.NewTransport()
	client := bletest.NewClient(batteryAddr)
	transport.AddClient(client)
	transport.AddClient(bletest.NewClient(chargerAddr))
	transport.SetAdvertisements(
		bletest.NewAdvertisement(batteryAddr).WithName("BM6").WithServices("fff0").Build(),
		bletest.NewAdvertisement(chargerAddr).WithName("MPPT").WithServices("ffe0").Build(),
	)

	power := bletest.NewPower()
	sink := &memorySink{}
	m, err := New(Options{
		ConfigPath: filepath.Join(t.TempDir(), "solarpi.yaml"),
		Logger:     quietLogger(),
		Sink:       sink,
		Transport:  transport,
		Power:      power,
	})
	require.NoError(t, err)

	m.scanner.window = time.Millisecond
	m.scanner.period = 5 * time.Millisecond
	m.battery.idlePoll = 2 * time.Millisecond
	m.charger.idlePoll = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return m.battery.State() == StateStreaming },
		5*time.Second, time.Millisecond)

	assert.Equal(t, []string{"on"}, power.Events(), "adapter powered on at startup")

	// Voltage field 0xC0 with value bytes 02 45, plus the trailing byte the
	// device appends before the end marker.
	client.Notify("fff1", []byte{0xBB, 0x02, 0x45, 0xC0, 0x99, 0xEE})

	require.Eventually(t, func() bool {
		snap, ok := sink.latest()
		return ok && snap.BatteryVoltage == 2.45
	}, 5*time.Second, 10*time.Millisecond)

	snap, _ := sink.latest()
	assert.NotZero(t, snap.Timestamp)
}
