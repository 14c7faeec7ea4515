package acquire

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solarpi/internal/bluetooth"
	"solarpi/internal/bluetooth/bletest"
	"solarpi/internal/protocol"
)

const testAddr = "AA:BB:CC:DD:EE:FF"

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// fastProfile shrinks the lifecycle timings so tests complete in
// milliseconds.
func fastProfile(p Profile) Profile {
	p.ConnectTimeout = 100 * time.Millisecond
	p.PollInterval = 5 * time.Millisecond
	p.KeepaliveWindow = 20 * time.Millisecond
	return p
}

type dataRecorder struct {
	mu      sync.Mutex
	payload [][]byte
}

func (r *dataRecorder) record(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payload = append(r.payload, append([]byte(nil), data...))
}

func (r *dataRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payload)
}

func startConnection(t *testing.T, profile Profile, transport bluetooth.Transport,
	onData func([]byte)) (*Connection, *ErrorCounter) {
	t.Helper()

	errCount := &ErrorCounter{}
	conn := NewConnection(profile, transport, bluetooth.NewRadioGate(quietLogger()),
		errCount, onData, quietLogger())
	conn.idlePoll = 2 * time.Millisecond
	conn.coolDown = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return conn, errCount
}

func waitForState(t *testing.T, conn *Connection, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return conn.State() == want },
		2*time.Second, time.Millisecond, "want state %s", want)
}

func TestConnectionStreamsAfterBind(t *testing.T) {
	transport := bletest.NewTransport()
	client := bletest.NewClient(testAddr)
	transport.AddClient(client)

	rec := &dataRecorder{}
	conn, errCount := startConnection(t, fastProfile(BatteryMonitorProfile()), transport, rec.record)

	require.True(t, conn.Bind(testAddr))
	waitForState(t, conn, StateStreaming)

	// The refresh command goes out right after subscribing.
	writes := client.Writes()
	require.NotEmpty(t, writes)
	assert.Equal(t, "fff2", writes[0].UUID)
	assert.Equal(t, batteryRefreshCommand, writes[0].Value)
	assert.True(t, writes[0].WithResponse)

	client.Notify("fff1", []byte{0xBB, 0x01})
	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, time.Millisecond)

	assert.Zero(t, errCount.Count())
}

func TestConnectionRejectsDoubleBind(t *testing.T) {
	transport := bletest.NewTransport()
	transport.AddClient(bletest.NewClient(testAddr))

	conn, _ := startConnection(t, fastProfile(BatteryMonitorProfile()), transport, func([]byte) {})

	require.True(t, conn.Bind(testAddr))
	assert.False(t, conn.Bind("11:22:33:44:55:66"), "bound connection must not rebind")
}

func TestConnectionFaultsOnDialFailure(t *testing.T) {
	transport := bletest.NewTransport()
	transport.FailDial(testAddr, errors.New("no route"))

	conn, errCount := startConnection(t, fastProfile(BatteryMonitorProfile()), transport, func([]byte) {})

	require.True(t, conn.Bind(testAddr))
	require.Eventually(t, func() bool { return errCount.Count() >= 1 },
		2*time.Second, time.Millisecond)

	waitForState(t, conn, StateIdle)
	assert.Empty(t, conn.Address(), "fault discards the binding")
}

func TestConnectionFaultsOnSubscribeFailure(t *testing.T) {
	transport := bletest.NewTransport()
	client := bletest.NewClient(testAddr)
	client.FailSubscribe(errors.New("att timeout"))
	transport.AddClient(client)

	conn, errCount := startConnection(t, fastProfile(BatteryMonitorProfile()), transport, func([]byte) {})

	require.True(t, conn.Bind(testAddr))
	require.Eventually(t, func() bool { return errCount.Count() >= 1 },
		2*time.Second, time.Millisecond)
	assert.Equal(t, StateIdle, conn.State())
}

func TestConnectionFaultsOnLinkDrop(t *testing.T) {
	transport := bletest.NewTransport()
	client := bletest.NewClient(testAddr)
	transport.AddClient(client)

	conn, errCount := startConnection(t, fastProfile(BatteryMonitorProfile()), transport, func([]byte) {})

	require.True(t, conn.Bind(testAddr))
	waitForState(t, conn, StateStreaming)

	client.DropLink()
	require.Eventually(t, func() bool { return errCount.Count() >= 1 },
		2*time.Second, time.Millisecond)
	waitForState(t, conn, StateIdle)
}

func TestConnectionDropsStreamStateBetweenSessions(t *testing.T) {
	transport := bletest.NewTransport()
	client := bletest.NewClient(testAddr)
	transport.AddClient(client)

	rec := &dataRecorder{}
	asm := protocol.NewFrameAssembler(rec.record, quietLogger())
	errCount := &ErrorCounter{}
	conn := NewConnection(fastProfile(BatteryMonitorProfile()), transport,
		bluetooth.NewRadioGate(quietLogger()), errCount, asm.Push, quietLogger())
	conn.OnSessionStart(asm.Reset)
	conn.idlePoll = 2 * time.Millisecond
	conn.coolDown = 2 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.True(t, conn.Bind(testAddr))
	waitForState(t, conn, StateStreaming)

	// A frame is cut off mid-delivery when the link drops.
	client.Notify("fff1", []byte{0xBB, 0x05, 0x30})
	client.DropLink()
	require.Eventually(t, func() bool { return errCount.Count() >= 1 },
		2*time.Second, time.Millisecond)

	replacement := bletest.NewClient(testAddr)
	transport.AddClient(replacement)
	// The fault path passes through Faulted before settling in Idle.
	require.Eventually(t, func() bool { return conn.Bind(testAddr) },
		2*time.Second, time.Millisecond)
	waitForState(t, conn, StateStreaming)

	// Bytes that would have completed the old frame are discarded as
	// garbage on the fresh link; only the following whole frame is yielded.
	replacement.Notify("fff1", []byte{0xC1, 0x01, 0xD8, 0xEE})
	replacement.Notify("fff1", []byte{0xBB, 0x02, 0x45, 0xC0, 0x99, 0xEE})
	require.Eventually(t, func() bool { return rec.count() == 1 },
		2*time.Second, time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []byte{0xBB, 0x02, 0x45, 0xC0, 0x99}, rec.payload[0])
}

func TestChargerRequestsDataOnEveryResponse(t *testing.T) {
	transport := bletest.NewTransport()
	client := bletest.NewClient(testAddr)
	transport.AddClient(client)

	rec := &dataRecorder{}
	conn, _ := startConnection(t, fastProfile(SolarChargerProfile()), transport, rec.record)

	require.True(t, conn.Bind(testAddr))
	waitForState(t, conn, StateStreaming)

	// First request goes out on the first poll, not at subscribe time.
	require.Eventually(t, func() bool { return len(client.Writes()) >= 1 },
		time.Second, time.Millisecond)
	w := client.Writes()[0]
	assert.Equal(t, "ffe1", w.UUID)
	assert.Equal(t, chargerHomeDataRequest, w.Value)
	assert.False(t, w.WithResponse)

	// A response re-arms the next request without waiting out the window.
	before := len(client.Writes())
	client.Notify("ffe1", homeDataStub())
	require.Eventually(t, func() bool { return len(client.Writes()) > before },
		time.Second, time.Millisecond)
}

func TestChargerFaultsOnFirstWriteFailure(t *testing.T) {
	transport := bletest.NewTransport()
	client := bletest.NewClient(testAddr)
	client.FailWrites(errors.New("gatt busy"))
	transport.AddClient(client)

	conn, errCount := startConnection(t, fastProfile(SolarChargerProfile()), transport, func([]byte) {})

	require.True(t, conn.Bind(testAddr))
	require.Eventually(t, func() bool { return errCount.Count() >= 1 },
		2*time.Second, time.Millisecond)
	assert.Equal(t, StateIdle, conn.State())
}

func TestBatteryToleratesKeepaliveFailures(t *testing.T) {
	transport := bletest.NewTransport()
	client := bletest.NewClient(testAddr)
	transport.AddClient(client)

	profile := fastProfile(BatteryMonitorProfile())
	profile.MaxKeepaliveFailures = 1000
	conn, errCount := startConnection(t, profile, transport, func([]byte) {})

	require.True(t, conn.Bind(testAddr))
	waitForState(t, conn, StateStreaming)

	// The monitor rides out failed refresh writes instead of dropping the
	// link over a transient GATT error.
	client.FailWrites(errors.New("gatt busy"))
	time.Sleep(4 * profile.PollInterval)
	client.FailWrites(nil)

	require.Eventually(t, func() bool { return len(client.Writes()) > 1 },
		2*time.Second, time.Millisecond, "recovered keepalive goes through")
	assert.Equal(t, StateStreaming, conn.State())
	assert.Zero(t, errCount.Count())
}

func homeDataStub() []byte {
	frame := make([]byte, 43)
	frame[0], frame[1], frame[2] = 0x01, 0x03, 0x26
	return frame
}
