// Package bletest provides a scripted in-memory Transport for exercising the
// acquisition engine without radio hardware.
package bletest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"solarpi/internal/bluetooth"
)

// Advertisement is a static advertisement replayed on every scan window.
type Advertisement struct {
	addr     string
	name     string
	services []string
	rssi     int
}

func (a *Advertisement) Addr() string        { return a.addr }
func (a *Advertisement) LocalName() string   { return a.name }
func (a *Advertisement) Services() []string  { return a.services }
func (a *Advertisement) RSSI() int           { return a.rssi }

// AdvertisementBuilder builds advertisements with a fluent API.
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisement starts building an advertisement for addr.
func NewAdvertisement(addr string) *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{addr: addr, rssi: -60}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.name = name
	return b
}

func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.services = append(b.adv.services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.rssi = rssi
	return b
}

func (b *AdvertisementBuilder) Build() *Advertisement {
	adv := b.adv
	return &adv
}

// Transport replays scripted advertisements and hands out scripted clients.
type Transport struct {
	mu        sync.Mutex
	advs      []bluetooth.Advertisement
	clients   map[string]*Client
	dialErr   map[string]error
	scanCount int
}

func NewTransport() *Transport {
	return &Transport{
		clients: make(map[string]*Client),
		dialErr: make(map[string]error),
	}
}

// SetAdvertisements replaces the advertisements seen by subsequent scans.
func (t *Transport) SetAdvertisements(advs ...bluetooth.Advertisement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.advs = advs
}

// AddClient registers the client returned when its address is dialed.
func (t *Transport) AddClient(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[c.addr] = c
}

// FailDial makes dialing addr fail with err.
func (t *Transport) FailDial(addr string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dialErr[addr] = err
}

// ScanCount returns how many scan windows have run.
func (t *Transport) ScanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanCount
}

func (t *Transport) Scan(ctx context.Context, window time.Duration, allowDup bool, h func(bluetooth.Advertisement)) error {
	t.mu.Lock()
	t.scanCount++
	advs := append([]bluetooth.Advertisement(nil), t.advs...)
	t.mu.Unlock()

	for _, adv := range advs {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		h(adv)
	}
	return nil
}

func (t *Transport) Dial(ctx context.Context, addr string, timeout time.Duration) (bluetooth.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.dialErr[addr]; err != nil {
		return nil, bluetooth.NewOpError(bluetooth.FailConnect, err)
	}
	c, ok := t.clients[addr]
	if !ok || !c.Connected() {
		return nil, bluetooth.NewOpError(bluetooth.FailConnect, fmt.Errorf("no device at %q", addr))
	}
	return c, nil
}

// Write records one characteristic write issued by the engine.
type Write struct {
	UUID         string
	Value        []byte
	WithResponse bool
}

// Client is a scripted GATT peripheral.
type Client struct {
	mu           sync.Mutex
	addr         string
	reads        map[string][]byte
	writeErr     error
	subscribeErr error
	writes       []Write
	handlers     map[string]func([]byte)
	disconnected chan struct{}
	dropped      bool
}

func NewClient(addr string) *Client {
	return &Client{
		addr:         addr,
		reads:        map[string][]byte{"2a24": []byte("FAKE-1")},
		handlers:     make(map[string]func([]byte)),
		disconnected: make(chan struct{}),
	}
}

// WithRead scripts the response to a characteristic read.
func (c *Client) WithRead(uuid string, data []byte) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads[bluetooth.NormalizeUUID(uuid)] = data
	return c
}

// FailWrites makes every subsequent write fail with err (nil to clear).
func (c *Client) FailWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// FailSubscribe makes Subscribe fail with err.
func (c *Client) FailSubscribe(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

// Writes returns a copy of all recorded writes.
func (c *Client) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// Notify delivers a notification to the subscribed handler, if any.
func (c *Client) Notify(uuid string, data []byte) {
	c.mu.Lock()
	h := c.handlers[bluetooth.NormalizeUUID(uuid)]
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

// DropLink simulates the peripheral dropping the connection.
func (c *Client) DropLink() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dropped {
		c.dropped = true
		close(c.disconnected)
	}
}

func (c *Client) Address() string { return c.addr }

func (c *Client) ReadCharacteristic(uuid string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.reads[bluetooth.NormalizeUUID(uuid)]
	if !ok {
		return nil, fmt.Errorf("characteristic %q not found", uuid)
	}
	return data, nil
}

func (c *Client) WriteCharacteristic(uuid string, value []byte, withResponse bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return bluetooth.NewOpError(bluetooth.FailWrite, c.writeErr)
	}
	c.writes = append(c.writes, Write{
		UUID:         bluetooth.NormalizeUUID(uuid),
		Value:        append([]byte(nil), value...),
		WithResponse: withResponse,
	})
	return nil
}

func (c *Client) Subscribe(uuid string, h func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return bluetooth.NewOpError(bluetooth.FailSubscribe, c.subscribeErr)
	}
	c.handlers[bluetooth.NormalizeUUID(uuid)] = h
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.dropped
}

func (c *Client) Disconnected() <-chan struct{} { return c.disconnected }

func (c *Client) Disconnect() error {
	c.DropLink()
	return nil
}
