package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"
)

// TransportFactory creates the adapter transport (overridden in tests).
var TransportFactory = func(logger *logrus.Logger) (Transport, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to open HCI device: %w", err)
	}
	return &bleTransport{dev: dev, logger: logger}, nil
}

// bleTransport implements Transport on top of go-ble.
type bleTransport struct {
	dev    ble.Device
	logger *logrus.Logger
}

func (t *bleTransport) Scan(ctx context.Context, window time.Duration, allowDup bool, h func(Advertisement)) error {
	scanCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	err := t.dev.Scan(scanCtx, allowDup, func(a ble.Advertisement) {
		h(&bleAdvertisement{adv: a})
	})
	// The window elapsing is the normal way a scan ends.
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NewOpError(FailDiscovery, err)
	}
	return nil
}

func (t *bleTransport) Dial(ctx context.Context, addr string, timeout time.Duration) (Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.logger.WithField("address", addr).Info("Connecting to BLE device...")
	client, err := t.dev.Dial(dialCtx, ble.NewAddr(addr))
	if err != nil {
		return nil, NewOpError(FailConnect, fmt.Errorf("failed to connect to %q: %w", addr, err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, NewOpError(FailConnect, fmt.Errorf("failed to discover profile of %q: %w", addr, err))
	}

	t.logger.WithFields(logrus.Fields{
		"address":  addr,
		"services": len(profile.Services),
	}).Info("BLE device connected")

	return &bleClient{addr: addr, client: client, profile: profile}, nil
}

type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a *bleAdvertisement) Addr() string      { return a.adv.Addr().String() }
func (a *bleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a *bleAdvertisement) RSSI() int         { return a.adv.RSSI() }

func (a *bleAdvertisement) Services() []string {
	uuids := a.adv.Services()
	services := make([]string, 0, len(uuids))
	for _, u := range uuids {
		services = append(services, u.String())
	}
	return services
}

type bleClient struct {
	addr    string
	client  ble.Client
	profile *ble.Profile
}

func (c *bleClient) Address() string { return c.addr }

func (c *bleClient) findCharacteristic(uuid string) (*ble.Characteristic, error) {
	for _, svc := range c.profile.Services {
		for _, char := range svc.Characteristics {
			if UUIDEqual(char.UUID.String(), uuid) {
				return char, nil
			}
		}
	}
	return nil, fmt.Errorf("characteristic %q not found", uuid)
}

func (c *bleClient) ReadCharacteristic(uuid string) ([]byte, error) {
	char, err := c.findCharacteristic(uuid)
	if err != nil {
		return nil, err
	}
	data, err := c.client.ReadCharacteristic(char)
	if err != nil {
		return nil, fmt.Errorf("failed to read characteristic %q: %w", uuid, err)
	}
	return data, nil
}

func (c *bleClient) WriteCharacteristic(uuid string, value []byte, withResponse bool) error {
	char, err := c.findCharacteristic(uuid)
	if err != nil {
		return NewOpError(FailWrite, err)
	}
	if err := c.client.WriteCharacteristic(char, value, !withResponse); err != nil {
		return NewOpError(FailWrite, fmt.Errorf("failed to write characteristic %q: %w", uuid, err))
	}
	return nil
}

func (c *bleClient) Subscribe(uuid string, h func([]byte)) error {
	char, err := c.findCharacteristic(uuid)
	if err != nil {
		return NewOpError(FailSubscribe, err)
	}
	if err := c.client.Subscribe(char, false, func(data []byte) { h(data) }); err != nil {
		return NewOpError(FailSubscribe, fmt.Errorf("failed to subscribe to %q: %w", uuid, err))
	}
	return nil
}

func (c *bleClient) Connected() bool {
	select {
	case <-c.client.Disconnected():
		return false
	default:
		return true
	}
}

func (c *bleClient) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}

func (c *bleClient) Disconnect() error {
	return c.client.CancelConnection()
}
