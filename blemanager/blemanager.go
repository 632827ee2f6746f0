package blemanager

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

var adapter = bluetooth.DefaultAdapter

var (
	enableOnce sync.Once
	enableErr  error
)

var (
	ErrNotReady    = errors.New("ble device not ready")
	ErrSendTimeout = errors.New("ble send timeout")
)

// Options selects the haptic GATT endpoint and write timeout.
type Options struct {
	Service        string
	Characteristic string
	SendTimeout    time.Duration
	Logger         *log.Logger
}

// characteristic is the write side of a GATT characteristic.
// WriteWithoutResponse is available on every bluetooth backend.
type characteristic interface {
	WriteWithoutResponse(p []byte) (n int, err error)
}

// BLEManager encapsulates one BLE device connection
type BLEManager struct {
	opts       Options
	char       characteristic
	disconnect func() error // set while a device connection is held
	ready      bool
	mu         sync.Mutex
}

// Enable powers up the default adapter. Only the first call does any work.
func Enable() error {
	enableOnce.Do(func() {
		enableErr = adapter.Enable()
	})
	return enableErr
}

// New creates a BLEManager. Enable must have succeeded before connecting.
func New(opts Options) *BLEManager {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &BLEManager{opts: opts}
}

// ConnectDevice connects to a specific device by its Bluetooth address and
// looks up the haptic characteristic.
func (b *BLEManager) ConnectDevice(addr string) error {
	b.opts.Logger.Println("Connecting to device at", addr)

	var address bluetooth.Address
	address.Set(addr)

	device, err := adapter.Connect(address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	services, err := device.DiscoverServices(nil)
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("failed to discover services: %w", err)
	}

	var targetService *bluetooth.DeviceService
	for _, s := range services {
		if strings.EqualFold(s.UUID().String(), b.opts.Service) {
			targetService = &s
			break
		}
	}
	if targetService == nil {
		device.Disconnect()
		return fmt.Errorf("service %s not found", b.opts.Service)
	}

	chars, err := targetService.DiscoverCharacteristics(nil)
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("failed to discover characteristics: %w", err)
	}

	var targetChar *bluetooth.DeviceCharacteristic
	for _, c := range chars {
		if strings.EqualFold(c.UUID().String(), b.opts.Characteristic) {
			targetChar = &c
			break
		}
	}
	if targetChar == nil {
		device.Disconnect()
		return fmt.Errorf("characteristic %s not found", b.opts.Characteristic)
	}

	b.mu.Lock()
	b.char = targetChar
	b.disconnect = device.Disconnect
	b.ready = true
	b.mu.Unlock()

	b.opts.Logger.Println("Connected and ready to send data to", addr)
	return nil
}

// Send writes data to the haptic characteristic. A failed or timed out write
// marks the link not ready.
func (b *BLEManager) Send(data string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ready || b.char == nil {
		return ErrNotReady
	}

	done := make(chan error, 1)
	char := b.char
	go func() {
		_, err := char.WriteWithoutResponse([]byte(data))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			b.ready = false
			return fmt.Errorf("failed to send %q: %w", data, err)
		}
		return nil
	case <-time.After(b.opts.SendTimeout):
		b.ready = false
		return fmt.Errorf("%w: %q", ErrSendTimeout, data)
	}
}

// Disconnect safely disconnects from the device. The connection is released
// even after a failed write has already marked the link not ready.
func (b *BLEManager) Disconnect() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disconnect != nil {
		if err := b.disconnect(); err != nil {
			b.opts.Logger.Println("BLE disconnect:", err)
		}
		b.disconnect = nil
	}
	b.ready = false
	b.char = nil
}

func (b *BLEManager) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}
