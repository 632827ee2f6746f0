package devicestore

import (
	"context"
	"log"
	"sync"
	"time"
)

// LinkFactory creates a fresh link for each connection attempt.
type LinkFactory func() Link

// Options tunes the connection loop. Zero durations take the defaults below.
type Options struct {
	PollInterval      time.Duration
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	Logger            *log.Logger
	// OnStatus, if set, is called with "Online", "Offline" or "Disabled".
	OnStatus func(dev Device, status string)
}

type RuntimeManager struct {
	newLink LinkFactory
	opts    Options
	active  map[string]struct{}
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewRuntimeManager creates a runtime BLE manager for devices
func NewRuntimeManager(newLink LinkFactory, opts Options) *RuntimeManager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &RuntimeManager{
		newLink: newLink,
		opts:    opts,
		active:  make(map[string]struct{}),
	}
}

// Run starts the management loop in the background. It keeps every enabled
// device connected until ctx is cancelled; Wait blocks until all device
// goroutines have disconnected.
func (rm *RuntimeManager) Run(ctx context.Context, store *DeviceStore) {
	rm.wg.Add(1)
	go func() {
		defer rm.wg.Done()
		for {
			for _, dev := range store.All() {
				if !dev.Enabled {
					continue
				}

				rm.mu.Lock()
				_, running := rm.active[dev.ID]
				if running {
					rm.mu.Unlock()
					continue
				}
				rm.active[dev.ID] = struct{}{}
				rm.mu.Unlock()

				rm.wg.Add(1)
				go rm.manageDevice(ctx, store, dev)
			}
			if !sleep(ctx, rm.opts.PollInterval) {
				return
			}
		}
	}()
}

// Wait blocks until Run and every device goroutine have returned.
func (rm *RuntimeManager) Wait() {
	rm.wg.Wait()
}

// Active reports how many devices currently have a management goroutine.
func (rm *RuntimeManager) Active() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.active)
}

// manageDevice handles connection/heartbeat for a single device
func (rm *RuntimeManager) manageDevice(ctx context.Context, store *DeviceStore, dev Device) {
	defer rm.wg.Done()
	defer func() {
		rm.mu.Lock()
		delete(rm.active, dev.ID)
		rm.mu.Unlock()
	}()

	for ctx.Err() == nil && store.IsEnabled(dev.ID) {
		rm.opts.Logger.Printf("Connecting to %s (%s) for the %s hand...", dev.Name, dev.Addr, dev.Role)

		link := rm.newLink() // fresh link each attempt
		if err := link.ConnectDevice(dev.Addr); err != nil {
			rm.opts.Logger.Printf("Failed to connect %s: %v", dev.Name, err)
			if !sleep(ctx, rm.opts.ReconnectDelay) {
				return
			}
			continue
		}

		rm.opts.Logger.Printf("%s connected!", dev.Name)
		store.SetLink(dev.ID, link)
		store.SetOnline(dev.ID, true)
		rm.status(dev, "Online")

		// Heartbeat loop
		for ctx.Err() == nil && store.IsEnabled(dev.ID) && link.Ready() {
			if err := link.Send("ping"); err != nil {
				rm.opts.Logger.Printf("%s heartbeat failed: %v", dev.Name, err)
				break
			}
			if !sleep(ctx, rm.opts.HeartbeatInterval) {
				break
			}
		}

		link.Disconnect()
		store.SetOnline(dev.ID, false)
		rm.status(dev, "Offline")

		if !store.IsEnabled(dev.ID) {
			rm.status(dev, "Disabled")
			return
		}
		if ctx.Err() == nil && !sleep(ctx, rm.opts.ReconnectDelay) {
			return
		}
	}
}

func (rm *RuntimeManager) status(dev Device, status string) {
	if rm.opts.OnStatus != nil {
		rm.opts.OnStatus(dev, status)
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
