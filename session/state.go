package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danwillm/openvr-haptics-tester/command"
)

// MinInterval bounds how fast the repeater can spin when configured with a
// zero interval.
const MinInterval = time.Millisecond

// RepeatConfig is what the background repeater fires on every tick.
type RepeatConfig struct {
	DurationMicros uint16
	IntervalMillis uint32
	Hands          []command.Hand
}

// DefaultRepeatConfig is 1000us pulses every 1000ms with no hands.
func DefaultRepeatConfig() RepeatConfig {
	return RepeatConfig{DurationMicros: 1000, IntervalMillis: 1000}
}

func (c RepeatConfig) clone() RepeatConfig {
	if c.Hands != nil {
		c.Hands = append([]command.Hand(nil), c.Hands...)
	}
	return c
}

// Interval is the sleep between ticks.
func (c RepeatConfig) Interval() time.Duration {
	d := time.Duration(c.IntervalMillis) * time.Millisecond
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Firer fires one pulse per hand.
type Firer interface {
	Fire(ctx context.Context, hands []command.Hand, micros uint16)
}

// State holds the repeater configuration and lifecycle. The config is written
// by the command loop and read by the repeater under mu; mu is never held
// across the inter-tick sleep. At most one repeater goroutine exists.
type State struct {
	mu  sync.Mutex
	cfg RepeatConfig

	lifecycle sync.Mutex
	running   atomic.Bool
	alive     atomic.Int32
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewState returns an idle state holding cfg.
func NewState(cfg RepeatConfig) *State {
	return &State{cfg: cfg.clone()}
}

// Configure replaces the config. A running repeater picks it up on its next tick.
func (s *State) Configure(cfg RepeatConfig) {
	s.mu.Lock()
	s.cfg = cfg.clone()
	s.mu.Unlock()
}

// Snapshot returns a copy of the current config.
func (s *State) Snapshot() RepeatConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.clone()
}

// Running reports whether a repeater is active.
func (s *State) Running() bool {
	return s.running.Load()
}

// Alive returns the number of repeater goroutines currently executing.
func (s *State) Alive() int {
	return int(s.alive.Load())
}

// Start spawns the repeater with f. It returns false if one is already running.
func (s *State) Start(ctx context.Context, f Firer) bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	s.alive.Add(1)
	go s.repeat(ctx, f, s.stop)
	return true
}

// Stop signals the repeater and waits for it to exit. It returns false if
// nothing was running.
func (s *State) Stop() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running.CompareAndSwap(true, false) {
		return false
	}
	close(s.stop)
	s.wg.Wait()
	return true
}

func (s *State) repeat(ctx context.Context, f Firer, stop <-chan struct{}) {
	defer s.wg.Done()
	defer s.alive.Add(-1)

	for s.running.Load() {
		s.mu.Lock()
		cfg := s.cfg
		f.Fire(ctx, cfg.Hands, cfg.DurationMicros)
		interval := cfg.Interval()
		s.mu.Unlock()

		select {
		case <-time.After(interval):
		case <-stop:
			return
		}
	}
}
