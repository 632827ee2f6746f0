package vr

import (
	"fmt"
	"io"
	"sync"
)

// Vibration is one recorded TriggerHapticVibrationAction call.
type Vibration struct {
	Action    ActionHandle
	Source    InputValueHandle
	Start     float32
	Duration  float32
	Frequency float32
	Amplitude float32
}

// Pulse is one recorded TriggerHapticPulse call.
type Pulse struct {
	Device TrackedDeviceIndex
	Axis   uint32
	Micros uint16
}

// Sim is an in-process runtime that records every haptic call. Names resolve
// to stable handles in the order they are first seen. Both hands are tracked
// at indices 1 and 2 unless changed with Track/Untrack.
type Sim struct {
	mu         sync.Mutex
	out        io.Writer
	handles    map[string]uint64
	next       uint64
	manifest   string
	manifestRC InputError
	vibrateRC  InputError
	updates    int
	tracked    map[ControllerRole]TrackedDeviceIndex
	vibrations []Vibration
	pulses     []Pulse
	shutdown   bool
}

// NewSim returns a simulated runtime. When out is non-nil every call is
// echoed to it.
func NewSim(out io.Writer) *Sim {
	return &Sim{
		out:     out,
		handles: make(map[string]uint64),
		next:    1,
		tracked: map[ControllerRole]TrackedDeviceIndex{
			RoleLeftHand:  1,
			RoleRightHand: 2,
		},
	}
}

func (s *Sim) Input() Input { return s }
func (s *Sim) System() System { return s }

func (s *Sim) Shutdown() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	return nil
}

// FailManifest makes SetActionManifestPath return code.
func (s *Sim) FailManifest(code InputError) {
	s.mu.Lock()
	s.manifestRC = code
	s.mu.Unlock()
}

// FailVibrations makes every valid vibration call return code.
func (s *Sim) FailVibrations(code InputError) {
	s.mu.Lock()
	s.vibrateRC = code
	s.mu.Unlock()
}

// Track assigns a tracked device index to role.
func (s *Sim) Track(role ControllerRole, index TrackedDeviceIndex) {
	s.mu.Lock()
	s.tracked[role] = index
	s.mu.Unlock()
}

// Untrack marks role as having no tracked device.
func (s *Sim) Untrack(role ControllerRole) {
	s.mu.Lock()
	delete(s.tracked, role)
	s.mu.Unlock()
}

func (s *Sim) handle(name string) uint64 {
	if h, ok := s.handles[name]; ok {
		return h
	}
	h := s.next
	s.next++
	s.handles[name] = h
	return h
}

func (s *Sim) known(h uint64) bool {
	for _, v := range s.handles {
		if v == h {
			return true
		}
	}
	return false
}

func (s *Sim) echo(format string, args ...any) {
	if s.out != nil {
		fmt.Fprintf(s.out, "[sim] "+format+"\n", args...)
	}
}

func (s *Sim) SetActionManifestPath(path string) InputError {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = path
	s.echo("manifest %s", path)
	return s.manifestRC
}

func (s *Sim) GetActionSetHandle(name string) (ActionSetHandle, InputError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ActionSetHandle(s.handle(name)), InputErrorNone
}

func (s *Sim) GetActionHandle(name string) (ActionHandle, InputError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ActionHandle(s.handle(name)), InputErrorNone
}

func (s *Sim) GetInputSourceHandle(path string) (InputValueHandle, InputError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return InputValueHandle(s.handle(path)), InputErrorNone
}

func (s *Sim) UpdateActionState(sets []ActiveActionSet) InputError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(sets) == 0 {
		return InputErrorNoActiveActionSet
	}
	s.updates++
	return InputErrorNone
}

func (s *Sim) TriggerHapticVibrationAction(action ActionHandle, start, duration, frequency, amplitude float32, source InputValueHandle) InputError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if source == InvalidInputValueHandle || !s.known(uint64(action)) || !s.known(uint64(source)) {
		s.echo("vibrate rejected: invalid handle")
		return InputErrorInvalidHandle
	}
	if s.vibrateRC != InputErrorNone {
		return s.vibrateRC
	}
	s.vibrations = append(s.vibrations, Vibration{
		Action:    action,
		Source:    source,
		Start:     start,
		Duration:  duration,
		Frequency: frequency,
		Amplitude: amplitude,
	})
	s.echo("vibrate source=%d duration=%gs frequency=%ghz amplitude=%g", source, duration, frequency, amplitude)
	return InputErrorNone
}

func (s *Sim) TrackedDeviceIndexForControllerRole(role ControllerRole) TrackedDeviceIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.tracked[role]; ok {
		return idx
	}
	return TrackedDeviceIndexInvalid
}

func (s *Sim) TriggerHapticPulse(device TrackedDeviceIndex, axis uint32, micros uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if device == TrackedDeviceIndexInvalid {
		return
	}
	s.pulses = append(s.pulses, Pulse{Device: device, Axis: axis, Micros: micros})
	s.echo("pulse device=%d axis=%d duration=%dus", device, axis, micros)
}

// Manifest returns the last manifest path set.
func (s *Sim) Manifest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest
}

// Handle returns the handle previously assigned to name, or 0.
func (s *Sim) Handle(name string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[name]
}

// ActionStateUpdates returns how many successful UpdateActionState calls ran.
func (s *Sim) ActionStateUpdates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

// Vibrations returns a copy of the recorded vibration calls.
func (s *Sim) Vibrations() []Vibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Vibration, len(s.vibrations))
	copy(out, s.vibrations)
	return out
}

// Pulses returns a copy of the recorded pulse calls.
func (s *Sim) Pulses() []Pulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pulse, len(s.pulses))
	copy(out, s.pulses)
	return out
}

// IsShutdown reports whether Shutdown was called.
func (s *Sim) IsShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}
