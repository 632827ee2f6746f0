package devicestore

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/danwillm/openvr-haptics-tester/vr"
)

// Runtime implements vr.Runtime by writing text commands to the devices in a
// store:
//
//	vibrate:<duration ms>:<frequency>:<amplitude>
//	pulse:<duration us>
//
// Input source paths map to roles through the sources table given to
// NewRuntime.
type Runtime struct {
	store   *DeviceStore
	sources map[string]vr.ControllerRole
	stop    func()
	logger  *log.Logger

	mu      sync.Mutex
	names   map[uint64]string
	handles map[string]uint64
	next    uint64
	closed  bool
}

// NewRuntime returns a runtime over store. stop, if non-nil, is called once
// on Shutdown before every link is dropped; it should stop the
// RuntimeManager and wait for it.
func NewRuntime(store *DeviceStore, sources map[string]vr.ControllerRole, stop func(), logger *log.Logger) *Runtime {
	if logger == nil {
		logger = log.Default()
	}
	return &Runtime{
		store:   store,
		sources: sources,
		stop:    stop,
		logger:  logger,
		names:   make(map[uint64]string),
		handles: make(map[string]uint64),
		next:    1,
	}
}

func (r *Runtime) Input() vr.Input { return r }
func (r *Runtime) System() vr.System { return r }

func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.stop != nil {
		r.stop()
	}
	r.store.DisconnectAll()
	return nil
}

func (r *Runtime) handle(name string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[name]; ok {
		return h
	}
	h := r.next
	r.next++
	r.handles[name] = h
	r.names[h] = name
	return h
}

func (r *Runtime) name(h uint64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.names[h]
	return n, ok
}

// SetActionManifestPath only checks the manifest exists; devices have no use
// for its contents.
func (r *Runtime) SetActionManifestPath(path string) vr.InputError {
	if _, err := os.Stat(path); err != nil {
		r.logger.Printf("ble: action manifest %s: %v", path, err)
		return vr.InputErrorMismatchedActionManifest
	}
	return vr.InputErrorNone
}

func (r *Runtime) GetActionSetHandle(name string) (vr.ActionSetHandle, vr.InputError) {
	return vr.ActionSetHandle(r.handle(name)), vr.InputErrorNone
}

func (r *Runtime) GetActionHandle(name string) (vr.ActionHandle, vr.InputError) {
	return vr.ActionHandle(r.handle(name)), vr.InputErrorNone
}

func (r *Runtime) GetInputSourceHandle(path string) (vr.InputValueHandle, vr.InputError) {
	return vr.InputValueHandle(r.handle(path)), vr.InputErrorNone
}

func (r *Runtime) UpdateActionState(sets []vr.ActiveActionSet) vr.InputError {
	if len(sets) == 0 {
		return vr.InputErrorNoActiveActionSet
	}
	for _, s := range sets {
		if _, ok := r.name(uint64(s.ActionSet)); !ok {
			return vr.InputErrorInvalidHandle
		}
	}
	return vr.InputErrorNone
}

func (r *Runtime) TriggerHapticVibrationAction(action vr.ActionHandle, start, duration, frequency, amplitude float32, source vr.InputValueHandle) vr.InputError {
	if _, ok := r.name(uint64(action)); !ok {
		return vr.InputErrorInvalidHandle
	}
	path, ok := r.name(uint64(source))
	if !ok {
		return vr.InputErrorInvalidHandle
	}
	role, ok := r.sources[path]
	if !ok {
		return vr.InputErrorInvalidDevice
	}

	err := r.store.SendTo(r.store.IndexFor(role), vibrateCommand(duration, frequency, amplitude))
	switch {
	case err == nil:
		return vr.InputErrorNone
	case errors.Is(err, ErrOffline):
		return vr.InputErrorInvalidDevice
	default:
		r.logger.Printf("ble: vibrate %s: %v", role, err)
		return vr.InputErrorIPCError
	}
}

func (r *Runtime) TrackedDeviceIndexForControllerRole(role vr.ControllerRole) vr.TrackedDeviceIndex {
	return r.store.IndexFor(role)
}

func (r *Runtime) TriggerHapticPulse(device vr.TrackedDeviceIndex, axis uint32, micros uint16) {
	if device == vr.TrackedDeviceIndexInvalid {
		return
	}
	if err := r.store.SendTo(device, fmt.Sprintf("pulse:%d", micros)); err != nil && !errors.Is(err, ErrOffline) {
		r.logger.Printf("ble: pulse device %d: %v", device, err)
	}
}

// maxVibrateMillis caps the duration sent to a device, about 24 days.
const maxVibrateMillis = math.MaxInt32

func vibrateCommand(duration, frequency, amplitude float32) string {
	var ms int64
	scaled := float64(duration)*1000 + 0.5
	switch {
	case scaled >= maxVibrateMillis || math.IsNaN(scaled):
		ms = maxVibrateMillis
	case scaled > 0:
		ms = int64(scaled)
	}
	return "vibrate:" + strconv.FormatInt(ms, 10) +
		":" + strconv.FormatFloat(float64(frequency), 'g', -1, 32) +
		":" + strconv.FormatFloat(float64(amplitude), 'g', -1, 32)
}
