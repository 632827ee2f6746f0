// Package vr describes the slice of the VR runtime API that the haptics
// tester drives: the action based input interface and the legacy system
// interface. Backends (OSC bridge, BLE devices, simulator) implement Runtime.
package vr

// Handle types mirror the runtime's opaque 64-bit handles.
type (
	ActionSetHandle  uint64
	ActionHandle     uint64
	InputValueHandle uint64
)

// InvalidInputValueHandle is passed for hands that could not be resolved.
// The runtime rejects it when restricting a haptic action.
const InvalidInputValueHandle InputValueHandle = 0

// TrackedDeviceIndex identifies a device slot tracked by the runtime.
type TrackedDeviceIndex uint32

// TrackedDeviceIndexInvalid is returned for roles with no tracked device.
const TrackedDeviceIndexInvalid TrackedDeviceIndex = 0xFFFFFFFF

// ControllerRole is the logical hand a tracked controller is assigned to.
type ControllerRole int

const (
	RoleInvalid ControllerRole = iota
	RoleLeftHand
	RoleRightHand
)

func (r ControllerRole) String() string {
	switch r {
	case RoleLeftHand:
		return "left"
	case RoleRightHand:
		return "right"
	default:
		return "invalid"
	}
}

// ActiveActionSet selects an action set for UpdateActionState.
type ActiveActionSet struct {
	ActionSet          ActionSetHandle
	RestrictedToDevice InputValueHandle
	Priority           int32
}

// Input is the action based input interface.
type Input interface {
	SetActionManifestPath(path string) InputError
	GetActionSetHandle(name string) (ActionSetHandle, InputError)
	GetActionHandle(name string) (ActionHandle, InputError)
	GetInputSourceHandle(path string) (InputValueHandle, InputError)
	UpdateActionState(sets []ActiveActionSet) InputError
	TriggerHapticVibrationAction(action ActionHandle, startSecondsFromNow, durationSeconds, frequency, amplitude float32, restrictToDevice InputValueHandle) InputError
}

// System is the legacy device interface. TriggerHapticPulse reports nothing
// back; a pulse to an unknown device is indistinguishable from a no-op.
type System interface {
	TrackedDeviceIndexForControllerRole(role ControllerRole) TrackedDeviceIndex
	TriggerHapticPulse(device TrackedDeviceIndex, axisID uint32, durationMicros uint16)
}

// Runtime is an initialized runtime session.
type Runtime interface {
	Input() Input
	System() System
	Shutdown() error
}
