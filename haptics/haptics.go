// Package haptics applies parsed commands to a VR runtime.
package haptics

import (
	"context"
	"errors"
	"fmt"

	"github.com/danwillm/openvr-haptics-tester/command"
	"github.com/danwillm/openvr-haptics-tester/vr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/danwillm/openvr-haptics-tester/haptics"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Bindings names the runtime resources the action dispatcher resolves.
type Bindings struct {
	ActionSet   string
	Action      string
	LeftSource  string
	RightSource string
}

// DefaultBindings matches the shipped actions.json.
func DefaultBindings() Bindings {
	return Bindings{
		ActionSet:   "/actions/default",
		Action:      "/actions/default/in/HapticVibration",
		LeftSource:  "/user/hand/left",
		RightSource: "/user/hand/right",
	}
}

// HapticError is a non-success code returned for one hand.
type HapticError struct {
	Hand command.Hand
	Code vr.InputError
}

func (e *HapticError) Error() string {
	return fmt.Sprintf("haptic error %d (%s)", int(e.Code), e.Code)
}

// ActionDispatcher triggers one-shot vibrations through the action API.
type ActionDispatcher struct {
	input     vr.Input
	actionSet vr.ActionSetHandle
	action    vr.ActionHandle
	sources   map[command.Hand]vr.InputValueHandle
}

// NewActionDispatcher resolves b once. Resolution failures leave the handle at
// its zero value and are returned joined so the caller can report them; the
// dispatcher is usable either way and the runtime rejects what it can't find.
func NewActionDispatcher(input vr.Input, b Bindings) (*ActionDispatcher, error) {
	var errs []error
	d := &ActionDispatcher{
		input:   input,
		sources: make(map[command.Hand]vr.InputValueHandle, 2),
	}

	var rc vr.InputError
	if d.actionSet, rc = input.GetActionSetHandle(b.ActionSet); rc != vr.InputErrorNone {
		errs = append(errs, fmt.Errorf("action set %s: %s", b.ActionSet, rc))
	}
	if d.action, rc = input.GetActionHandle(b.Action); rc != vr.InputErrorNone {
		errs = append(errs, fmt.Errorf("action %s: %s", b.Action, rc))
	}
	sources := []struct {
		hand command.Hand
		path string
	}{
		{command.HandLeft, b.LeftSource},
		{command.HandRight, b.RightSource},
	}
	for _, s := range sources {
		h, rc := input.GetInputSourceHandle(s.path)
		if rc != vr.InputErrorNone {
			errs = append(errs, fmt.Errorf("input source %s: %s", s.path, rc))
			continue
		}
		d.sources[s.hand] = h
	}
	return d, errors.Join(errs...)
}

// Source returns the input source handle for hand, or the invalid handle.
func (d *ActionDispatcher) Source(hand command.Hand) vr.InputValueHandle {
	if h, ok := d.sources[hand]; ok {
		return h
	}
	return vr.InvalidInputValueHandle
}

// Dispatch updates the action set state once, then triggers p on each hand
// in order. Every non-success code comes back as a *HapticError.
func (d *ActionDispatcher) Dispatch(ctx context.Context, p command.Pulse) error {
	_, span := tracer().Start(ctx, "haptics.vibrate", trace.WithAttributes(
		attribute.Int("haptics.hands", len(p.Hands)),
		attribute.Float64("haptics.seconds", float64(p.Seconds)),
		attribute.Float64("haptics.frequency", float64(p.Frequency)),
		attribute.Float64("haptics.amplitude", float64(p.Amplitude)),
	))
	defer span.End()

	var errs []error
	sets := []vr.ActiveActionSet{{ActionSet: d.actionSet}}
	if rc := d.input.UpdateActionState(sets); rc != vr.InputErrorNone {
		errs = append(errs, fmt.Errorf("update action state: %d (%s)", int(rc), rc))
	}

	for _, hand := range p.Hands {
		rc := d.input.TriggerHapticVibrationAction(d.action, 0, p.Seconds, p.Frequency, p.Amplitude, d.Source(hand))
		if rc != vr.InputErrorNone {
			errs = append(errs, &HapticError{Hand: hand, Code: rc})
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// PulseDispatcher fires legacy fixed-duration pulses.
type PulseDispatcher struct {
	system vr.System
	axis   uint32
}

// NewPulseDispatcher returns a dispatcher pulsing axis on each device.
func NewPulseDispatcher(system vr.System, axis uint32) *PulseDispatcher {
	return &PulseDispatcher{system: system, axis: axis}
}

// Role maps a hand to a controller role.
func Role(hand command.Hand) vr.ControllerRole {
	switch hand {
	case command.HandLeft:
		return vr.RoleLeftHand
	case command.HandRight:
		return vr.RoleRightHand
	}
	return vr.RoleInvalid
}

// Fire resolves each hand to its current tracked device and pulses it. The
// legacy call reports nothing, so neither does Fire.
func (d *PulseDispatcher) Fire(ctx context.Context, hands []command.Hand, micros uint16) {
	_, span := tracer().Start(ctx, "haptics.pulse", trace.WithAttributes(
		attribute.Int("haptics.hands", len(hands)),
		attribute.Int("haptics.micros", int(micros)),
	))
	defer span.End()

	for _, hand := range hands {
		idx := d.system.TrackedDeviceIndexForControllerRole(Role(hand))
		d.system.TriggerHapticPulse(idx, d.axis, micros)
	}
}
