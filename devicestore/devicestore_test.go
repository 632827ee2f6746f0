package devicestore

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danwillm/openvr-haptics-tester/vr"
)

type fakeLink struct {
	mu         sync.Mutex
	connectErr error
	sendErr    error
	ready      bool
	addr       string
	sent       []string
	closed     bool
}

func (f *fakeLink) ConnectDevice(addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addr = addr
	if f.connectErr != nil {
		return f.connectErr
	}
	f.ready = true
	return nil
}

func (f *fakeLink) Send(data string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return errors.New("not ready")
	}
	if f.sendErr != nil {
		f.ready = false
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeLink) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeLink) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = false
	f.closed = true
}

func (f *fakeLink) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

var quiet = log.New(io.Discard, "", 0)

const (
	leftAddr  = "aa-bb-cc-dd-ee-01"
	rightAddr = "AA:BB:CC:DD:EE:02"
)

func newStore(t *testing.T) *DeviceStore {
	t.Helper()
	s := New()
	if err := s.Add(Device{ID: leftAddr, Role: vr.RoleLeftHand, Enabled: true}); err != nil {
		t.Fatalf("add left: %v", err)
	}
	if err := s.Add(Device{ID: rightAddr, Name: "Right glove", Role: vr.RoleRightHand, Enabled: true}); err != nil {
		t.Fatalf("add right: %v", err)
	}
	return s
}

// online connects id through a fake link without the manager loop.
func online(s *DeviceStore, id string) *fakeLink {
	l := &fakeLink{}
	l.ConnectDevice(id)
	s.SetLink(id, l)
	s.SetOnline(id, true)
	return l
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAddNormalizesAndNames(t *testing.T) {
	s := newStore(t)

	devs := s.All()
	if len(devs) != 2 {
		t.Fatalf("got %d devices, want 2", len(devs))
	}
	left := devs[0]
	if left.ID != "AA:BB:CC:DD:EE:01" || left.Addr != leftAddr || left.Name != "Device A" {
		t.Errorf("left = %+v", left)
	}
	if left.Online || left.Index != vr.TrackedDeviceIndexInvalid {
		t.Errorf("new device should be offline: %+v", left)
	}
	if devs[1].Name != "Right glove" {
		t.Errorf("right name = %q", devs[1].Name)
	}
}

func TestAddRejectsDuplicates(t *testing.T) {
	s := newStore(t)
	if err := s.Add(Device{ID: "aa:bb:cc:dd:ee:01", Role: vr.RoleRightHand}); err == nil {
		t.Error("duplicate id accepted")
	}
	if err := s.Add(Device{ID: "AA:BB:CC:DD:EE:03", Role: vr.RoleLeftHand}); err == nil {
		t.Error("duplicate role accepted")
	}
}

func TestAddKeepsConfiguredAddress(t *testing.T) {
	s := New()
	uuid := "f1e2d3c4-b5a6-4978-8a9b-0c1d2e3f4a5b"
	if err := s.Add(Device{Addr: " " + uuid + " ", Role: vr.RoleLeftHand}); err != nil {
		t.Fatal(err)
	}
	dev := s.All()[0]
	if dev.Addr != uuid {
		t.Errorf("Addr = %q, want %q", dev.Addr, uuid)
	}
	if dev.ID != "F1:E2:D3:C4:B5:A6" {
		t.Errorf("ID = %q", dev.ID)
	}
}

func TestOnlineAssignsRoleIndex(t *testing.T) {
	s := newStore(t)
	if got := s.IndexFor(vr.RoleLeftHand); got != vr.TrackedDeviceIndexInvalid {
		t.Fatalf("offline left index = %d", got)
	}

	online(s, leftAddr)
	online(s, rightAddr)
	if got := s.IndexFor(vr.RoleLeftHand); got != 1 {
		t.Errorf("left index = %d, want 1", got)
	}
	if got := s.IndexFor(vr.RoleRightHand); got != 2 {
		t.Errorf("right index = %d, want 2", got)
	}

	s.SetOnline(rightAddr, false)
	if got := s.IndexFor(vr.RoleRightHand); got != vr.TrackedDeviceIndexInvalid {
		t.Errorf("right index after offline = %d", got)
	}
	if err := s.SendTo(2, "ping"); !errors.Is(err, ErrOffline) {
		t.Errorf("SendTo offline error = %v, want ErrOffline", err)
	}
}

func TestRuntimeVibrate(t *testing.T) {
	s := newStore(t)
	left := online(s, leftAddr)
	rt := NewRuntime(s, map[string]vr.ControllerRole{
		"/user/hand/left":  vr.RoleLeftHand,
		"/user/hand/right": vr.RoleRightHand,
	}, nil, quiet)

	action, _ := rt.GetActionHandle("/actions/default/in/HapticVibration")
	leftSrc, _ := rt.GetInputSourceHandle("/user/hand/left")
	rightSrc, _ := rt.GetInputSourceHandle("/user/hand/right")
	otherSrc, _ := rt.GetInputSourceHandle("/user/head")

	if rc := rt.TriggerHapticVibrationAction(action, 0, 1.5, 200, 0.5, leftSrc); rc != vr.InputErrorNone {
		t.Fatalf("left rc = %v", rc)
	}
	if got := left.messages(); len(got) != 1 || got[0] != "vibrate:1500:200:0.5" {
		t.Errorf("left messages = %v", got)
	}

	if rc := rt.TriggerHapticVibrationAction(action, 0, 1, 1, 1, rightSrc); rc != vr.InputErrorInvalidDevice {
		t.Errorf("offline right rc = %v, want InvalidDevice", rc)
	}
	if rc := rt.TriggerHapticVibrationAction(action, 0, 1, 1, 1, otherSrc); rc != vr.InputErrorInvalidDevice {
		t.Errorf("unmapped source rc = %v, want InvalidDevice", rc)
	}
	if rc := rt.TriggerHapticVibrationAction(action, 0, 1, 1, 1, vr.InvalidInputValueHandle); rc != vr.InputErrorInvalidHandle {
		t.Errorf("invalid source rc = %v, want InvalidHandle", rc)
	}

	left.mu.Lock()
	left.sendErr = errors.New("gatt write failed")
	left.mu.Unlock()
	if rc := rt.TriggerHapticVibrationAction(action, 0, 1, 1, 1, leftSrc); rc != vr.InputErrorIPCError {
		t.Errorf("failed write rc = %v, want IPCError", rc)
	}
}

func TestVibrateCommand(t *testing.T) {
	tests := []struct {
		duration, frequency, amplitude float32
		want                           string
	}{
		{1.5, 200, 0.5, "vibrate:1500:200:0.5"},
		{0, 4, 1, "vibrate:0:4:1"},
		{0.0004, 4, 1, "vibrate:0:4:1"},
		{1e30, 4, 1, "vibrate:2147483647:4:1"},
		{3e6, 4, 1, "vibrate:2147483647:4:1"},
	}
	for _, tt := range tests {
		if got := vibrateCommand(tt.duration, tt.frequency, tt.amplitude); got != tt.want {
			t.Errorf("vibrateCommand(%g, %g, %g) = %q, want %q", tt.duration, tt.frequency, tt.amplitude, got, tt.want)
		}
	}
}

func TestRuntimePulse(t *testing.T) {
	s := newStore(t)
	right := online(s, rightAddr)
	rt := NewRuntime(s, nil, nil, quiet)

	idx := rt.TrackedDeviceIndexForControllerRole(vr.RoleRightHand)
	rt.TriggerHapticPulse(idx, 0, 1000)
	rt.TriggerHapticPulse(rt.TrackedDeviceIndexForControllerRole(vr.RoleLeftHand), 0, 1000)

	if got := right.messages(); len(got) != 1 || got[0] != "pulse:1000" {
		t.Errorf("right messages = %v", got)
	}
}

func TestRuntimeManifestAndActionState(t *testing.T) {
	rt := NewRuntime(New(), nil, nil, quiet)

	if rc := rt.SetActionManifestPath(filepath.Join(t.TempDir(), "missing.json")); rc != vr.InputErrorMismatchedActionManifest {
		t.Errorf("missing manifest rc = %v", rc)
	}
	path := filepath.Join(t.TempDir(), "actions.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if rc := rt.SetActionManifestPath(path); rc != vr.InputErrorNone {
		t.Errorf("manifest rc = %v", rc)
	}

	set, _ := rt.GetActionSetHandle("/actions/default")
	if rc := rt.UpdateActionState([]vr.ActiveActionSet{{ActionSet: set}}); rc != vr.InputErrorNone {
		t.Errorf("update rc = %v", rc)
	}
	if rc := rt.UpdateActionState([]vr.ActiveActionSet{{ActionSet: 99}}); rc != vr.InputErrorInvalidHandle {
		t.Errorf("unknown set rc = %v", rc)
	}
}

func TestRuntimeShutdown(t *testing.T) {
	s := newStore(t)
	l := online(s, leftAddr)
	stops := 0
	rt := NewRuntime(s, nil, func() { stops++ }, quiet)

	rt.Shutdown()
	rt.Shutdown()
	if stops != 1 {
		t.Errorf("stop called %d times, want 1", stops)
	}
	if !l.closed || s.IndexFor(vr.RoleLeftHand) != vr.TrackedDeviceIndexInvalid {
		t.Error("links not dropped on shutdown")
	}
}

func TestManagerConnectsAndHeartbeats(t *testing.T) {
	s := New()
	if err := s.Add(Device{ID: leftAddr, Role: vr.RoleLeftHand, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Device{ID: rightAddr, Role: vr.RoleRightHand}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var links []*fakeLink
	var statuses []string
	rm := NewRuntimeManager(func() Link {
		l := &fakeLink{}
		mu.Lock()
		links = append(links, l)
		mu.Unlock()
		return l
	}, Options{
		PollInterval:      5 * time.Millisecond,
		ReconnectDelay:    5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		Logger:            quiet,
		OnStatus: func(dev Device, status string) {
			mu.Lock()
			statuses = append(statuses, dev.Name+" "+status)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	rm.Run(ctx, s)

	waitFor(t, "left online", func() bool { return s.IndexFor(vr.RoleLeftHand) == 1 })
	waitFor(t, "heartbeat", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(links) > 0 && len(links[0].messages()) >= 2
	})

	cancel()
	rm.Wait()

	if s.IndexFor(vr.RoleLeftHand) != vr.TrackedDeviceIndexInvalid {
		t.Error("left still online after shutdown")
	}
	if rm.Active() != 0 {
		t.Errorf("active = %d after Wait", rm.Active())
	}
	mu.Lock()
	defer mu.Unlock()
	for _, l := range links {
		if l.addr != leftAddr {
			t.Errorf("connected to %q; right hand is disabled", l.addr)
		}
		if l.Ready() {
			t.Error("link left connected")
		}
	}
	if len(statuses) < 2 || statuses[0] != "Device A Online" || statuses[len(statuses)-1] != "Device A Offline" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestManagerRetriesFailedConnect(t *testing.T) {
	s := New()
	if err := s.Add(Device{ID: leftAddr, Role: vr.RoleLeftHand, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	attempts := 0
	rm := NewRuntimeManager(func() Link {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return &fakeLink{connectErr: errors.New("device not found")}
		}
		return &fakeLink{}
	}, Options{
		PollInterval:      5 * time.Millisecond,
		ReconnectDelay:    5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		Logger:            quiet,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rm.Run(ctx, s)

	waitFor(t, "left online after retries", func() bool { return s.IndexFor(vr.RoleLeftHand) == 1 })
	cancel()
	rm.Wait()

	mu.Lock()
	defer mu.Unlock()
	if attempts < 3 {
		t.Errorf("attempts = %d, want at least 3", attempts)
	}
}

func TestManagerReconnectsAfterHeartbeatFailure(t *testing.T) {
	s := New()
	if err := s.Add(Device{ID: leftAddr, Role: vr.RoleLeftHand, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var links []*fakeLink
	rm := NewRuntimeManager(func() Link {
		mu.Lock()
		defer mu.Unlock()
		l := &fakeLink{}
		if len(links) == 0 {
			l.sendErr = errors.New("link lost")
		}
		links = append(links, l)
		return l
	}, Options{
		PollInterval:      5 * time.Millisecond,
		ReconnectDelay:    5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		Logger:            quiet,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rm.Run(ctx, s)

	waitFor(t, "second link", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(links) >= 2 && links[1].Ready()
	})
	waitFor(t, "left online again", func() bool { return s.IndexFor(vr.RoleLeftHand) == 1 })
	cancel()
	rm.Wait()
}

func TestManagerDialsConfiguredAddress(t *testing.T) {
	uuid := "f1e2d3c4-b5a6-4978-8a9b-0c1d2e3f4a5b"
	s := New()
	if err := s.Add(Device{Addr: uuid, Role: vr.RoleLeftHand, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	dialed := make(chan string, 1)
	rm := NewRuntimeManager(func() Link {
		return &recordingLink{dialed: dialed}
	}, Options{
		PollInterval:      5 * time.Millisecond,
		ReconnectDelay:    5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		Logger:            quiet,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rm.Run(ctx, s)

	select {
	case got := <-dialed:
		if got != uuid {
			t.Errorf("ConnectDevice(%q), want the configured address %q", got, uuid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manager never dialed the device")
	}
	waitFor(t, "left online", func() bool { return s.IndexFor(vr.RoleLeftHand) == 1 })
	cancel()
	rm.Wait()
}

// recordingLink reports the first address it is asked to dial.
type recordingLink struct {
	fakeLink
	dialed chan string
}

func (r *recordingLink) ConnectDevice(addr string) error {
	select {
	case r.dialed <- addr:
	default:
	}
	return r.fakeLink.ConnectDevice(addr)
}
