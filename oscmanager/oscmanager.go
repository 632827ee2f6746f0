// Package oscmanager drives haptics through an OSC bridge that owns the VR
// runtime. Triggers go out as OSC messages; the bridge can report which
// controllers are connected back to an optional listener.
package oscmanager

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/danwillm/openvr-haptics-tester/vr"
	"github.com/hypebeast/go-osc/osc"
)

// sender is the part of *osc.Client the manager uses.
type sender interface {
	Send(packet osc.Packet) error
}

// OSCManager implements vr.Runtime on top of an OSC bridge.
type OSCManager struct {
	Addr   string
	Listen string
	prefix string
	client sender
	logger *log.Logger

	mu      sync.Mutex
	names   map[uint64]string
	handles map[string]uint64
	next    uint64
	tracked map[vr.ControllerRole]vr.TrackedDeviceIndex

	conn net.PacketConn
	wg   sync.WaitGroup
}

// New creates a manager sending to addr. When listen is non-empty, Run must be
// called to receive device presence updates; until the bridge reports a
// device its role is untracked. Without a listener the left and right hands
// sit at fixed indices 1 and 2.
func New(addr, listen, prefix string, logger *log.Logger) (*OSCManager, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, vr.NewInitError(vr.InitErrorInvalidConfig, fmt.Errorf("osc bridge address %q: %w", addr, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, vr.NewInitError(vr.InitErrorInvalidConfig, fmt.Errorf("osc bridge port %q is invalid", portStr))
	}
	if logger == nil {
		logger = log.Default()
	}
	return newManager(addr, listen, prefix, osc.NewClient(host, port), logger), nil
}

func newManager(addr, listen, prefix string, client sender, logger *log.Logger) *OSCManager {
	o := &OSCManager{
		Addr:    addr,
		Listen:  listen,
		prefix:  prefix,
		client:  client,
		logger:  logger,
		names:   make(map[uint64]string),
		handles: make(map[string]uint64),
		next:    1,
		tracked: make(map[vr.ControllerRole]vr.TrackedDeviceIndex),
	}
	if listen == "" {
		o.tracked[vr.RoleLeftHand] = 1
		o.tracked[vr.RoleRightHand] = 2
	}
	return o
}

// Start says hello to the bridge and, if configured, starts the presence
// listener. It is the runtime's init step.
func (o *OSCManager) Start() error {
	if err := o.client.Send(osc.NewMessage(o.path("hello"))); err != nil {
		return vr.NewInitError(vr.InitErrorIPCConnectFailed, err)
	}
	if o.Listen == "" {
		return nil
	}
	conn, err := net.ListenPacket("udp", o.Listen)
	if err != nil {
		return vr.NewInitError(vr.InitErrorIPCServerInitFailed, err)
	}
	o.conn = conn
	o.wg.Add(1)
	go o.Run()
	return nil
}

// Run serves presence updates until the listener is closed.
func (o *OSCManager) Run() {
	defer o.wg.Done()

	dispatcher := osc.NewStandardDispatcher()
	dispatcher.AddMsgHandler(o.path("device"), o.handleDevice)

	server := &osc.Server{
		Addr:       o.conn.LocalAddr().String(),
		Dispatcher: dispatcher,
	}

	o.logger.Printf("Listening for OSC device updates on %s...", server.Addr)
	if err := server.Serve(o.conn); err != nil {
		o.logger.Printf("osc listener stopped: %v", err)
	}
}

// ListenAddr returns the bound listener address, or "" if not listening.
func (o *OSCManager) ListenAddr() string {
	if o.conn == nil {
		return ""
	}
	return o.conn.LocalAddr().String()
}

// handleDevice applies "<prefix>/device role index". A negative index marks
// the role disconnected.
func (o *OSCManager) handleDevice(msg *osc.Message) {
	if len(msg.Arguments) < 2 {
		o.logger.Printf("osc: %s needs role and index, got %v", msg.Address, msg.Arguments)
		return
	}
	name, _ := msg.Arguments[0].(string)
	role := parseRole(name)
	if role == vr.RoleInvalid {
		o.logger.Printf("osc: unknown role %q", name)
		return
	}
	var index int64
	switch v := msg.Arguments[1].(type) {
	case int32:
		index = int64(v)
	case int64:
		index = v
	default:
		o.logger.Printf("osc: device index has type %T", msg.Arguments[1])
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if index < 0 {
		delete(o.tracked, role)
		o.logger.Printf("osc: %s controller disconnected", role)
		return
	}
	o.tracked[role] = vr.TrackedDeviceIndex(index)
	o.logger.Printf("osc: %s controller at index %d", role, index)
}

func parseRole(name string) vr.ControllerRole {
	switch name {
	case "left":
		return vr.RoleLeftHand
	case "right":
		return vr.RoleRightHand
	}
	return vr.RoleInvalid
}

func (o *OSCManager) path(name string) string {
	return o.prefix + "/" + name
}

func (o *OSCManager) handle(name string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.handles[name]; ok {
		return h
	}
	h := o.next
	o.next++
	o.handles[name] = h
	o.names[h] = name
	return h
}

func (o *OSCManager) name(h uint64) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, ok := o.names[h]
	return n, ok
}

func (o *OSCManager) send(msg *osc.Message) vr.InputError {
	if err := o.client.Send(msg); err != nil {
		o.logger.Printf("osc: send %s: %v", msg.Address, err)
		return vr.InputErrorIPCError
	}
	return vr.InputErrorNone
}

func (o *OSCManager) Input() vr.Input { return o }
func (o *OSCManager) System() vr.System { return o }

// Shutdown closes the presence listener and waits for it.
func (o *OSCManager) Shutdown() error {
	if o.conn == nil {
		return nil
	}
	err := o.conn.Close()
	o.wg.Wait()
	return err
}

func (o *OSCManager) SetActionManifestPath(path string) vr.InputError {
	return o.send(osc.NewMessage(o.path("manifest"), path))
}

func (o *OSCManager) GetActionSetHandle(name string) (vr.ActionSetHandle, vr.InputError) {
	return vr.ActionSetHandle(o.handle(name)), vr.InputErrorNone
}

func (o *OSCManager) GetActionHandle(name string) (vr.ActionHandle, vr.InputError) {
	return vr.ActionHandle(o.handle(name)), vr.InputErrorNone
}

func (o *OSCManager) GetInputSourceHandle(path string) (vr.InputValueHandle, vr.InputError) {
	return vr.InputValueHandle(o.handle(path)), vr.InputErrorNone
}

func (o *OSCManager) UpdateActionState(sets []vr.ActiveActionSet) vr.InputError {
	if len(sets) == 0 {
		return vr.InputErrorNoActiveActionSet
	}
	msg := osc.NewMessage(o.path("actionset"))
	for _, s := range sets {
		name, ok := o.name(uint64(s.ActionSet))
		if !ok {
			return vr.InputErrorInvalidHandle
		}
		msg.Append(name)
	}
	return o.send(msg)
}

func (o *OSCManager) TriggerHapticVibrationAction(action vr.ActionHandle, start, duration, frequency, amplitude float32, source vr.InputValueHandle) vr.InputError {
	if _, ok := o.name(uint64(action)); !ok {
		return vr.InputErrorInvalidHandle
	}
	sourcePath, ok := o.name(uint64(source))
	if !ok {
		return vr.InputErrorInvalidHandle
	}
	return o.send(osc.NewMessage(o.path("vibrate"), sourcePath, start, duration, frequency, amplitude))
}

func (o *OSCManager) TrackedDeviceIndexForControllerRole(role vr.ControllerRole) vr.TrackedDeviceIndex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if idx, ok := o.tracked[role]; ok {
		return idx
	}
	return vr.TrackedDeviceIndexInvalid
}

func (o *OSCManager) TriggerHapticPulse(device vr.TrackedDeviceIndex, axis uint32, micros uint16) {
	role, ok := o.roleAt(device)
	if !ok {
		return
	}
	o.send(osc.NewMessage(o.path("pulse"), role.String(), int32(axis), int32(micros)))
}

func (o *OSCManager) roleAt(device vr.TrackedDeviceIndex) (vr.ControllerRole, bool) {
	if device == vr.TrackedDeviceIndexInvalid {
		return vr.RoleInvalid, false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for role, idx := range o.tracked {
		if idx == device {
			return role, true
		}
	}
	return vr.RoleInvalid, false
}
