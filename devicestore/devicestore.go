package devicestore

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/danwillm/openvr-haptics-tester/util"
	"github.com/danwillm/openvr-haptics-tester/vr"
)

var ErrOffline = errors.New("device offline")

// Link is one connection to a haptic device. *blemanager.BLEManager
// implements it.
type Link interface {
	ConnectDevice(addr string) error
	Send(data string) error
	Ready() bool
	Disconnect()
}

// Device binds a haptic device to a controller role. Addr is the address as
// configured and is what gets dialed; ID is its normalized form for matching.
type Device struct {
	ID      string
	Addr    string
	Name    string
	Role    vr.ControllerRole
	Enabled bool

	// Runtime-only
	Online bool
	Index  vr.TrackedDeviceIndex
	link   Link
}

// DeviceStore manages device bindings with thread safety
type DeviceStore struct {
	mu      sync.Mutex
	devices []*Device
}

// New creates an empty DeviceStore
func New() *DeviceStore {
	return &DeviceStore{devices: []*Device{}}
}

// Add registers dev. The ID is normalized; duplicates of an existing ID or
// role are rejected.
func (s *DeviceStore) Add(dev Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dev.Addr == "" {
		dev.Addr = strings.TrimSpace(dev.ID)
	}
	dev.ID = util.NormalizeDeviceID(dev.Addr)
	for _, d := range s.devices {
		if d.ID == dev.ID {
			return fmt.Errorf("device %s already added", dev.ID)
		}
		if d.Role == dev.Role {
			return fmt.Errorf("%s hand already bound to %s", dev.Role, d.ID)
		}
	}
	if dev.Name == "" {
		dev.Name = "Device " + s.nextLetterUnlocked()
	}
	dev.Online = false
	dev.Index = vr.TrackedDeviceIndexInvalid
	dev.link = nil
	s.devices = append(s.devices, &dev)
	return nil
}

// All returns a snapshot of all devices (thread-safe)
func (s *DeviceStore) All() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, len(s.devices))
	for i, d := range s.devices {
		out[i] = *d
		out[i].link = nil
	}
	return out
}

// IndexFor returns the tracked index of the online device bound to role.
func (s *DeviceStore) IndexFor(role vr.ControllerRole) vr.TrackedDeviceIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.Role == role && d.Online {
			return d.Index
		}
	}
	return vr.TrackedDeviceIndexInvalid
}

// SendTo writes data to the online device tracked at index.
func (s *DeviceStore) SendTo(index vr.TrackedDeviceIndex, data string) error {
	s.mu.Lock()
	var link Link
	for _, d := range s.devices {
		if d.Online && d.Index == index {
			link = d.link
			break
		}
	}
	s.mu.Unlock()

	if link == nil {
		return ErrOffline
	}
	return link.Send(data)
}

// DisconnectAll drops every link and marks all devices offline.
func (s *DeviceStore) DisconnectAll() {
	s.mu.Lock()
	var links []Link
	for _, d := range s.devices {
		if d.link != nil {
			links = append(links, d.link)
		}
		d.link = nil
		d.Online = false
		d.Index = vr.TrackedDeviceIndexInvalid
	}
	s.mu.Unlock()

	for _, l := range links {
		l.Disconnect()
	}
}

func (s *DeviceStore) SetLink(id string, link Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev := s.findUnlocked(id); dev != nil {
		dev.link = link
	}
}

// SetOnline marks a device online at its role's index, or offline.
func (s *DeviceStore) SetOnline(id string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dev := s.findUnlocked(id)
	if dev == nil {
		return
	}
	dev.Online = online
	if online {
		dev.Index = indexForRole(dev.Role)
	} else {
		dev.Index = vr.TrackedDeviceIndexInvalid
		dev.link = nil
	}
}

func (s *DeviceStore) IsEnabled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dev := s.findUnlocked(id); dev != nil {
		return dev.Enabled
	}
	return false
}

func (s *DeviceStore) findUnlocked(id string) *Device {
	for _, d := range s.devices {
		if util.SameDevice(d.ID, id) {
			return d
		}
	}
	return nil
}

// Assigns a unique display name like "Device A", "Device B", etc.
func (s *DeviceStore) nextLetterUnlocked() string {
	for i := 0; i < 26; i++ { // A-Z
		letter := fmt.Sprintf("%c", 'A'+i)
		taken := false
		for _, d := range s.devices {
			if d.Name == "Device "+letter {
				taken = true
				break
			}
		}
		if !taken {
			return letter
		}
	}
	return fmt.Sprintf("%d", len(s.devices)+1)
}

// Tracked indices follow the simulator and OSC bridge defaults.
func indexForRole(role vr.ControllerRole) vr.TrackedDeviceIndex {
	switch role {
	case vr.RoleLeftHand:
		return 1
	case vr.RoleRightHand:
		return 2
	}
	return vr.TrackedDeviceIndexInvalid
}
