package sdktest

import (
	"context"
	"sync"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

// Platform is a scriptable host media-device capability.
type Platform struct {
	mu          sync.Mutex
	unsupported bool
	devices     []domain.Device
	permission  domain.PermissionState
	permErr     error
	enumErr     error
	// blank counts the enumerations that still withhold labels.
	blank   int
	enums   int
	queries int

	events chan core.PlatformEvent
}

func NewPlatform(devices ...domain.Device) *Platform {
	return &Platform{
		devices:    devices,
		permission: domain.PermissionGranted,
		events:     make(chan core.PlatformEvent, 16),
	}
}

// Unsupported makes the platform report no media-device capability.
func (p *Platform) Unsupported() *Platform {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsupported = true
	return p
}

// BlankLabels makes the next n enumerations return devices without labels.
func (p *Platform) BlankLabels(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blank = n
}

// PermissionUnsupported makes QueryPermission fail like a platform without the API.
func (p *Platform) PermissionUnsupported() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permErr = core.ErrPermissionQueryUnsupported
}

func (p *Platform) FailEnumerate(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enumErr = err
}

func (p *Platform) Enumerations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enums
}

func (p *Platform) Queries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}

func (p *Platform) Supported() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unsupported
}

func (p *Platform) EnumerateDevices(ctx context.Context) ([]domain.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enums++
	if p.enumErr != nil {
		return nil, p.enumErr
	}
	out := make([]domain.Device, len(p.devices))
	copy(out, p.devices)
	if p.permission != domain.PermissionGranted || p.blank > 0 {
		for i := range out {
			out[i].Label = ""
		}
	}
	if p.blank > 0 {
		p.blank--
	}
	return out, nil
}

func (p *Platform) QueryPermission(ctx context.Context) (domain.PermissionState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries++
	if p.permErr != nil {
		return "", p.permErr
	}
	return p.permission, nil
}

func (p *Platform) Watch(ctx context.Context) (<-chan core.PlatformEvent, error) {
	return p.events, nil
}

// SetPermission changes the permission state and reports it.
func (p *Platform) SetPermission(state domain.PermissionState) {
	p.mu.Lock()
	p.permission = state
	p.mu.Unlock()
	p.events <- core.PlatformEvent{Kind: core.PermissionChanged, Permission: state}
}

// Plug adds a device and reports a topology change.
func (p *Platform) Plug(d domain.Device) {
	p.mu.Lock()
	p.devices = append(p.devices, d)
	p.mu.Unlock()
	p.events <- core.PlatformEvent{Kind: core.DevicesChanged}
}

// Unplug removes a device and reports a topology change.
func (p *Platform) Unplug(id string) {
	p.mu.Lock()
	for i, d := range p.devices {
		if d.ID == id {
			p.devices = append(p.devices[:i:i], p.devices[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	p.events <- core.PlatformEvent{Kind: core.DevicesChanged}
}

// SetPermissionQuietly changes the permission without an event, as a platform
// that only reports it when asked.
func (p *Platform) SetPermissionQuietly(state domain.PermissionState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permission = state
}
