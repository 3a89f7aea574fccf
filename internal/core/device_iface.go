package core

import (
	"context"
	"errors"

	"github.com/dkeye/roomsync/internal/domain"
)

// ErrPermissionQueryUnsupported is returned by platforms that cannot report
// permission state. Callers treat it as granted.
var ErrPermissionQueryUnsupported = errors.New("permission query unsupported")

type PlatformEventKind int

const (
	DevicesChanged PlatformEventKind = iota
	PermissionChanged
)

type PlatformEvent struct {
	Kind       PlatformEventKind
	Permission domain.PermissionState
}

// DevicePlatform is the host's media-device capability.
type DevicePlatform interface {
	// Supported is false when the host has no media-device capability at all.
	Supported() bool
	// EnumerateDevices may withhold labels until permission is granted.
	EnumerateDevices(ctx context.Context) ([]domain.Device, error)
	QueryPermission(ctx context.Context) (domain.PermissionState, error)
	// Watch streams topology and permission changes until ctx is done.
	Watch(ctx context.Context) (<-chan PlatformEvent, error)
}
