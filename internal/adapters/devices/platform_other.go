//go:build !linux

package devices

import (
	"context"
	"errors"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

var errUnsupported = errors.New("media devices are only read on linux")

func defaultAccess(string, uint32) error { return errUnsupported }

func (p *Platform) Supported() bool { return false }

func (p *Platform) EnumerateDevices(context.Context) ([]domain.Device, error) {
	return nil, errUnsupported
}

func (p *Platform) QueryPermission(context.Context) (domain.PermissionState, error) {
	return "", core.ErrPermissionQueryUnsupported
}

func (p *Platform) Watch(context.Context) (<-chan core.PlatformEvent, error) {
	return nil, errUnsupported
}
