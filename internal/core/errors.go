package core

import (
	"errors"
	"fmt"

	"github.com/dkeye/roomsync/internal/domain"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrDeviceBusy       = errors.New("device busy")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoLocalTrack     = errors.New("no local track")
	ErrNotJoined        = errors.New("not joined")
	ErrJoinSuperseded   = errors.New("join superseded")
	ErrChannelClosed    = errors.New("channel closed")
)

// Platform reason names carried by DeviceAcquisitionError.
const (
	ReasonNotFound    = "NotFoundError"
	ReasonNotAllowed  = "NotAllowedError"
	ReasonNotReadable = "NotReadableError"
)

// DeviceAcquisitionError reports a device that could not be opened.
// The session that saw it stays in its previous state.
type DeviceAcquisitionError struct {
	Kind     domain.DeviceKind
	DeviceID string
	Reason   string
	Err      error
}

func (e *DeviceAcquisitionError) Error() string {
	msg := "device acquisition failed"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.DeviceID != "" {
		msg += fmt.Sprintf(" (%s %s)", e.Kind, e.DeviceID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceAcquisitionError) Unwrap() error { return e.Err }

// ReasonFor maps a sentinel to the platform reason name.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrPermissionDenied):
		return ReasonNotAllowed
	case errors.Is(err, ErrDeviceBusy):
		return ReasonNotReadable
	}
	return ""
}

// ConnectionError reports a failed media-network join. It is never retried automatically.
type ConnectionError struct {
	Room domain.RoomName
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %q: %s: %v", e.Room, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ChannelError reports an unreachable notification relay.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("notification channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// StateConflictError means an operation hit a transition it conflicts with.
// Seeing one indicates a caller bug.
type StateConflictError struct {
	Op    string
	State string
	Err   error
}

func (e *StateConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s in state %s: %v", e.Op, e.State, e.Err)
	}
	return fmt.Sprintf("%s in state %s", e.Op, e.State)
}

func (e *StateConflictError) Unwrap() error { return e.Err }
