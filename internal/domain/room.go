// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const MaxRoomNameLen = 36

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

type (
	// RoomSID is the opaque, server-assigned stable id of a room.
	RoomSID string
	// RoomName is user chosen and not unique across time.
	RoomName string
)

// NewRoomName validates raw user input.
func NewRoomName(raw string) (RoomName, error) {
	if len(raw) == 0 {
		return "", ErrRoomNameEmpty
	}
	if len(raw) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return RoomName(raw), nil
}

// RoomSummary is a directory projection of a room, not a live object.
type RoomSummary struct {
	ID               RoomSID  `json:"id"`
	Name             RoomName `json:"name"`
	MaxParticipants  int      `json:"maxParticipants"`
	ParticipantCount int      `json:"participantCount"`
}
