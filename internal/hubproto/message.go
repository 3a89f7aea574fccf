// Package hubproto is the JSON envelope spoken on /notificationHub.
package hubproto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/roomsync/internal/domain"
)

type Type string

// client -> server
const (
	TypeJoinRoom     Type = "join_room"
	TypeLeaveRoom    Type = "leave_room"
	TypeRoomsUpdated Type = "rooms_updated"
	TypeRoomUpdated  Type = "room_updated"
	TypePing         Type = "ping"
)

// server -> client; rooms_updated and room_updated travel both ways.
const (
	TypePong  Type = "pong"
	TypeError Type = "error"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMissingRoom = errors.New("room required")
)

// Message is one frame. Room is null for a global rooms_updated.
type Message struct {
	Type    Type            `json:"type"`
	Room    *domain.RoomSID `json:"room"`
	Changed bool            `json:"changed"`
	Error   string          `json:"error,omitempty"`
}

func roomPtr(sid domain.RoomSID) *domain.RoomSID {
	if sid == "" {
		return nil
	}
	return &sid
}

func JoinRoom(sid domain.RoomSID) Message  { return Message{Type: TypeJoinRoom, Room: roomPtr(sid)} }
func LeaveRoom(sid domain.RoomSID) Message { return Message{Type: TypeLeaveRoom, Room: roomPtr(sid)} }
func Ping() Message                        { return Message{Type: TypePing} }
func Pong() Message                        { return Message{Type: TypePong} }
func Error(msg string) Message             { return Message{Type: TypeError, Error: msg} }

// RoomsUpdated is scoped to sid; an empty sid means every room.
func RoomsUpdated(sid domain.RoomSID, changed bool) Message {
	return Message{Type: TypeRoomsUpdated, Room: roomPtr(sid), Changed: changed}
}

func RoomUpdated(sid domain.RoomSID, changed bool) Message {
	return Message{Type: TypeRoomUpdated, Room: roomPtr(sid), Changed: changed}
}

// RoomSID returns the room the message is scoped to.
func (m Message) RoomSID() (domain.RoomSID, bool) {
	if m.Room == nil || *m.Room == "" {
		return "", false
	}
	return *m.Room, true
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses one frame and checks that room-scoped types carry a room.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	switch m.Type {
	case TypeJoinRoom, TypeLeaveRoom, TypeRoomUpdated:
		if _, ok := m.RoomSID(); !ok {
			return m, fmt.Errorf("%s: %w", m.Type, ErrMissingRoom)
		}
	case TypeRoomsUpdated, TypePing, TypePong, TypeError:
	default:
		return m, fmt.Errorf("%q: %w", m.Type, ErrUnknownType)
	}
	return m, nil
}
