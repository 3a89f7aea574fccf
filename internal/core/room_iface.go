package core

import (
	"context"

	"github.com/dkeye/roomsync/internal/domain"
)

// TokenSource issues short-lived media-network credentials for one identity.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// DirectoryService is the server-side room query API.
type DirectoryService interface {
	ListRooms(ctx context.Context) ([]domain.RoomSummary, error)
	// GetRoom returns the same shape as ListRooms filtered to sid; empty when the room is gone.
	GetRoom(ctx context.Context, sid domain.RoomSID) ([]domain.RoomSummary, error)
}
