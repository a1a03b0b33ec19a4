package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"teamhub-backend/internal/domain"
)

// RoomFabric delivers real-time events to named rooms of live connections.
// It is a best-effort notification side channel, not a source of truth for
// call membership.
type RoomFabric interface {
	EmitToRoom(ctx context.Context, room, event string, payload interface{}) error
	EmitToUser(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error
}

// RoomChannel returns the Redis Pub/Sub channel carrying events for a room.
func RoomChannel(room string) string {
	return "room:" + room
}

// RedisFabric publishes room events over Redis Pub/Sub. The WebSocket hub
// subscribes to the per-room channels and fans events out to its local
// connections, so this works across service instances.
type RedisFabric struct {
	Client *redis.Client
}

// NewRedisFabric creates a Redis-backed room fabric
func NewRedisFabric(client *redis.Client) *RedisFabric {
	return &RedisFabric{Client: client}
}

// EmitToRoom publishes an event to every connection in a room
func (f *RedisFabric) EmitToRoom(ctx context.Context, room, event string, payload interface{}) error {
	envelope := &domain.RoomEvent{
		Room:      room,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal room event: %w", err)
	}

	if err := f.Client.Publish(ctx, RoomChannel(room), data).Err(); err != nil {
		return fmt.Errorf("failed to publish room event: %w", err)
	}

	return nil
}

// EmitToUser publishes an event to a user's personal room
func (f *RedisFabric) EmitToUser(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error {
	return f.EmitToRoom(ctx, domain.UserRoom(userID), event, payload)
}
