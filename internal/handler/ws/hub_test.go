package ws

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"teamhub-backend/internal/domain"
	"teamhub-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

// stubAuthorizer answers every room authorization with a fixed error.
type stubAuthorizer struct {
	err error
}

func (s *stubAuthorizer) AuthorizeRoom(ctx context.Context, callID, userID uuid.UUID) error {
	return s.err
}

func newTestHub() *Hub {
	// The address is never reachable; per-room subscriptions fail their
	// initial receive and exit, which is all these tests need.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	return NewHub(client, nil, nil)
}

func newTestClient(hub *Hub, authorizer RoomAuthorizer) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		send:   make(chan []byte, 16),
		userID: uuid.New(),
		calls:  authorizer,
		rooms:  make(map[string]bool),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (h *Hub) inRoom(room string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[room][c]
}

func receiveFrame(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.send:
		var frame map[string]interface{}
		assert.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("expected a frame on the client send channel")
		return nil
	}
}

// A user whose participant row already exists, like the initiator who is
// auto-joined at initiate time or someone who joined over HTTP first,
// must still get the room subscription and be able to signal.
func TestJoinCallSubscribesExistingParticipant(t *testing.T) {
	hub := newTestHub()
	callID := uuid.New()
	room := domain.CallRoom(callID)

	sender := newTestClient(hub, &stubAuthorizer{})
	receiver := newTestClient(hub, &stubAuthorizer{})

	sender.handleMessage(&ClientMessage{Type: ActionJoinCall, CallID: callID})
	receiver.handleMessage(&ClientMessage{Type: ActionJoinCall, CallID: callID})

	assert.Eventually(t, func() bool {
		return hub.inRoom(room, sender) && hub.inRoom(room, receiver)
	}, time.Second, 10*time.Millisecond)

	sender.handleMessage(&ClientMessage{
		Type:   domain.SignalOffer,
		CallID: callID,
		SDP:    "v=0",
	})

	frame := receiveFrame(t, receiver)
	assert.Equal(t, domain.SignalOffer, frame["type"])
	assert.Equal(t, sender.userID.String(), frame["sender_id"])
	assert.Equal(t, "v=0", frame["sdp"])

	// The sender never receives its own signal back
	select {
	case data := <-sender.send:
		t.Fatalf("sender received its own frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestJoinCallNotAuthorized(t *testing.T) {
	hub := newTestHub()
	callID := uuid.New()

	client := newTestClient(hub, &stubAuthorizer{err: domain.ErrConversationNotFound})
	client.handleMessage(&ClientMessage{Type: ActionJoinCall, CallID: callID})

	frame := receiveFrame(t, client)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, ActionJoinCall, frame["action"])
	assert.False(t, hub.inRoom(domain.CallRoom(callID), client))
}

// leaveCall drops the subscription without consulting the lifecycle
// manager, so a client who already left over HTTP can still unsubscribe.
func TestLeaveCallAfterLifecycleLeave(t *testing.T) {
	hub := newTestHub()
	callID := uuid.New()
	room := domain.CallRoom(callID)

	client := newTestClient(hub, &stubAuthorizer{})
	client.handleMessage(&ClientMessage{Type: ActionJoinCall, CallID: callID})

	assert.Eventually(t, func() bool {
		return hub.inRoom(room, client)
	}, time.Second, 10*time.Millisecond)

	client.handleMessage(&ClientMessage{Type: ActionLeaveCall, CallID: callID})

	assert.Eventually(t, func() bool {
		return !hub.inRoom(room, client)
	}, time.Second, 10*time.Millisecond)

	// No error frame for leaving a call the lifecycle already closed
	select {
	case data := <-client.send:
		t.Fatalf("unexpected frame after leave: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRelayRequiresSubscription(t *testing.T) {
	hub := newTestHub()
	callID := uuid.New()

	client := newTestClient(hub, &stubAuthorizer{})
	client.handleMessage(&ClientMessage{
		Type:   domain.SignalOffer,
		CallID: callID,
		SDP:    "v=0",
	})

	frame := receiveFrame(t, client)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, domain.SignalOffer, frame["action"])
}
