package domain

import (
	"time"

	"github.com/google/uuid"
)

// Real-time event names emitted by the call service.
const (
	EventIncomingCall   = "incomingCall"
	EventUserJoinedCall = "userJoinedCall"
	EventUserLeftCall   = "userLeftCall"
	EventCallEnded      = "callEnded"
)

// WebRTC signaling relay kinds. Payloads are passed through verbatim.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
)

// RoomEvent is the envelope published on the room fabric. The Redis
// publisher and the WebSocket hub agree on this shape.
type RoomEvent struct {
	Room      string      `json:"room"`
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// IncomingCallPayload notifies a conversation member about a new call on
// their personal room.
type IncomingCallPayload struct {
	CallID           uuid.UUID `json:"call_id"`
	ConversationID   uuid.UUID `json:"conversation_id"`
	ConversationName *string   `json:"conversation_name,omitempty"`
	InitiatorID      uuid.UUID `json:"initiator_id"`
	InitiatorName    string    `json:"initiator_name"`
	CallType         string    `json:"call_type"`
}

// CallPresencePayload announces a join or leave to the call room.
type CallPresencePayload struct {
	CallID   uuid.UUID `json:"call_id"`
	UserID   uuid.UUID `json:"user_id"`
	UserName string    `json:"user_name"`
}

// CallEndedPayload announces call termination to the call room.
type CallEndedPayload struct {
	CallID      uuid.UUID `json:"call_id"`
	EndedBy     uuid.UUID `json:"ended_by"`
	EndedByName string    `json:"ended_by_name"`
}
