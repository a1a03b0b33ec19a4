package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Call statuses. CallStatusMissed is declared in the schema for
// unanswered-call handling but no operation currently produces it.
const (
	CallStatusActive = "active"
	CallStatusEnded  = "ended"
	CallStatusMissed = "missed"
)

// Call types
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// Call represents an audio/video call within a conversation.
// Maps to the calls table. At most one call per conversation may be
// active at a time.
type Call struct {
	CallID         uuid.UUID  `json:"call_id" db:"call_id"`
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	InitiatorID    uuid.UUID  `json:"initiator_id" db:"initiator_id"`
	CallType       string     `json:"call_type" db:"call_type"`
	Status         string     `json:"status" db:"status"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// IsActive reports whether the call is still in progress.
func (c *Call) IsActive() bool {
	return c.Status == CallStatusActive
}

// CallParticipant represents a user's attendance in a call.
// Maps to the call_participants table. LeftAt == nil marks the user as
// currently in the call; rows are closed out when the user leaves, never
// deleted.
type CallParticipant struct {
	CallID   uuid.UUID  `json:"call_id" db:"call_id"`
	UserID   uuid.UUID  `json:"user_id" db:"user_id"`
	JoinedAt time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty" db:"left_at"`
}

// CallParticipantDetail is a participant row joined with user attributes,
// returned by the list-participants endpoint.
type CallParticipantDetail struct {
	UserID    uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	JoinedAt  time.Time `json:"join_time"`
}

// CallRoom returns the signaling room name for a call.
func CallRoom(callID uuid.UUID) string {
	return "call-" + callID.String()
}

// UserRoom returns the personal notification room name for a user.
func UserRoom(userID uuid.UUID) string {
	return "user-" + userID.String()
}

// ValidateCallType validates the call type.
func ValidateCallType(callType string) bool {
	return callType == CallTypeAudio || callType == CallTypeVideo
}

// Call-related errors
var (
	ErrCallNotFound         = NewError("CALL_NOT_FOUND", "Call not found")
	ErrCallEnded            = NewError("CALL_ENDED", "Call has already ended")
	ErrAlreadyInCall        = NewError("ALREADY_IN_CALL", "You have already joined this call")
	ErrNotInCall            = NewError("NOT_IN_CALL", "You are not currently in this call")
	ErrNotInitiator         = NewError("NOT_INITIATOR", "Only the call initiator can end this call")
	ErrConversationNotFound = NewError("CONVERSATION_NOT_FOUND", "Conversation not found or not accessible")
	ErrInvalidCallType      = NewError("INVALID_CALL_TYPE", "Call type must be audio or video")
)

// ActiveCallError is returned when a conversation already has an active
// call. It carries the existing call id so the client can join that call
// instead of retrying.
type ActiveCallError struct {
	CallID uuid.UUID
}

// Error implements the error interface
func (e *ActiveCallError) Error() string {
	return fmt.Sprintf("an active call already exists in this conversation: %s", e.CallID)
}
