package domain

import (
	"time"

	"github.com/google/uuid"
)

// Conversation represents chat conversation metadata.
// Maps to the conversations table. The call service consults
// conversations for access control only; the chat service owns them.
type Conversation struct {
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	Name           *string    `json:"name,omitempty" db:"name"`
	Type           string     `json:"type" db:"type"` // direct, group
	TeamID         *uuid.UUID `json:"team_id,omitempty" db:"team_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// ConversationParticipant represents a user's membership in a conversation.
// Maps to the conversation_participants table. Membership here is the
// authorization boundary for all call operations.
type ConversationParticipant struct {
	ConversationID uuid.UUID `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID `json:"user_id" db:"user_id"`
	JoinedAt       time.Time `json:"joined_at" db:"joined_at"`
}
