package call

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"teamhub-backend/internal/domain"
)

// Guard is the access check applied before every call operation scoped to
// a conversation. Membership failures surface as ErrConversationNotFound
// rather than a forbidden response, so callers cannot discover
// conversations they do not belong to.
type Guard struct {
	conversationRepo ConversationRepository
}

// NewGuard creates a new access guard
func NewGuard(conversationRepo ConversationRepository) *Guard {
	return &Guard{conversationRepo: conversationRepo}
}

// Authorize returns nil when the user is a participant of the
// conversation, and domain.ErrConversationNotFound otherwise.
func (g *Guard) Authorize(ctx context.Context, conversationID, userID uuid.UUID) error {
	ok, err := g.conversationRepo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to check conversation membership: %w", err)
	}
	if !ok {
		return domain.ErrConversationNotFound
	}
	return nil
}
