package user

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamhub-backend/pkg/response"
)

// PresenceReader answers whether a user currently holds a live connection
type PresenceReader interface {
	IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Handler handles user HTTP requests
type Handler struct {
	presence PresenceReader
}

// NewHandler creates a new user handler
func NewHandler(presence PresenceReader) *Handler {
	return &Handler{
		presence: presence,
	}
}

// GetPresence reports whether a user is currently online
// GET /v1/users/:user_id/presence
func (h *Handler) GetPresence(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	online, err := h.presence.IsUserOnline(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, "Failed to get presence")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user_id": userID,
		"online":  online,
	})
}
