package call

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"teamhub-backend/internal/domain"
	callsvc "teamhub-backend/internal/service/call"
	"teamhub-backend/pkg/response"
)

// Handler handles call HTTP requests
type Handler struct {
	callService *callsvc.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *callsvc.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,uuid"`
	CallType       string `json:"call_type" binding:"required,oneof=audio video"`
}

// InitiateCall handles starting a new call in a conversation
// POST /v1/calls
func (h *Handler) InitiateCall(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	output, err := h.callService.InitiateCall(c.Request.Context(), &callsvc.InitiateCallInput{
		ConversationID: conversationID,
		InitiatorID:    userID,
		CallType:       req.CallType,
	})

	if err != nil {
		var activeErr *domain.ActiveCallError
		switch {
		case errors.As(err, &activeErr):
			response.ErrorWithDetails(c, http.StatusBadRequest, "ACTIVE_CALL_EXISTS",
				"Conversation already has an active call",
				gin.H{"call_id": activeErr.CallID})
		case errors.Is(err, domain.ErrInvalidCallType):
			response.ValidationError(c, "Call type must be audio or video")
		case errors.Is(err, domain.ErrConversationNotFound):
			response.NotFound(c, "Conversation not found")
		default:
			response.InternalError(c, "Failed to initiate call")
		}
		return
	}

	response.Success(c, http.StatusCreated, output)
}

// JoinCall handles joining an active call
// POST /v1/calls/:call_id/join
func (h *Handler) JoinCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	output, err := h.callService.JoinCall(c.Request.Context(), callID, userID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCallNotFound):
			response.NotFound(c, "Call not found")
		case errors.Is(err, domain.ErrConversationNotFound):
			response.NotFound(c, "Conversation not found")
		case errors.Is(err, domain.ErrCallEnded):
			response.BadRequest(c, "CALL_ENDED", "Call has already ended")
		case errors.Is(err, domain.ErrAlreadyInCall):
			response.BadRequest(c, "ALREADY_IN_CALL", "You are already in this call")
		default:
			response.InternalError(c, "Failed to join call")
		}
		return
	}

	response.Success(c, http.StatusOK, output)
}

// LeaveCall handles leaving a call
// POST /v1/calls/:call_id/leave
func (h *Handler) LeaveCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.callService.LeaveCall(c.Request.Context(), callID, userID); err != nil {
		switch {
		case errors.Is(err, domain.ErrCallNotFound):
			response.NotFound(c, "Call not found")
		case errors.Is(err, domain.ErrCallEnded):
			response.BadRequest(c, "CALL_ENDED", "Call has already ended")
		case errors.Is(err, domain.ErrNotInCall):
			response.BadRequest(c, "NOT_IN_CALL", "You are not in this call")
		default:
			response.InternalError(c, "Failed to leave call")
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Left call successfully",
	})
}

// EndCall handles ending a call for everyone
// POST /v1/calls/:call_id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.callService.EndCall(c.Request.Context(), callID, userID); err != nil {
		switch {
		case errors.Is(err, domain.ErrCallNotFound):
			response.NotFound(c, "Call not found")
		case errors.Is(err, domain.ErrNotInitiator):
			response.Forbidden(c, "Only the call initiator can end this call")
		case errors.Is(err, domain.ErrCallEnded):
			response.BadRequest(c, "CALL_ENDED", "Call has already ended")
		default:
			response.InternalError(c, "Failed to end call")
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Call ended successfully",
	})
}

// GetParticipants handles listing the active participants of a call
// GET /v1/calls/:call_id/participants
func (h *Handler) GetParticipants(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	participants, err := h.callService.GetCallParticipants(c.Request.Context(), callID, userID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCallNotFound):
			response.NotFound(c, "Call not found")
		case errors.Is(err, domain.ErrConversationNotFound):
			response.NotFound(c, "Conversation not found")
		case errors.Is(err, domain.ErrCallEnded):
			response.BadRequest(c, "CALL_ENDED", "Call has already ended")
		default:
			response.InternalError(c, "Failed to get call participants")
		}
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"participants": participants,
		"count":        len(participants),
	})
}

// GetHistory handles retrieving the caller's call history
// GET /v1/calls/history?limit=20&offset=0
func (h *Handler) GetHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	calls, err := h.callService.GetCallHistory(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.InternalError(c, "Failed to get call history")
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": calls,
		"count": len(calls),
	})
}

// currentUserID extracts the authenticated user from the Gin context.
// Writes the error response itself when the principal is missing.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}

	return userID, true
}

func callIDParam(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("call_id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}
