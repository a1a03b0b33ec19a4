package call

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamhub-backend/internal/domain"
	"teamhub-backend/pkg/constants"
	"teamhub-backend/pkg/logger"
	"teamhub-backend/pkg/metrics"
)

// CallRepository interface for call session storage. Implementations must
// make each state transition atomic per call id (see the cockroach repo).
type CallRepository interface {
	CreateActive(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	AddParticipant(ctx context.Context, callID, userID uuid.UUID) error
	LeaveAndMaybeEnd(ctx context.Context, callID, userID uuid.UUID) (bool, error)
	EndActive(ctx context.Context, callID uuid.UUID) error
	GetActiveParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipantDetail, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error)
}

// ConversationRepository interface for membership and metadata lookups
type ConversationRepository interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
}

// UserRepository interface for user display attributes
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Service is the call lifecycle manager. It is the sole writer of call and
// call participant rows, and it pushes lifecycle notifications through the
// injected room fabric.
type Service struct {
	callRepo         CallRepository
	conversationRepo ConversationRepository
	userRepo         UserRepository
	guard            *Guard
	fabric           RoomFabric
	metrics          *metrics.Metrics
}

// NewService creates a new call service. metrics may be nil.
func NewService(
	callRepo CallRepository,
	conversationRepo ConversationRepository,
	userRepo UserRepository,
	fabric RoomFabric,
	m *metrics.Metrics,
) *Service {
	return &Service{
		callRepo:         callRepo,
		conversationRepo: conversationRepo,
		userRepo:         userRepo,
		guard:            NewGuard(conversationRepo),
		fabric:           fabric,
		metrics:          m,
	}
}

// InitiateCallInput contains call initiation data
type InitiateCallInput struct {
	ConversationID uuid.UUID
	InitiatorID    uuid.UUID
	CallType       string
}

// InitiateCallOutput contains the created call session
type InitiateCallOutput struct {
	Call   *domain.Call `json:"call"`
	RoomID string       `json:"room_id"`
}

// InitiateCall starts a new call in a conversation and auto-joins the
// initiator. Every other conversation member is notified on their
// personal room. Fails with domain.ActiveCallError when the conversation
// already has an active call.
func (s *Service) InitiateCall(ctx context.Context, input *InitiateCallInput) (*InitiateCallOutput, error) {
	if !domain.ValidateCallType(input.CallType) {
		return nil, domain.ErrInvalidCallType
	}

	if err := s.guard.Authorize(ctx, input.ConversationID, input.InitiatorID); err != nil {
		return nil, err
	}

	call := &domain.Call{
		CallID:         uuid.New(),
		ConversationID: input.ConversationID,
		InitiatorID:    input.InitiatorID,
		CallType:       input.CallType,
		Status:         domain.CallStatusActive,
		StartedAt:      time.Now(),
	}

	if err := s.callRepo.CreateActive(ctx, call); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordCallStarted(call.CallType)
	}

	s.notifyConversation(ctx, call)

	return &InitiateCallOutput{
		Call:   call,
		RoomID: domain.CallRoom(call.CallID),
	}, nil
}

// notifyConversation emits incomingCall to every conversation member
// except the initiator, on their personal rooms.
func (s *Service) notifyConversation(ctx context.Context, call *domain.Call) {
	initiator, err := s.userRepo.GetByID(ctx, call.InitiatorID)
	if err != nil {
		logger.Warn("Failed to load call initiator for notification",
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
		return
	}

	members, err := s.conversationRepo.GetParticipants(ctx, call.ConversationID)
	if err != nil {
		logger.Warn("Failed to load conversation members for notification",
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
		return
	}

	// Best effort: the notification still goes out without the name
	var conversationName *string
	if conversation, err := s.conversationRepo.GetByID(ctx, call.ConversationID); err == nil {
		conversationName = conversation.Name
	} else {
		logger.Warn("Failed to load conversation for notification",
			zap.String("call_id", call.CallID.String()),
			zap.Error(err))
	}

	payload := &domain.IncomingCallPayload{
		CallID:           call.CallID,
		ConversationID:   call.ConversationID,
		ConversationName: conversationName,
		InitiatorID:      call.InitiatorID,
		InitiatorName:    initiator.FullName(),
		CallType:         call.CallType,
	}

	for _, memberID := range members {
		if memberID == call.InitiatorID {
			continue
		}
		if err := s.fabric.EmitToUser(ctx, memberID, domain.EventIncomingCall, payload); err != nil {
			logger.Warn("Failed to deliver incoming call notification",
				zap.String("call_id", call.CallID.String()),
				zap.String("user_id", memberID.String()),
				zap.Error(err))
		}
	}
}

// JoinCallOutput contains the joined call session
type JoinCallOutput struct {
	CallID uuid.UUID `json:"call_id"`
	RoomID string    `json:"room_id"`
}

// JoinCall adds a user to an active call and announces the join to the
// call room.
func (s *Service) JoinCall(ctx context.Context, callID, userID uuid.UUID) (*JoinCallOutput, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsActive() {
		return nil, domain.ErrCallEnded
	}

	if err := s.guard.Authorize(ctx, call.ConversationID, userID); err != nil {
		return nil, err
	}

	if err := s.callRepo.AddParticipant(ctx, callID, userID); err != nil {
		return nil, err
	}

	s.emitPresence(ctx, callID, userID, domain.EventUserJoinedCall)

	return &JoinCallOutput{
		CallID: callID,
		RoomID: domain.CallRoom(callID),
	}, nil
}

// AuthorizeRoom reports whether a user may attach their socket to a
// call's room. Conversation membership is enough: the initiator is
// auto-joined before their socket attaches, and a user who joined over
// HTTP subscribes afterwards, so this check must not require (or create)
// a participant row.
func (s *Service) AuthorizeRoom(ctx context.Context, callID, userID uuid.UUID) error {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	if !call.IsActive() {
		return domain.ErrCallEnded
	}

	return s.guard.Authorize(ctx, call.ConversationID, userID)
}

// LeaveCall removes a user from an active call. When the last participant
// leaves, the call transitions to ended in the same store operation and a
// callEnded event is emitted with the leaver as endedBy.
func (s *Service) LeaveCall(ctx context.Context, callID, userID uuid.UUID) error {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	if !call.IsActive() {
		return domain.ErrCallEnded
	}

	ended, err := s.callRepo.LeaveAndMaybeEnd(ctx, callID, userID)
	if err != nil {
		return err
	}

	s.emitPresence(ctx, callID, userID, domain.EventUserLeftCall)

	if ended {
		if s.metrics != nil {
			s.metrics.RecordCallEnded("last_leave", time.Since(call.StartedAt))
		}
		s.emitCallEnded(ctx, callID, userID)
	}

	return nil
}

// EndCall terminates an active call. Only the initiator may end a call;
// every open participant row is closed out atomically.
func (s *Service) EndCall(ctx context.Context, callID, userID uuid.UUID) error {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	if call.InitiatorID != userID {
		return domain.ErrNotInitiator
	}
	if !call.IsActive() {
		return domain.ErrCallEnded
	}

	if err := s.callRepo.EndActive(ctx, callID); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordCallEnded("initiator", time.Since(call.StartedAt))
	}

	s.emitCallEnded(ctx, callID, userID)

	return nil
}

// GetCallParticipants lists the users currently in an active call
func (s *Service) GetCallParticipants(ctx context.Context, callID, userID uuid.UUID) ([]*domain.CallParticipantDetail, error) {
	call, err := s.callRepo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.IsActive() {
		return nil, domain.ErrCallEnded
	}

	if err := s.guard.Authorize(ctx, call.ConversationID, userID); err != nil {
		return nil, err
	}

	participants, err := s.callRepo.GetActiveParticipants(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get call participants: %w", err)
	}

	return participants, nil
}

// GetCallHistory retrieves a user's call history, newest first
func (s *Service) GetCallHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	return s.callRepo.GetUserCalls(ctx, userID, limit, offset)
}

func (s *Service) emitPresence(ctx context.Context, callID, userID uuid.UUID, event string) {
	payload := &domain.CallPresencePayload{
		CallID:   callID,
		UserID:   userID,
		UserName: s.lookupName(ctx, userID),
	}
	if err := s.fabric.EmitToRoom(ctx, domain.CallRoom(callID), event, payload); err != nil {
		logger.Warn("Failed to emit call presence event",
			zap.String("call_id", callID.String()),
			zap.String("event", event),
			zap.Error(err))
	}
}

func (s *Service) emitCallEnded(ctx context.Context, callID, endedBy uuid.UUID) {
	payload := &domain.CallEndedPayload{
		CallID:      callID,
		EndedBy:     endedBy,
		EndedByName: s.lookupName(ctx, endedBy),
	}
	if err := s.fabric.EmitToRoom(ctx, domain.CallRoom(callID), domain.EventCallEnded, payload); err != nil {
		logger.Warn("Failed to emit call ended event",
			zap.String("call_id", callID.String()),
			zap.Error(err))
	}
}

// lookupName resolves a user's display name for event payloads; events
// still fire with an empty name when the lookup fails.
func (s *Service) lookupName(ctx context.Context, userID uuid.UUID) string {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		logger.Warn("Failed to resolve user name for event",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return ""
	}
	return user.FullName()
}
