package call

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"teamhub-backend/internal/domain"
	"teamhub-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

// MockCallRepository is a mock implementation of CallRepository
type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) CreateActive(ctx context.Context, call *domain.Call) error {
	args := m.Called(ctx, call)
	return args.Error(0)
}

func (m *MockCallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Call), args.Error(1)
}

func (m *MockCallRepository) AddParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	args := m.Called(ctx, callID, userID)
	return args.Error(0)
}

func (m *MockCallRepository) LeaveAndMaybeEnd(ctx context.Context, callID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, callID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockCallRepository) EndActive(ctx context.Context, callID uuid.UUID) error {
	args := m.Called(ctx, callID)
	return args.Error(0)
}

func (m *MockCallRepository) GetActiveParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipantDetail, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.CallParticipantDetail), args.Error(1)
}

func (m *MockCallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Call), args.Error(1)
}

// MockConversationRepository is a mock implementation of ConversationRepository
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockConversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

// MockRoomFabric records emitted events
type MockRoomFabric struct {
	mock.Mock
}

func (m *MockRoomFabric) EmitToRoom(ctx context.Context, room, event string, payload interface{}) error {
	args := m.Called(ctx, room, event, payload)
	return args.Error(0)
}

func (m *MockRoomFabric) EmitToUser(ctx context.Context, userID uuid.UUID, event string, payload interface{}) error {
	args := m.Called(ctx, userID, event, payload)
	return args.Error(0)
}

type fixture struct {
	callRepo *MockCallRepository
	convRepo *MockConversationRepository
	userRepo *MockUserRepository
	fabric   *MockRoomFabric
	service  *Service
}

func newFixture() *fixture {
	f := &fixture{
		callRepo: new(MockCallRepository),
		convRepo: new(MockConversationRepository),
		userRepo: new(MockUserRepository),
		fabric:   new(MockRoomFabric),
	}
	f.service = NewService(f.callRepo, f.convRepo, f.userRepo, f.fabric, nil)
	return f
}

func testUser(userID uuid.UUID) *domain.User {
	return &domain.User{
		UserID:    userID,
		Email:     "alice@example.com",
		FirstName: "Alice",
		LastName:  "Nguyen",
	}
}

func activeCall(callID, conversationID, initiatorID uuid.UUID) *domain.Call {
	return &domain.Call{
		CallID:         callID,
		ConversationID: conversationID,
		InitiatorID:    initiatorID,
		CallType:       domain.CallTypeVideo,
		Status:         domain.CallStatusActive,
		StartedAt:      time.Now().Add(-time.Minute),
	}
}

func endedCall(callID, conversationID, initiatorID uuid.UUID) *domain.Call {
	c := activeCall(callID, conversationID, initiatorID)
	now := time.Now()
	c.Status = domain.CallStatusEnded
	c.EndedAt = &now
	return c
}

// TestInitiateCall covers the happy path: call created active, initiator
// auto-joined, every other member notified on their personal room.
func TestInitiateCall(t *testing.T) {
	f := newFixture()

	conversationID := uuid.New()
	initiatorID := uuid.New()
	memberID := uuid.New()

	conversationName := "Design team"
	conversation := &domain.Conversation{
		ConversationID: conversationID,
		Name:           &conversationName,
		Type:           "group",
	}

	f.convRepo.On("IsParticipant", mock.Anything, conversationID, initiatorID).Return(true, nil)
	f.callRepo.On("CreateActive", mock.Anything, mock.AnythingOfType("*domain.Call")).Return(nil)
	f.userRepo.On("GetByID", mock.Anything, initiatorID).Return(testUser(initiatorID), nil)
	f.convRepo.On("GetByID", mock.Anything, conversationID).Return(conversation, nil)
	f.convRepo.On("GetParticipants", mock.Anything, conversationID).Return([]uuid.UUID{initiatorID, memberID}, nil)
	f.fabric.On("EmitToUser", mock.Anything, memberID, domain.EventIncomingCall,
		mock.MatchedBy(func(payload interface{}) bool {
			p, ok := payload.(*domain.IncomingCallPayload)
			return ok && p.InitiatorName == "Alice Nguyen" &&
				p.ConversationName != nil && *p.ConversationName == conversationName
		})).Return(nil)

	output, err := f.service.InitiateCall(context.Background(), &InitiateCallInput{
		ConversationID: conversationID,
		InitiatorID:    initiatorID,
		CallType:       domain.CallTypeVideo,
	})

	assert.NoError(t, err)
	assert.NotNil(t, output)
	assert.Equal(t, domain.CallStatusActive, output.Call.Status)
	assert.Equal(t, domain.CallTypeVideo, output.Call.CallType)
	assert.Equal(t, conversationID, output.Call.ConversationID)
	assert.Equal(t, domain.CallRoom(output.Call.CallID), output.RoomID)

	f.callRepo.AssertExpectations(t)
	f.fabric.AssertExpectations(t)
	// The initiator must not receive their own incoming-call event
	f.fabric.AssertNotCalled(t, "EmitToUser", mock.Anything, initiatorID, domain.EventIncomingCall, mock.Anything)
}

// TestInitiateCall_ActiveCallExists verifies the conflict surfaces the
// existing call id so the client can join it instead.
func TestInitiateCall_ActiveCallExists(t *testing.T) {
	f := newFixture()

	conversationID := uuid.New()
	initiatorID := uuid.New()
	existingCallID := uuid.New()

	f.convRepo.On("IsParticipant", mock.Anything, conversationID, initiatorID).Return(true, nil)
	f.callRepo.On("CreateActive", mock.Anything, mock.Anything).
		Return(&domain.ActiveCallError{CallID: existingCallID})

	output, err := f.service.InitiateCall(context.Background(), &InitiateCallInput{
		ConversationID: conversationID,
		InitiatorID:    initiatorID,
		CallType:       domain.CallTypeAudio,
	})

	assert.Nil(t, output)
	var activeErr *domain.ActiveCallError
	assert.ErrorAs(t, err, &activeErr)
	assert.Equal(t, existingCallID, activeErr.CallID)
	f.fabric.AssertNotCalled(t, "EmitToUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiateCall_NotConversationMember(t *testing.T) {
	f := newFixture()

	conversationID := uuid.New()
	initiatorID := uuid.New()

	f.convRepo.On("IsParticipant", mock.Anything, conversationID, initiatorID).Return(false, nil)

	output, err := f.service.InitiateCall(context.Background(), &InitiateCallInput{
		ConversationID: conversationID,
		InitiatorID:    initiatorID,
		CallType:       domain.CallTypeVideo,
	})

	assert.Nil(t, output)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	f.callRepo.AssertNotCalled(t, "CreateActive", mock.Anything, mock.Anything)
}

func TestInitiateCall_InvalidType(t *testing.T) {
	f := newFixture()

	output, err := f.service.InitiateCall(context.Background(), &InitiateCallInput{
		ConversationID: uuid.New(),
		InitiatorID:    uuid.New(),
		CallType:       "hologram",
	})

	assert.Nil(t, output)
	assert.ErrorIs(t, err, domain.ErrInvalidCallType)
}

func TestJoinCall(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	conversationID := uuid.New()
	initiatorID := uuid.New()
	userID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, conversationID, initiatorID), nil)
	f.convRepo.On("IsParticipant", mock.Anything, conversationID, userID).Return(true, nil)
	f.callRepo.On("AddParticipant", mock.Anything, callID, userID).Return(nil)
	f.userRepo.On("GetByID", mock.Anything, userID).Return(testUser(userID), nil)
	f.fabric.On("EmitToRoom", mock.Anything, domain.CallRoom(callID), domain.EventUserJoinedCall, mock.Anything).Return(nil)

	output, err := f.service.JoinCall(context.Background(), callID, userID)

	assert.NoError(t, err)
	assert.Equal(t, callID, output.CallID)
	assert.Equal(t, domain.CallRoom(callID), output.RoomID)
	f.callRepo.AssertExpectations(t)
	f.fabric.AssertExpectations(t)
}

func TestJoinCall_CallEnded(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	userID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(endedCall(callID, uuid.New(), uuid.New()), nil)

	output, err := f.service.JoinCall(context.Background(), callID, userID)

	assert.Nil(t, output)
	assert.ErrorIs(t, err, domain.ErrCallEnded)
	f.callRepo.AssertNotCalled(t, "AddParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinCall_AlreadyJoined(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	conversationID := uuid.New()
	userID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, conversationID, uuid.New()), nil)
	f.convRepo.On("IsParticipant", mock.Anything, conversationID, userID).Return(true, nil)
	f.callRepo.On("AddParticipant", mock.Anything, callID, userID).Return(domain.ErrAlreadyInCall)

	output, err := f.service.JoinCall(context.Background(), callID, userID)

	assert.Nil(t, output)
	assert.ErrorIs(t, err, domain.ErrAlreadyInCall)
	f.fabric.AssertNotCalled(t, "EmitToRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinCall_NotConversationMember(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	conversationID := uuid.New()
	userID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, conversationID, uuid.New()), nil)
	f.convRepo.On("IsParticipant", mock.Anything, conversationID, userID).Return(false, nil)

	output, err := f.service.JoinCall(context.Background(), callID, userID)

	assert.Nil(t, output)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	f.callRepo.AssertNotCalled(t, "AddParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinCall_NotFound(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	f.callRepo.On("GetByID", mock.Anything, callID).Return(nil, domain.ErrCallNotFound)

	output, err := f.service.JoinCall(context.Background(), callID, uuid.New())

	assert.Nil(t, output)
	assert.ErrorIs(t, err, domain.ErrCallNotFound)
}

// TestLeaveCall verifies a non-final leave announces the departure but
// does not end the call.
func TestLeaveCall(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	userID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, uuid.New(), uuid.New()), nil)
	f.callRepo.On("LeaveAndMaybeEnd", mock.Anything, callID, userID).Return(false, nil)
	f.userRepo.On("GetByID", mock.Anything, userID).Return(testUser(userID), nil)
	f.fabric.On("EmitToRoom", mock.Anything, domain.CallRoom(callID), domain.EventUserLeftCall, mock.Anything).Return(nil)

	err := f.service.LeaveCall(context.Background(), callID, userID)

	assert.NoError(t, err)
	f.fabric.AssertNotCalled(t, "EmitToRoom", mock.Anything, domain.CallRoom(callID), domain.EventCallEnded, mock.Anything)
}

// TestLeaveCall_LastParticipant verifies the auto-end: the leave and the
// end are one store operation, and callEnded fires with the leaver as
// endedBy.
func TestLeaveCall_LastParticipant(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	userID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, uuid.New(), userID), nil)
	f.callRepo.On("LeaveAndMaybeEnd", mock.Anything, callID, userID).Return(true, nil)
	f.userRepo.On("GetByID", mock.Anything, userID).Return(testUser(userID), nil)
	f.fabric.On("EmitToRoom", mock.Anything, domain.CallRoom(callID), domain.EventUserLeftCall, mock.Anything).Return(nil)
	f.fabric.On("EmitToRoom", mock.Anything, domain.CallRoom(callID), domain.EventCallEnded,
		mock.MatchedBy(func(payload interface{}) bool {
			p, ok := payload.(*domain.CallEndedPayload)
			return ok && p.EndedBy == userID && p.CallID == callID
		})).Return(nil)

	err := f.service.LeaveCall(context.Background(), callID, userID)

	assert.NoError(t, err)
	f.fabric.AssertExpectations(t)
	f.callRepo.AssertNotCalled(t, "EndActive", mock.Anything, mock.Anything)
}

func TestLeaveCall_NotInCall(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	userID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, uuid.New(), uuid.New()), nil)
	f.callRepo.On("LeaveAndMaybeEnd", mock.Anything, callID, userID).Return(false, domain.ErrNotInCall)

	err := f.service.LeaveCall(context.Background(), callID, userID)

	assert.ErrorIs(t, err, domain.ErrNotInCall)
	f.fabric.AssertNotCalled(t, "EmitToRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLeaveCall_CallEnded(t *testing.T) {
	f := newFixture()

	callID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(endedCall(callID, uuid.New(), uuid.New()), nil)

	err := f.service.LeaveCall(context.Background(), callID, uuid.New())

	assert.ErrorIs(t, err, domain.ErrCallEnded)
	f.callRepo.AssertNotCalled(t, "LeaveAndMaybeEnd", mock.Anything, mock.Anything, mock.Anything)
}

func TestEndCall(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	initiatorID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, uuid.New(), initiatorID), nil)
	f.callRepo.On("EndActive", mock.Anything, callID).Return(nil)
	f.userRepo.On("GetByID", mock.Anything, initiatorID).Return(testUser(initiatorID), nil)
	f.fabric.On("EmitToRoom", mock.Anything, domain.CallRoom(callID), domain.EventCallEnded,
		mock.MatchedBy(func(payload interface{}) bool {
			p, ok := payload.(*domain.CallEndedPayload)
			return ok && p.EndedBy == initiatorID
		})).Return(nil)

	err := f.service.EndCall(context.Background(), callID, initiatorID)

	assert.NoError(t, err)
	f.callRepo.AssertExpectations(t)
	f.fabric.AssertExpectations(t)
}

// TestEndCall_NotInitiator verifies only the initiator may end a call and
// no state changes when someone else tries.
func TestEndCall_NotInitiator(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	initiatorID := uuid.New()
	otherID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, uuid.New(), initiatorID), nil)

	err := f.service.EndCall(context.Background(), callID, otherID)

	assert.ErrorIs(t, err, domain.ErrNotInitiator)
	f.callRepo.AssertNotCalled(t, "EndActive", mock.Anything, mock.Anything)
	f.fabric.AssertNotCalled(t, "EmitToRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEndCall_AlreadyEnded(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	initiatorID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(endedCall(callID, uuid.New(), initiatorID), nil)

	err := f.service.EndCall(context.Background(), callID, initiatorID)

	assert.ErrorIs(t, err, domain.ErrCallEnded)
	f.callRepo.AssertNotCalled(t, "EndActive", mock.Anything, mock.Anything)
}

func TestGetCallParticipants(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	conversationID := uuid.New()
	userID := uuid.New()
	otherID := uuid.New()

	details := []*domain.CallParticipantDetail{
		{UserID: userID, FirstName: "Alice", LastName: "Nguyen", Email: "alice@example.com", JoinedAt: time.Now()},
		{UserID: otherID, FirstName: "Bob", LastName: "Tran", Email: "bob@example.com", JoinedAt: time.Now()},
	}

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, conversationID, userID), nil)
	f.convRepo.On("IsParticipant", mock.Anything, conversationID, userID).Return(true, nil)
	f.callRepo.On("GetActiveParticipants", mock.Anything, callID).Return(details, nil)

	participants, err := f.service.GetCallParticipants(context.Background(), callID, userID)

	assert.NoError(t, err)
	assert.Len(t, participants, 2)
	assert.Equal(t, "alice@example.com", participants[0].Email)
}

// TestGetCallParticipants_CallEnded verifies an ended call never returns a
// stale participant list.
func TestGetCallParticipants_CallEnded(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	userID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(endedCall(callID, uuid.New(), uuid.New()), nil)

	participants, err := f.service.GetCallParticipants(context.Background(), callID, userID)

	assert.Nil(t, participants)
	assert.ErrorIs(t, err, domain.ErrCallEnded)
	f.callRepo.AssertNotCalled(t, "GetActiveParticipants", mock.Anything, mock.Anything)
}

func TestGetCallParticipants_NotConversationMember(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	conversationID := uuid.New()
	userID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, conversationID, uuid.New()), nil)
	f.convRepo.On("IsParticipant", mock.Anything, conversationID, userID).Return(false, nil)

	participants, err := f.service.GetCallParticipants(context.Background(), callID, userID)

	assert.Nil(t, participants)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	f.callRepo.AssertNotCalled(t, "GetActiveParticipants", mock.Anything, mock.Anything)
}

func TestGetCallHistory_DefaultsAndCap(t *testing.T) {
	f := newFixture()

	userID := uuid.New()
	calls := []*domain.Call{activeCall(uuid.New(), uuid.New(), userID)}

	f.callRepo.On("GetUserCalls", mock.Anything, userID, 20, 0).Return(calls, nil)
	f.callRepo.On("GetUserCalls", mock.Anything, userID, 100, 10).Return(calls, nil)

	result, err := f.service.GetCallHistory(context.Background(), userID, 0, -5)
	assert.NoError(t, err)
	assert.Len(t, result, 1)

	result, err = f.service.GetCallHistory(context.Background(), userID, 500, 10)
	assert.NoError(t, err)
	assert.Len(t, result, 1)

	f.callRepo.AssertExpectations(t)
}

// TestAuthorizeRoom verifies the socket subscription check passes on
// conversation membership alone and never touches participant rows, so
// the auto-joined initiator can attach after initiating.
func TestAuthorizeRoom(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	conversationID := uuid.New()
	initiatorID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, conversationID, initiatorID), nil)
	f.convRepo.On("IsParticipant", mock.Anything, conversationID, initiatorID).Return(true, nil)

	err := f.service.AuthorizeRoom(context.Background(), callID, initiatorID)

	assert.NoError(t, err)
	f.callRepo.AssertNotCalled(t, "AddParticipant", mock.Anything, mock.Anything, mock.Anything)
	f.callRepo.AssertNotCalled(t, "GetActiveParticipants", mock.Anything, mock.Anything)
}

func TestAuthorizeRoom_CallEnded(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	f.callRepo.On("GetByID", mock.Anything, callID).Return(endedCall(callID, uuid.New(), uuid.New()), nil)

	err := f.service.AuthorizeRoom(context.Background(), callID, uuid.New())

	assert.ErrorIs(t, err, domain.ErrCallEnded)
}

func TestAuthorizeRoom_NotConversationMember(t *testing.T) {
	f := newFixture()

	callID := uuid.New()
	conversationID := uuid.New()
	userID := uuid.New()

	f.callRepo.On("GetByID", mock.Anything, callID).Return(activeCall(callID, conversationID, uuid.New()), nil)
	f.convRepo.On("IsParticipant", mock.Anything, conversationID, userID).Return(false, nil)

	err := f.service.AuthorizeRoom(context.Background(), callID, userID)

	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestInitiateCall_GuardLookupFailure(t *testing.T) {
	f := newFixture()

	conversationID := uuid.New()
	initiatorID := uuid.New()

	f.convRepo.On("IsParticipant", mock.Anything, conversationID, initiatorID).
		Return(false, errors.New("connection refused"))

	output, err := f.service.InitiateCall(context.Background(), &InitiateCallInput{
		ConversationID: conversationID,
		InitiatorID:    initiatorID,
		CallType:       domain.CallTypeVideo,
	})

	assert.Nil(t, output)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrConversationNotFound)
}
