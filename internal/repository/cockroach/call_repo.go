package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"teamhub-backend/internal/domain"
)

// CallRepository handles call data operations. All state transitions run
// inside transactions that lock the call row, so the per-call invariants
// (one active call per conversation, one open participant row per user)
// hold under concurrent requests.
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// CreateActive creates a new active call and its initiator participant row
// in one transaction. If the conversation already has an active call, it
// returns domain.ActiveCallError carrying the existing call id.
func (r *CallRepository) CreateActive(ctx context.Context, call *domain.Call) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Detects an existing active call. FOR UPDATE locks nothing when no
	// row matches, so two concurrent initiates can both pass this check;
	// the partial unique index on (conversation_id) WHERE status='active'
	// is the real serializer and the insert below maps its violation.
	var existingID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT call_id FROM calls
		WHERE conversation_id = $1 AND status = $2
		FOR UPDATE
	`, call.ConversationID, domain.CallStatusActive).Scan(&existingID)

	switch {
	case err == nil:
		return &domain.ActiveCallError{CallID: existingID}
	case errors.Is(err, pgx.ErrNoRows):
		// No active call, continue
	default:
		return fmt.Errorf("failed to check for active call: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO calls (call_id, conversation_id, initiator_id, call_type, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, call.CallID, call.ConversationID, call.InitiatorID, call.CallType, call.Status, call.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent initiate won the race between our existence
			// check and this insert. Re-read outside the aborted
			// transaction and surface the winner's call id.
			tx.Rollback(ctx)
			var winnerID uuid.UUID
			lookupErr := r.pool.QueryRow(ctx, `
				SELECT call_id FROM calls
				WHERE conversation_id = $1 AND status = $2
			`, call.ConversationID, domain.CallStatusActive).Scan(&winnerID)
			if lookupErr == nil {
				return &domain.ActiveCallError{CallID: winnerID}
			}
		}
		return fmt.Errorf("failed to create call: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO call_participants (call_id, user_id, joined_at)
		VALUES ($1, $2, $3)
	`, call.CallID, call.InitiatorID, call.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to add initiator: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call creation: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a unique constraint violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call := &domain.Call{}
	err := r.pool.QueryRow(ctx, `
		SELECT call_id, conversation_id, initiator_id, call_type, status, started_at, ended_at
		FROM calls
		WHERE call_id = $1
	`, callID).Scan(
		&call.CallID,
		&call.ConversationID,
		&call.InitiatorID,
		&call.CallType,
		&call.Status,
		&call.StartedAt,
		&call.EndedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// AddParticipant joins a user to an active call. It locks the call row so
// the join cannot race the final leave, and rejects a second open
// participant row for the same user.
func (r *CallRepository) AddParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `
		SELECT status FROM calls WHERE call_id = $1 FOR UPDATE
	`, callID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrCallNotFound
		}
		return fmt.Errorf("failed to lock call: %w", err)
	}
	if status != domain.CallStatusActive {
		return domain.ErrCallEnded
	}

	var alreadyJoined bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM call_participants
			WHERE call_id = $1 AND user_id = $2 AND left_at IS NULL
		)
	`, callID, userID).Scan(&alreadyJoined)
	if err != nil {
		return fmt.Errorf("failed to check participant: %w", err)
	}
	if alreadyJoined {
		return domain.ErrAlreadyInCall
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO call_participants (call_id, user_id, joined_at)
		VALUES ($1, $2, $3)
	`, callID, userID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit join: %w", err)
	}

	return nil
}

// LeaveAndMaybeEnd closes the user's open participant row and, when no
// open rows remain, transitions the call to ended in the same transaction.
// It reports whether the call ended as a result of this leave.
func (r *CallRepository) LeaveAndMaybeEnd(ctx context.Context, callID, userID uuid.UUID) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `
		SELECT status FROM calls WHERE call_id = $1 FOR UPDATE
	`, callID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, domain.ErrCallNotFound
		}
		return false, fmt.Errorf("failed to lock call: %w", err)
	}
	if status != domain.CallStatusActive {
		return false, domain.ErrCallEnded
	}

	now := time.Now()
	cmdTag, err := tx.Exec(ctx, `
		UPDATE call_participants
		SET left_at = $3
		WHERE call_id = $1 AND user_id = $2 AND left_at IS NULL
	`, callID, userID, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark participant left: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return false, domain.ErrNotInCall
	}

	var remaining int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM call_participants
		WHERE call_id = $1 AND left_at IS NULL
	`, callID).Scan(&remaining)
	if err != nil {
		return false, fmt.Errorf("failed to count remaining participants: %w", err)
	}

	ended := remaining == 0
	if ended {
		_, err = tx.Exec(ctx, `
			UPDATE calls SET status = $2, ended_at = $3 WHERE call_id = $1
		`, callID, domain.CallStatusEnded, now)
		if err != nil {
			return false, fmt.Errorf("failed to end call: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit leave: %w", err)
	}

	return ended, nil
}

// EndActive transitions an active call to ended and closes out every open
// participant row as a single atomic update.
func (r *CallRepository) EndActive(ctx context.Context, callID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	cmdTag, err := tx.Exec(ctx, `
		UPDATE calls
		SET status = $2, ended_at = $3
		WHERE call_id = $1 AND status = $4
	`, callID, domain.CallStatusEnded, now, domain.CallStatusActive)
	if err != nil {
		return fmt.Errorf("failed to end call: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		// Either the call does not exist or it already ended; let the
		// caller disambiguate with a lookup.
		call, lookupErr := r.GetByID(ctx, callID)
		if lookupErr != nil {
			return lookupErr
		}
		if !call.IsActive() {
			return domain.ErrCallEnded
		}
		return fmt.Errorf("failed to end call %s", callID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE call_participants
		SET left_at = $2
		WHERE call_id = $1 AND left_at IS NULL
	`, callID, now)
	if err != nil {
		return fmt.Errorf("failed to close out participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit end: %w", err)
	}

	return nil
}

// GetActiveParticipants retrieves users currently in a call, with the
// attributes the participants endpoint returns.
func (r *CallRepository) GetActiveParticipants(ctx context.Context, callID uuid.UUID) ([]*domain.CallParticipantDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.user_id, u.first_name, u.last_name, u.email, cp.joined_at
		FROM call_participants cp
		INNER JOIN users u ON cp.user_id = u.user_id
		WHERE cp.call_id = $1 AND cp.left_at IS NULL
		ORDER BY cp.joined_at ASC
	`, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []*domain.CallParticipantDetail
	for rows.Next() {
		p := &domain.CallParticipantDetail{}
		err := rows.Scan(&p.UserID, &p.FirstName, &p.LastName, &p.Email, &p.JoinedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, nil
}

// GetUserCalls retrieves the call history for a user, most recent first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT c.call_id, c.conversation_id, c.initiator_id, c.call_type, c.status,
		       c.started_at, c.ended_at
		FROM calls c
		LEFT JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE c.initiator_id = $1 OR cp.user_id = $1
		ORDER BY c.started_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call := &domain.Call{}
		err := rows.Scan(
			&call.CallID,
			&call.ConversationID,
			&call.InitiatorID,
			&call.CallType,
			&call.Status,
			&call.StartedAt,
			&call.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, nil
}
