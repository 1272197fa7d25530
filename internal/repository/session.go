package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lucledger/internal/database"
	"lucledger/internal/model"
)

var ErrSessionNotFound = errors.New("luc session not found")

type SessionRepositoryInterface interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, sessionID string) (*model.Session, error)
	GetForUpdate(ctx context.Context, sessionID string) (*model.Session, error)
	AddUsage(ctx context.Context, sessionID string, phase model.Phase, inputTokens, outputTokens, costCents int64) error
	MarkIteration(ctx context.Context, sessionID string, at time.Time) (bool, error)
	MarkComplete(ctx context.Context, sessionID string, refundCents, totalChargeCents int64, at time.Time) (bool, error)
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Session, error)
}

var _ SessionRepositoryInterface = (*SessionRepository)(nil)

type SessionRepository struct {
	db *database.DB
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `session_id, user_id, status, current_phase, phase_transition_at,
	chat_input_tokens, chat_output_tokens, chat_cost_cents,
	iteration_input_tokens, iteration_output_tokens, iteration_cost_cents,
	refund_cents, total_charge_cents, finalized_at, created_at, updated_at`

func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	now := time.Now().UTC()
	s.Status = model.SessionStatusActive
	s.CurrentPhase = model.PhaseChat
	s.CreatedAt = now
	s.UpdatedAt = now
	_, err := r.db.Conn(ctx).ExecContext(ctx, r.db.Rebind(
		`INSERT INTO luc_sessions (session_id, user_id, status, current_phase, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		s.SessionID, s.UserID, s.Status, s.CurrentPhase, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, sessionID string) (*model.Session, error) {
	return r.get(ctx, sessionID, "")
}

// GetForUpdate 在事务内读取并锁定会话行（postgres 使用 FOR UPDATE）
func (r *SessionRepository) GetForUpdate(ctx context.Context, sessionID string) (*model.Session, error) {
	return r.get(ctx, sessionID, r.db.ForUpdate())
}

func (r *SessionRepository) get(ctx context.Context, sessionID, suffix string) (*model.Session, error) {
	row := r.db.Conn(ctx).QueryRowContext(ctx, r.db.Rebind(
		`SELECT `+sessionColumns+` FROM luc_sessions WHERE session_id = ?`+suffix), sessionID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// AddUsage 原子累加对应阶段的计数器，仅对 active 会话生效
func (r *SessionRepository) AddUsage(ctx context.Context, sessionID string, phase model.Phase, inputTokens, outputTokens, costCents int64) error {
	query := `UPDATE luc_sessions
		SET chat_input_tokens = chat_input_tokens + ?,
			chat_output_tokens = chat_output_tokens + ?,
			chat_cost_cents = chat_cost_cents + ?,
			updated_at = ?
		WHERE session_id = ? AND status = 'active'`
	if phase == model.PhaseIteration {
		query = `UPDATE luc_sessions
		SET iteration_input_tokens = iteration_input_tokens + ?,
			iteration_output_tokens = iteration_output_tokens + ?,
			iteration_cost_cents = iteration_cost_cents + ?,
			updated_at = ?
		WHERE session_id = ? AND status = 'active'`
	}
	res, err := r.db.Conn(ctx).ExecContext(ctx, r.db.Rebind(query),
		inputTokens, outputTokens, costCents, time.Now().UTC(), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// MarkIteration chat -> iteration，返回是否发生了状态变化
func (r *SessionRepository) MarkIteration(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx, r.db.Rebind(
		`UPDATE luc_sessions
		 SET current_phase = 'iteration', phase_transition_at = ?, updated_at = ?
		 WHERE session_id = ? AND status = 'active' AND current_phase = 'chat'`),
		at, at, sessionID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkComplete 关闭会话并写入结算数值，返回是否由本次调用关闭
func (r *SessionRepository) MarkComplete(ctx context.Context, sessionID string, refundCents, totalChargeCents int64, at time.Time) (bool, error) {
	res, err := r.db.Conn(ctx).ExecContext(ctx, r.db.Rebind(
		`UPDATE luc_sessions
		 SET status = 'complete', current_phase = 'complete',
			 refund_cents = ?, total_charge_cents = ?, finalized_at = ?, updated_at = ?
		 WHERE session_id = ? AND status = 'active'`),
		refundCents, totalChargeCents, at, at, sessionID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SessionRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]*model.Session, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, r.db.Rebind(
		`SELECT `+sessionColumns+` FROM luc_sessions WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`),
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	s := &model.Session{}
	var (
		transitionAt, finalizedAt sql.NullTime
		refund, total             sql.NullInt64
	)
	err := row.Scan(
		&s.SessionID, &s.UserID, &s.Status, &s.CurrentPhase, &transitionAt,
		&s.ChatInputTokens, &s.ChatOutputTokens, &s.ChatCostCents,
		&s.IterationInputTokens, &s.IterationOutputTokens, &s.IterationCostCents,
		&refund, &total, &finalizedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if transitionAt.Valid {
		t := transitionAt.Time
		s.PhaseTransitionAt = &t
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		s.FinalizedAt = &t
	}
	if refund.Valid {
		v := refund.Int64
		s.RefundCents = &v
	}
	if total.Valid {
		v := total.Int64
		s.TotalChargeCents = &v
	}
	return s, nil
}
