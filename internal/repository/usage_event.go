package repository

import (
	"context"
	"time"

	"lucledger/internal/database"
	"lucledger/internal/model"

	"github.com/google/uuid"
)

type UsageEventRepositoryInterface interface {
	Create(ctx context.Context, event *model.UsageEvent) error
	ListBySessionID(ctx context.Context, sessionID string, limit int) ([]*model.UsageEvent, error)
}

var _ UsageEventRepositoryInterface = (*UsageEventRepository)(nil)

type UsageEventRepository struct {
	db *database.DB
}

func NewUsageEventRepository(db *database.DB) *UsageEventRepository {
	return &UsageEventRepository{db: db}
}

func (r *UsageEventRepository) Create(ctx context.Context, event *model.UsageEvent) error {
	event.ID = uuid.New().String()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Conn(ctx).ExecContext(ctx, r.db.Rebind(
		`INSERT INTO luc_usage_events (id, session_id, user_id, phase, provider, model, input_tokens, output_tokens, total_tokens, cost_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.ID, event.SessionID, event.UserID, event.Phase, event.Provider, event.Model,
		event.InputTokens, event.OutputTokens, event.TotalTokens, event.CostCents, event.CreatedAt,
	)
	return err
}

func (r *UsageEventRepository) ListBySessionID(ctx context.Context, sessionID string, limit int) ([]*model.UsageEvent, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, r.db.Rebind(
		`SELECT id, session_id, user_id, phase, provider, model, input_tokens, output_tokens, total_tokens, cost_cents, created_at
		 FROM luc_usage_events WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`),
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.UsageEvent
	for rows.Next() {
		e := &model.UsageEvent{}
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Phase, &e.Provider, &e.Model,
			&e.InputTokens, &e.OutputTokens, &e.TotalTokens, &e.CostCents, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
