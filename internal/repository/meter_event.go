package repository

import (
	"context"
	"database/sql"
	"time"

	"lucledger/internal/database"
	"lucledger/internal/model"

	"github.com/google/uuid"
)

type MeterEventRepositoryInterface interface {
	Create(ctx context.Context, event *model.MeterEvent) error
	ListBySessionID(ctx context.Context, sessionID string) ([]*model.MeterEvent, error)
}

var _ MeterEventRepositoryInterface = (*MeterEventRepository)(nil)

type MeterEventRepository struct {
	db *database.DB
}

func NewMeterEventRepository(db *database.DB) *MeterEventRepository {
	return &MeterEventRepository{db: db}
}

func (r *MeterEventRepository) Create(ctx context.Context, event *model.MeterEvent) error {
	event.ID = uuid.New().String()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Conn(ctx).ExecContext(ctx, r.db.Rebind(
		`INSERT INTO luc_meter_events (id, session_id, user_id, phase, model, refunded, value_cents, provider, provider_event_id, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		event.ID, event.SessionID, event.UserID, event.Phase, event.Model, event.Refunded,
		event.ValueCents, event.Provider, event.ProviderEventID, event.Error, event.CreatedAt,
	)
	return err
}

func (r *MeterEventRepository) ListBySessionID(ctx context.Context, sessionID string) ([]*model.MeterEvent, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, r.db.Rebind(
		`SELECT id, session_id, user_id, phase, model, refunded, value_cents, provider, provider_event_id, error, created_at
		 FROM luc_meter_events WHERE session_id = ? ORDER BY created_at ASC`),
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.MeterEvent
	for rows.Next() {
		e := &model.MeterEvent{}
		var providerEventID sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserID, &e.Phase, &e.Model, &e.Refunded,
			&e.ValueCents, &e.Provider, &providerEventID, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		if providerEventID.Valid {
			id := providerEventID.String
			e.ProviderEventID = &id
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
