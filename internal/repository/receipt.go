package repository

import (
	"context"
	"database/sql"
	"errors"

	"lucledger/internal/database"
	"lucledger/internal/model"
)

var (
	ErrReceiptNotFound = errors.New("luc receipt not found")
	ErrReceiptExists   = errors.New("luc receipt already exists for session")
)

type ReceiptRepositoryInterface interface {
	Create(ctx context.Context, receipt *model.Receipt) error
	GetBySessionID(ctx context.Context, sessionID string) (*model.Receipt, error)
}

var _ ReceiptRepositoryInterface = (*ReceiptRepository)(nil)

type ReceiptRepository struct {
	db *database.DB
}

func NewReceiptRepository(db *database.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// Create 写入结算单，session_id 唯一约束保证一会话一单
func (r *ReceiptRepository) Create(ctx context.Context, rc *model.Receipt) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, r.db.Rebind(
		`INSERT INTO luc_receipts (receipt_id, session_id, user_id, chat_tokens, iteration_tokens, chat_cost_cents, iteration_cost_cents, refund_cents, total_charge_cents, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rc.ReceiptID, rc.SessionID, rc.UserID, rc.ChatTokens, rc.IterationTokens,
		rc.ChatCostCents, rc.IterationCostCents, rc.RefundCents, rc.TotalChargeCents, rc.FinalizedAt,
	)
	if database.IsUniqueViolation(err) {
		return ErrReceiptExists
	}
	return err
}

func (r *ReceiptRepository) GetBySessionID(ctx context.Context, sessionID string) (*model.Receipt, error) {
	rc := &model.Receipt{Phase: model.PhaseComplete}
	err := r.db.Conn(ctx).QueryRowContext(ctx, r.db.Rebind(
		`SELECT receipt_id, session_id, user_id, chat_tokens, iteration_tokens, chat_cost_cents, iteration_cost_cents, refund_cents, total_charge_cents, finalized_at
		 FROM luc_receipts WHERE session_id = ?`), sessionID,
	).Scan(&rc.ReceiptID, &rc.SessionID, &rc.UserID, &rc.ChatTokens, &rc.IterationTokens,
		&rc.ChatCostCents, &rc.IterationCostCents, &rc.RefundCents, &rc.TotalChargeCents, &rc.FinalizedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	return rc, nil
}
