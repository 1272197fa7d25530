package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"lucledger/internal/database"
	"lucledger/internal/model"
)

var ErrPricingNotFound = errors.New("model pricing not found")

type PricingRepositoryInterface interface {
	List(ctx context.Context) ([]*model.ModelPricing, error)
	Upsert(ctx context.Context, p *model.ModelPricing) error
	Delete(ctx context.Context, modelName string) error
}

var _ PricingRepositoryInterface = (*PricingRepository)(nil)

type PricingRepository struct {
	db *database.DB
}

func NewPricingRepository(db *database.DB) *PricingRepository {
	return &PricingRepository{db: db}
}

func (r *PricingRepository) List(ctx context.Context) ([]*model.ModelPricing, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT model, input_cost_per_million_usd, output_cost_per_million_usd, source, updated_at
		 FROM luc_pricing ORDER BY model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prices []*model.ModelPricing
	for rows.Next() {
		p := &model.ModelPricing{}
		var in, out sql.NullFloat64
		if err := rows.Scan(&p.Model, &in, &out, &p.Source, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if in.Valid {
			v := in.Float64
			p.InputCostPerMillionUSD = &v
		}
		if out.Valid {
			v := out.Float64
			p.OutputCostPerMillionUSD = &v
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

func (r *PricingRepository) Upsert(ctx context.Context, p *model.ModelPricing) error {
	if p.Source == "" {
		p.Source = "manual"
	}
	p.UpdatedAt = time.Now().UTC()
	_, err := r.db.Conn(ctx).ExecContext(ctx, r.db.Rebind(
		`INSERT INTO luc_pricing (model, input_cost_per_million_usd, output_cost_per_million_usd, source, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(model) DO UPDATE SET
			input_cost_per_million_usd = excluded.input_cost_per_million_usd,
			output_cost_per_million_usd = excluded.output_cost_per_million_usd,
			source = excluded.source,
			updated_at = excluded.updated_at`),
		p.Model, p.InputCostPerMillionUSD, p.OutputCostPerMillionUSD, p.Source, p.UpdatedAt,
	)
	return err
}

func (r *PricingRepository) Delete(ctx context.Context, modelName string) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx, r.db.Rebind(`DELETE FROM luc_pricing WHERE model = ?`), modelName)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPricingNotFound
	}
	return nil
}
