package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"snowgoose-backend/internal/models"
)

type UsageRepo struct {
	pool *pgxpool.Pool
}

func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

// Create is idempotent on the record id, so a redelivered queue item is harmless.
func (r *UsageRepo) Create(ctx context.Context, rec *models.UsageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var modelID *int
	if rec.ModelID > 0 {
		modelID = &rec.ModelID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_records (id, user_id, model_id, input_tokens, output_tokens, total_cost, credits, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.UserID, modelID, rec.InputTokens, rec.OutputTokens, rec.TotalCost, rec.Credits, rec.CreatedAt,
	)
	return err
}
