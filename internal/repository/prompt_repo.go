package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"snowgoose-backend/internal/models"
)

// PromptRepo serves personas and output formats. Rows without an owner are
// global; owned rows are visible only to their owner.
type PromptRepo struct {
	pool *pgxpool.Pool
}

func NewPromptRepo(pool *pgxpool.Pool) *PromptRepo {
	return &PromptRepo{pool: pool}
}

func (r *PromptRepo) GetPersona(ctx context.Context, id int, userID uuid.UUID) (*models.Persona, error) {
	p := &models.Persona{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, prompt, owner_id::text, created_at FROM personas
		WHERE id = $1 AND (owner_id IS NULL OR owner_id = $2)`, id, userID).
		Scan(&p.ID, &p.Name, &p.Prompt, &p.OwnerID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PromptRepo) ListPersonas(ctx context.Context, userID uuid.UUID) ([]*models.Persona, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, prompt, owner_id::text, created_at FROM personas
		WHERE owner_id IS NULL OR owner_id = $1
		ORDER BY owner_id NULLS FIRST, name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*models.Persona, 0)
	for rows.Next() {
		p := &models.Persona{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Prompt, &p.OwnerID, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (r *PromptRepo) GetOutputFormat(ctx context.Context, id int, userID uuid.UUID) (*models.OutputFormat, error) {
	f := &models.OutputFormat{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, prompt, owner_id::text, created_at FROM output_formats
		WHERE id = $1 AND (owner_id IS NULL OR owner_id = $2)`, id, userID).
		Scan(&f.ID, &f.Name, &f.Prompt, &f.OwnerID, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *PromptRepo) ListOutputFormats(ctx context.Context, userID uuid.UUID) ([]*models.OutputFormat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, prompt, owner_id::text, created_at FROM output_formats
		WHERE owner_id IS NULL OR owner_id = $1
		ORDER BY owner_id NULLS FIRST, name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*models.OutputFormat, 0)
	for rows.Next() {
		f := &models.OutputFormat{}
		if err := rows.Scan(&f.ID, &f.Name, &f.Prompt, &f.OwnerID, &f.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, f)
	}
	return list, rows.Err()
}
