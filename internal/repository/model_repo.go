package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"snowgoose-backend/internal/models"
)

type ModelRepo struct {
	pool *pgxpool.Pool
}

func NewModelRepo(pool *pgxpool.Pool) *ModelRepo {
	return &ModelRepo{pool: pool}
}

const modelColumns = `m.id, m.api_name, m.name, m.api_vendor_id, v.name, m.is_vision, m.is_image_generation,
	m.is_thinking, m.is_web_search, m.input_token_cost, m.output_token_cost,
	m.image_output_token_cost, m.web_search_cost, m.is_active, m.created_at`

func scanModel(row interface{ Scan(...any) error }) (*models.Model, error) {
	m := &models.Model{}
	err := row.Scan(
		&m.ID, &m.APIName, &m.Name, &m.APIVendorID, &m.VendorName, &m.IsVision, &m.IsImageGeneration,
		&m.IsThinking, &m.IsWebSearch, &m.InputTokenCost, &m.OutputTokenCost,
		&m.ImageOutputTokenCost, &m.WebSearchCost, &m.IsActive, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *ModelRepo) GetByID(ctx context.Context, id int) (*models.Model, error) {
	query := `SELECT ` + modelColumns + `
		FROM models m JOIN api_vendors v ON v.id = m.api_vendor_id
		WHERE m.id = $1`
	return scanModel(r.pool.QueryRow(ctx, query, id))
}

func (r *ModelRepo) GetVendorByID(ctx context.Context, id int) (*models.APIVendor, error) {
	v := &models.APIVendor{}
	err := r.pool.QueryRow(ctx, "SELECT id, name, created_at FROM api_vendors WHERE id = $1", id).
		Scan(&v.ID, &v.Name, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *ModelRepo) ListActive(ctx context.Context) ([]*models.Model, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+modelColumns+`
		FROM models m JOIN api_vendors v ON v.id = m.api_vendor_id
		WHERE m.is_active = TRUE
		ORDER BY v.name, m.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*models.Model, 0)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
