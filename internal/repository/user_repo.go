package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"snowgoose-backend/internal/models"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// EnsureUser creates the local row for a Supabase user on first contact.
func (r *UserRepo) EnsureUser(ctx context.Context, id uuid.UUID, email string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, id, email)
	return err
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	query := `SELECT id, email, full_name, credits::float8, is_admin, created_at
		FROM users WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.FullName, &user.Credits, &user.IsAdmin, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepo) GetCredits(ctx context.Context, id uuid.UUID) (float64, error) {
	var credits float64
	err := r.pool.QueryRow(ctx, "SELECT credits::float8 FROM users WHERE id = $1", id).Scan(&credits)
	return credits, err
}

// DeductCredits decrements the balance in a single statement so concurrent
// streams of the same user cannot lose updates. The balance may go negative.
func (r *UserRepo) DeductCredits(ctx context.Context, id uuid.UUID, amount float64) (float64, error) {
	var balance float64
	err := r.pool.QueryRow(ctx, `
		UPDATE users SET credits = credits - $1::numeric
		WHERE id = $2
		RETURNING credits::float8`, amount, id).Scan(&balance)
	return balance, err
}
