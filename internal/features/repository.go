package features

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores flags in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one flag; found is false when the store has no row for key.
func (r *Repository) Get(ctx context.Context, storeID, key string) (Flag, bool, error) {
	f := Flag{StoreID: storeID, Key: key}
	err := r.pool.QueryRow(ctx, `SELECT enabled, updated_at FROM store_feature_flags WHERE store_id = $1 AND flag_key = $2`,
		storeID, key).Scan(&f.Enabled, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Flag{}, false, nil
		}
		return Flag{}, false, err
	}
	return f, true, nil
}

// Set upserts a flag.
func (r *Repository) Set(ctx context.Context, storeID, key string, enabled bool) (Flag, error) {
	f := Flag{StoreID: storeID, Key: key}
	err := r.pool.QueryRow(ctx, `INSERT INTO store_feature_flags (store_id, flag_key, enabled, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (store_id, flag_key) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()
RETURNING enabled, updated_at`, storeID, key, enabled).Scan(&f.Enabled, &f.UpdatedAt)
	return f, err
}

// List returns every stored flag of a store.
func (r *Repository) List(ctx context.Context, storeID string) ([]Flag, error) {
	rows, err := r.pool.Query(ctx, `SELECT flag_key, enabled, updated_at FROM store_feature_flags
WHERE store_id = $1 ORDER BY flag_key`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Flag
	for rows.Next() {
		f := Flag{StoreID: storeID}
		if err := rows.Scan(&f.Key, &f.Enabled, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
