package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Deadline is one persisted auto-deny wake time. The table is the
// source of truth; in-memory timers are rebuilt from it on startup.
type Deadline struct {
	RequestID int64
	DueAt     time.Time
}

type DeadlineRepo interface {
	Upsert(ctx context.Context, requestID int64, dueAt time.Time) error
	Delete(ctx context.Context, requestID int64) error
	ListAll(ctx context.Context) ([]Deadline, error)
}

type DeadlineRepoImpl struct{ pool *pgxpool.Pool }

func NewDeadlineRepo(pool *pgxpool.Pool) *DeadlineRepoImpl { return &DeadlineRepoImpl{pool: pool} }

func (r *DeadlineRepoImpl) Upsert(ctx context.Context, requestID int64, dueAt time.Time) error {
	const q = `INSERT INTO autodeny_deadlines (request_id, due_at)
  VALUES ($1,$2)
  ON CONFLICT (request_id) DO UPDATE SET due_at = EXCLUDED.due_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, requestID, dueAt)
	return err
}

func (r *DeadlineRepoImpl) Delete(ctx context.Context, requestID int64) error {
	const q = `DELETE FROM autodeny_deadlines WHERE request_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, requestID)
	return err
}

func (r *DeadlineRepoImpl) ListAll(ctx context.Context) ([]Deadline, error) {
	const q = `SELECT request_id, due_at FROM autodeny_deadlines ORDER BY due_at`
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ds []Deadline
	for rows.Next() {
		var d Deadline
		if err := rows.Scan(&d.RequestID, &d.DueAt); err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	return ds, rows.Err()
}
