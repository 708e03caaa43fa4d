package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/premisehq/visitor-gate/internal/domain"
)

type AuditRepo interface {
	Append(ctx context.Context, requestID int64, actorID, change string) error
	ListByRequest(ctx context.Context, requestID int64) ([]domain.AuditEntry, error)
}

type AuditRepoImpl struct{ pool *pgxpool.Pool }

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepoImpl { return &AuditRepoImpl{pool: pool} }

func (r *AuditRepoImpl) Append(ctx context.Context, requestID int64, actorID, change string) error {
	const q = `INSERT INTO visit_audit_log (request_id, actor_id, change) VALUES ($1,$2,$3)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, requestID, actorID, change)
	return err
}

func (r *AuditRepoImpl) ListByRequest(ctx context.Context, requestID int64) ([]domain.AuditEntry, error) {
	const q = `SELECT id, request_id, actor_id, change, created_at
  FROM visit_audit_log WHERE request_id=$1 ORDER BY id`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ActorID, &e.Change, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
