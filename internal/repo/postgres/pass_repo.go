package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/premisehq/visitor-gate/internal/domain"
)

type PassRepo interface {
	Create(ctx context.Context, issuerID, consumer, codeHash string, expiresAt time.Time) (*domain.FacilityPass, error)
	GetByID(ctx context.Context, id int64) (*domain.FacilityPass, error)
	Revoke(ctx context.Context, id int64) (bool, error)
	ListActive(ctx context.Context) ([]domain.FacilityPass, error)
}

type PassRepoImpl struct{ pool *pgxpool.Pool }

func NewPassRepo(pool *pgxpool.Pool) *PassRepoImpl { return &PassRepoImpl{pool: pool} }

const passCols = `id, issuer_id, consumer, code_hash, expires_at, revoked_at, created_at`

func scanPass(row pgx.Row) (*domain.FacilityPass, error) {
	var p domain.FacilityPass
	err := row.Scan(&p.ID, &p.IssuerID, &p.Consumer, &p.CodeHash, &p.ExpiresAt, &p.RevokedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PassRepoImpl) Create(ctx context.Context, issuerID, consumer, codeHash string, expiresAt time.Time) (*domain.FacilityPass, error) {
	const q = `INSERT INTO facility_passes (issuer_id, consumer, code_hash, expires_at)
  VALUES ($1,$2,$3,$4)
  RETURNING ` + passCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanPass(r.pool.QueryRow(ctx, q, issuerID, consumer, codeHash, expiresAt))
}

func (r *PassRepoImpl) GetByID(ctx context.Context, id int64) (*domain.FacilityPass, error) {
	const q = `SELECT ` + passCols + ` FROM facility_passes WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	p, err := scanPass(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *PassRepoImpl) Revoke(ctx context.Context, id int64) (bool, error) {
	const q = `UPDATE facility_passes SET revoked_at=now() WHERE id=$1 AND revoked_at IS NULL`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PassRepoImpl) ListActive(ctx context.Context) ([]domain.FacilityPass, error) {
	const q = `SELECT ` + passCols + ` FROM facility_passes
  WHERE revoked_at IS NULL AND expires_at > now() ORDER BY created_at DESC`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ps []domain.FacilityPass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		ps = append(ps, *p)
	}
	return ps, rows.Err()
}
