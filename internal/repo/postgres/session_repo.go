package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/premisehq/visitor-gate/internal/domain"
)

type SessionRepo interface {
	Create(ctx context.Context, requestID int64, checkInAt time.Time) (*domain.CheckInSession, error)
	GetByRequest(ctx context.Context, requestID int64) (*domain.CheckInSession, error)

	// Close stamps the check-out under a compare-and-set on the open
	// session; nil means no open session existed.
	Close(ctx context.Context, requestID int64, actorID string, checkOutAt time.Time) (*domain.CheckInSession, error)
}

type SessionRepoImpl struct{ pool *pgxpool.Pool }

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepoImpl { return &SessionRepoImpl{pool: pool} }

const sessionCols = `request_id, check_in_at, check_out_at, checked_out_by`

func scanSession(row pgx.Row) (*domain.CheckInSession, error) {
	var s domain.CheckInSession
	var checkedOutBy *string
	err := row.Scan(&s.RequestID, &s.CheckInAt, &s.CheckOutAt, &checkedOutBy)
	if err != nil {
		return nil, err
	}
	if checkedOutBy != nil {
		s.CheckedOutBy = *checkedOutBy
	}
	return &s, nil
}

func (r *SessionRepoImpl) Create(ctx context.Context, requestID int64, checkInAt time.Time) (*domain.CheckInSession, error) {
	// request_id is the primary key, so a second session for the same
	// request fails at the constraint even if two callers race past the
	// service-level check.
	const q = `INSERT INTO checkin_sessions (request_id, check_in_at)
  VALUES ($1,$2)
  ON CONFLICT (request_id) DO NOTHING
  RETURNING ` + sessionCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	s, err := scanSession(r.pool.QueryRow(ctx, q, requestID, checkInAt))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SessionRepoImpl) GetByRequest(ctx context.Context, requestID int64) (*domain.CheckInSession, error) {
	const q = `SELECT ` + sessionCols + ` FROM checkin_sessions WHERE request_id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	s, err := scanSession(r.pool.QueryRow(ctx, q, requestID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SessionRepoImpl) Close(ctx context.Context, requestID int64, actorID string, checkOutAt time.Time) (*domain.CheckInSession, error) {
	const q = `UPDATE checkin_sessions
  SET check_out_at=$2, checked_out_by=$3
  WHERE request_id=$1 AND check_out_at IS NULL
  RETURNING ` + sessionCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	s, err := scanSession(r.pool.QueryRow(ctx, q, requestID, checkOutAt, actorID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return s, err
}
