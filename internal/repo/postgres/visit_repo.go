package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/premisehq/visitor-gate/internal/domain"
)

type VisitRepo interface {
	// Create inserts the request only while no active duplicate exists
	// for the same room, visitor and day. The check and the insert run
	// under one advisory lock, so concurrent creators cannot both pass;
	// nil means the slot was taken.
	Create(ctx context.Context, in *domain.CreateRequestInput, status domain.VerificationStatus, verifiedAt *time.Time) (*domain.VisitRequest, error)
	GetByID(ctx context.Context, id int64) (*domain.VisitRequest, error)
	ExistsActiveDuplicate(ctx context.Context, roomID, visitorID string, day time.Time) (bool, error)

	// Resolve flips a pending request to approved or denied under a
	// compare-and-set on the stored status. It returns nil when the
	// request was no longer pending, so racing writers lose cleanly.
	Resolve(ctx context.Context, id int64, status domain.VerificationStatus, verifiedAt time.Time) (*domain.VisitRequest, error)

	// DenyIfPending is the scheduler's auto-deny: the same CAS as
	// Resolve, additionally clearing the active flag.
	DenyIfPending(ctx context.Context, id int64, deniedAt time.Time) (bool, error)

	// Deactivate soft-deletes the request unless an open check-in
	// session exists; false means nothing was deactivated.
	Deactivate(ctx context.Context, id int64) (bool, error)
	Update(ctx context.Context, id int64, patch domain.RequestPatch) (*domain.VisitRequest, error)

	List(ctx context.Context, limit, offset int) ([]domain.VisitRequest, error)
	ListByVisitor(ctx context.Context, visitorID string, limit, offset int) ([]domain.VisitRequest, error)
	ListByOwner(ctx context.Context, ownerID string, status *domain.VerificationStatus, limit, offset int) ([]domain.VisitRequest, error)
}

type VisitRepoImpl struct{ pool *pgxpool.Pool }

func NewVisitRepo(pool *pgxpool.Pool) *VisitRepoImpl { return &VisitRepoImpl{pool: pool} }

const visitCols = `id, status,
visitor_id, owner_id, room_id, purpose,
issue_date, appointment_date, verified_at,
creator_role, code_used, active,
created_at, updated_at`

func scanVisit(row pgx.Row) (*domain.VisitRequest, error) {
	var v domain.VisitRequest
	err := row.Scan(
		&v.ID, &v.Status,
		&v.VisitorID, &v.OwnerID, &v.RoomID, &v.Purpose,
		&v.IssueDate, &v.AppointmentDate, &v.VerifiedAt,
		&v.CreatorRole, &v.CodeUsed, &v.Active,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VisitRepoImpl) Create(ctx context.Context, in *domain.CreateRequestInput, status domain.VerificationStatus, verifiedAt *time.Time) (*domain.VisitRequest, error) {
	// The duplicate check and the insert must not be two independent
	// statements: two concurrent creators would both observe an empty
	// slot. A transaction-scoped advisory lock on the slot key
	// serializes them, and the insert re-checks the predicate under it.
	const lockQ = `SELECT pg_advisory_xact_lock(hashtext($1))`
	const q = `INSERT INTO visit_requests (
    status, visitor_id, owner_id, room_id, purpose,
    issue_date, appointment_date, verified_at,
    creator_role, code_used, active
  )
  SELECT $1,$2,$3,$4,$5,now(),$6,$7,$8,$9,true
  WHERE NOT EXISTS (
    SELECT 1 FROM visit_requests v
    WHERE v.room_id = $4
      AND v.visitor_id = $2
      AND v.active
      AND v.status IN ('pending','approved')
      AND COALESCE(v.appointment_date, v.issue_date)::date = COALESCE($6, now())::date
      AND NOT EXISTS (
        SELECT 1 FROM checkin_sessions s
        WHERE s.request_id = v.id AND s.check_out_at IS NOT NULL
      )
  )
  RETURNING ` + visitCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	day := time.Now()
	if in.AppointmentDate != nil {
		day = *in.AppointmentDate
	}
	slotKey := in.RoomID + "|" + in.VisitorID + "|" + day.Format("2006-01-02")
	if _, err := tx.Exec(ctx, lockQ, slotKey); err != nil {
		return nil, err
	}

	v, err := scanVisit(tx.QueryRow(ctx, q,
		status, in.VisitorID, in.OwnerID, in.RoomID, in.Purpose,
		in.AppointmentDate, verifiedAt,
		in.CreatorRole, in.SuppliedCode,
	))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, tx.Commit(ctx)
}

func (r *VisitRepoImpl) GetByID(ctx context.Context, id int64) (*domain.VisitRequest, error) {
	const q = `SELECT ` + visitCols + ` FROM visit_requests WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	v, err := scanVisit(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *VisitRepoImpl) ExistsActiveDuplicate(ctx context.Context, roomID, visitorID string, day time.Time) (bool, error) {
	// A duplicate is an active pending/approved request on the same
	// room, visitor and calendar day whose check-in, if any, has not
	// been completed.
	const q = `SELECT EXISTS (
    SELECT 1 FROM visit_requests v
    WHERE v.room_id = $1
      AND v.visitor_id = $2
      AND v.active
      AND v.status IN ('pending','approved')
      AND COALESCE(v.appointment_date, v.issue_date)::date = $3::date
      AND NOT EXISTS (
        SELECT 1 FROM checkin_sessions s
        WHERE s.request_id = v.id AND s.check_out_at IS NOT NULL
      )
  )`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var exists bool
	err := r.pool.QueryRow(ctx, q, roomID, visitorID, day).Scan(&exists)
	return exists, err
}

func (r *VisitRepoImpl) Resolve(ctx context.Context, id int64, status domain.VerificationStatus, verifiedAt time.Time) (*domain.VisitRequest, error) {
	const q = `UPDATE visit_requests
  SET status=$2, verified_at=$3, updated_at=now()
  WHERE id=$1 AND status='pending'
  RETURNING ` + visitCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	v, err := scanVisit(r.pool.QueryRow(ctx, q, id, status, verifiedAt))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *VisitRepoImpl) DenyIfPending(ctx context.Context, id int64, deniedAt time.Time) (bool, error) {
	const q = `UPDATE visit_requests
  SET status='denied', verified_at=$2, active=false, updated_at=now()
  WHERE id=$1 AND status='pending'`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, id, deniedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *VisitRepoImpl) Deactivate(ctx context.Context, id int64) (bool, error) {
	// The open-session guard sits inside the statement so a check-in
	// committing between the caller's read and this write still blocks
	// the cancellation.
	const q = `UPDATE visit_requests SET active=false, updated_at=now()
  WHERE id=$1 AND active
    AND NOT EXISTS (
      SELECT 1 FROM checkin_sessions s
      WHERE s.request_id = $1 AND s.check_out_at IS NULL
    )`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (r *VisitRepoImpl) Update(ctx context.Context, id int64, patch domain.RequestPatch) (*domain.VisitRequest, error) {
	const q = `UPDATE visit_requests SET
    room_id = COALESCE($2, room_id),
    purpose = COALESCE($3, purpose),
    appointment_date = COALESCE($4, appointment_date),
    updated_at = now()
  WHERE id=$1
  RETURNING ` + visitCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	v, err := scanVisit(r.pool.QueryRow(ctx, q, id, patch.RoomID, patch.Purpose, patch.AppointmentDate))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (r *VisitRepoImpl) List(ctx context.Context, limit, offset int) ([]domain.VisitRequest, error) {
	limit, offset = clampPage(limit, offset)
	const q = `SELECT ` + visitCols + ` FROM visit_requests ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	return r.queryVisits(ctx, q, limit, offset)
}

func (r *VisitRepoImpl) ListByVisitor(ctx context.Context, visitorID string, limit, offset int) ([]domain.VisitRequest, error) {
	limit, offset = clampPage(limit, offset)
	const q = `SELECT ` + visitCols + ` FROM visit_requests
  WHERE visitor_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.queryVisits(ctx, q, visitorID, limit, offset)
}

func (r *VisitRepoImpl) ListByOwner(ctx context.Context, ownerID string, status *domain.VerificationStatus, limit, offset int) ([]domain.VisitRequest, error) {
	limit, offset = clampPage(limit, offset)
	if status != nil {
		const q = `SELECT ` + visitCols + ` FROM visit_requests
  WHERE owner_id=$1 AND status=$2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`
		return r.queryVisits(ctx, q, ownerID, *status, limit, offset)
	}
	const q = `SELECT ` + visitCols + ` FROM visit_requests
  WHERE owner_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return r.queryVisits(ctx, q, ownerID, limit, offset)
}

func (r *VisitRepoImpl) queryVisits(ctx context.Context, q string, args ...any) ([]domain.VisitRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vs []domain.VisitRequest
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		vs = append(vs, *v)
	}
	return vs, rows.Err()
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
