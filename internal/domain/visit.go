package domain

import "time"

type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusApproved VerificationStatus = "approved"
	StatusDenied   VerificationStatus = "denied"
)

func ParseVerificationStatus(s string) (VerificationStatus, bool) {
	switch VerificationStatus(s) {
	case StatusPending, StatusApproved, StatusDenied:
		return VerificationStatus(s), true
	default:
		return "", false
	}
}

// VisitRequest is the ledger record for one visit intent. Active is an
// orthogonal soft-delete axis: a resolved request stays in the ledger
// with Active=false once canceled.
type VisitRequest struct {
	ID     int64              `json:"id"`
	Status VerificationStatus `json:"status"`

	VisitorID string `json:"visitor_id"`
	OwnerID   string `json:"owner_id"`
	RoomID    string `json:"room_id"`
	Purpose   string `json:"purpose"`

	IssueDate       time.Time  `json:"issue_date"`
	AppointmentDate *time.Time `json:"appointment_date,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`

	CreatorRole Role   `json:"creator_role"`
	CodeUsed    string `json:"code_used,omitempty"`
	Active      bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VisitDay is the calendar day the uniqueness invariant keys on: the
// appointment day when one is set, otherwise the issue day (walk-ins).
func (v *VisitRequest) VisitDay() time.Time {
	d := v.IssueDate
	if v.AppointmentDate != nil {
		d = *v.AppointmentDate
	}
	return d.Truncate(24 * time.Hour)
}

func (v *VisitRequest) IsResolved() bool {
	return v.Status != StatusPending
}

// CheckInSession records physical presence for an approved request.
// At most one session exists per request.
type CheckInSession struct {
	RequestID    int64      `json:"request_id"`
	CheckInAt    time.Time  `json:"check_in_at"`
	CheckOutAt   *time.Time `json:"check_out_at,omitempty"`
	CheckedOutBy string     `json:"checked_out_by,omitempty"`
}

func (s *CheckInSession) IsOpen() bool {
	return s != nil && s.CheckOutAt == nil
}

type CreateRequestInput struct {
	VisitorID       string     `json:"visitor_id"`
	OwnerID         string     `json:"owner_id"`
	RoomID          string     `json:"room_id"`
	Purpose         string     `json:"purpose"`
	AppointmentDate *time.Time `json:"appointment_date,omitempty"`
	CreatorRole     Role       `json:"-"`
	SuppliedCode    string     `json:"code,omitempty"`
}

// RequestPatch carries admin-editable fields. Nil means unchanged.
type RequestPatch struct {
	RoomID          *string    `json:"room_id,omitempty"`
	Purpose         *string    `json:"purpose,omitempty"`
	AppointmentDate *time.Time `json:"appointment_date,omitempty"`
}

// AuditEntry is one append-only human-readable change record.
type AuditEntry struct {
	ID        int64     `json:"id"`
	RequestID int64     `json:"request_id"`
	ActorID   string    `json:"actor_id"`
	Change    string    `json:"change"`
	CreatedAt time.Time `json:"created_at"`
}
