package service

import (
	"context"
	"fmt"
	"time"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/otp"
	"github.com/premisehq/visitor-gate/internal/repo/postgres"
	"github.com/premisehq/visitor-gate/pkg/events"
	"github.com/premisehq/visitor-gate/pkg/logger"
)

// DeadlineScheduler is the ledger's view of the expiry scheduler.
type DeadlineScheduler interface {
	ScheduleAutoDeny(ctx context.Context, requestID int64, dueAt time.Time) error
}

type LedgerService interface {
	CreateRequest(ctx context.Context, in *domain.CreateRequestInput) (*domain.VisitRequest, error)
	GetRequest(ctx context.Context, id int64) (*domain.VisitRequest, error)
	ListRequests(ctx context.Context, limit, offset int) ([]domain.VisitRequest, error)
	ListVisitorRequests(ctx context.Context, visitorID string, limit, offset int) ([]domain.VisitRequest, error)
	ListOwnerRequests(ctx context.Context, ownerID string, status *domain.VerificationStatus, limit, offset int) ([]domain.VisitRequest, error)

	Approve(ctx context.Context, requestID int64, actor domain.Actor) (*domain.VisitRequest, error)
	Deny(ctx context.Context, requestID int64, actor domain.Actor) (*domain.VisitRequest, error)
	Cancel(ctx context.Context, requestID int64, actor domain.Actor) error
	Update(ctx context.Context, requestID int64, patch domain.RequestPatch, actor domain.Actor) (*domain.VisitRequest, error)
	AuditTrail(ctx context.Context, requestID int64) ([]domain.AuditEntry, error)
}

type ledgerService struct {
	visitRepo   postgres.VisitRepo
	sessionRepo postgres.SessionRepo
	auditRepo   postgres.AuditRepo
	codes       *otp.Registry
	scheduler   DeadlineScheduler
	eventBus    events.Publisher

	autoDenyAfter time.Duration
}

func NewLedgerService(
	visitRepo postgres.VisitRepo,
	sessionRepo postgres.SessionRepo,
	auditRepo postgres.AuditRepo,
	codes *otp.Registry,
	scheduler DeadlineScheduler,
	eventBus events.Publisher,
	autoDenyAfter time.Duration,
) LedgerService {
	return &ledgerService{
		visitRepo:     visitRepo,
		sessionRepo:   sessionRepo,
		auditRepo:     auditRepo,
		codes:         codes,
		scheduler:     scheduler,
		eventBus:      eventBus,
		autoDenyAfter: autoDenyAfter,
	}
}

func (s *ledgerService) CreateRequest(ctx context.Context, in *domain.CreateRequestInput) (*domain.VisitRequest, error) {
	if err := s.validateCreate(in); err != nil {
		return nil, err
	}

	now := time.Now()
	day := now
	if in.AppointmentDate != nil {
		day = *in.AppointmentDate
	}
	dup, err := s.visitRepo.ExistsActiveDuplicate(ctx, in.RoomID, in.VisitorID, day.Truncate(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate request: %w", err)
	}
	if dup {
		return nil, domain.ErrDuplicateActive
	}

	// A supplied code short-circuits the approval step: redeeming it
	// against the visitor yields an already-approved request. Owner
	// codes authorize visits to the issuing owner's rooms only;
	// facility codes bind the consumer instead of a room.
	status := domain.StatusPending
	var verifiedAt *time.Time
	if in.SuppliedCode != "" {
		entry, ok := s.codes.Entry(in.SuppliedCode)
		if !ok {
			return nil, domain.ErrInvalidCode
		}
		if entry.Kind == domain.CodeKindOwner && entry.IssuerID != in.OwnerID {
			return nil, domain.ErrInvalidCode
		}
		if !s.codes.Validate(ctx, in.SuppliedCode, in.VisitorID) {
			return nil, domain.ErrInvalidCode
		}
		status = domain.StatusApproved
		verifiedAt = &now
	}

	visit, err := s.visitRepo.Create(ctx, in, status, verifiedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create visit request: %w", err)
	}
	if visit == nil {
		// Lost the slot to a creator that committed after our check.
		return nil, domain.ErrDuplicateActive
	}

	// Walk-ins (no appointment date) never get a deadline; they are
	// expected to be resolved same-day by staff.
	if visit.AppointmentDate != nil && visit.Status == domain.StatusPending {
		if err := s.scheduler.ScheduleAutoDeny(ctx, visit.ID, now.Add(s.autoDenyAfter)); err != nil {
			logger.ErrorContext(ctx, "Failed to schedule auto-deny deadline", "error", err, "request_id", visit.ID)
		}
	}

	event := events.VisitRequestedEvent{
		RequestID:       visit.ID,
		VisitorID:       visit.VisitorID,
		OwnerID:         visit.OwnerID,
		RoomID:          visit.RoomID,
		AppointmentDate: visit.AppointmentDate,
		PreApproved:     visit.Status == domain.StatusApproved,
		CreatedAt:       visit.CreatedAt,
	}
	if err := s.eventBus.Publish(ctx, events.VisitRequested, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish visit requested event", "error", err, "request_id", visit.ID)
	}

	return visit, nil
}

func (s *ledgerService) GetRequest(ctx context.Context, id int64) (*domain.VisitRequest, error) {
	v, err := s.visitRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get visit request: %w", err)
	}
	if v == nil {
		return nil, domain.ErrRequestNotFound
	}
	return v, nil
}

func (s *ledgerService) ListRequests(ctx context.Context, limit, offset int) ([]domain.VisitRequest, error) {
	return s.visitRepo.List(ctx, limit, offset)
}

func (s *ledgerService) ListVisitorRequests(ctx context.Context, visitorID string, limit, offset int) ([]domain.VisitRequest, error) {
	return s.visitRepo.ListByVisitor(ctx, visitorID, limit, offset)
}

func (s *ledgerService) ListOwnerRequests(ctx context.Context, ownerID string, status *domain.VerificationStatus, limit, offset int) ([]domain.VisitRequest, error) {
	return s.visitRepo.ListByOwner(ctx, ownerID, status, limit, offset)
}

func (s *ledgerService) Approve(ctx context.Context, requestID int64, actor domain.Actor) (*domain.VisitRequest, error) {
	return s.resolve(ctx, requestID, actor, domain.StatusApproved)
}

func (s *ledgerService) Deny(ctx context.Context, requestID int64, actor domain.Actor) (*domain.VisitRequest, error) {
	return s.resolve(ctx, requestID, actor, domain.StatusDenied)
}

func (s *ledgerService) resolve(ctx context.Context, requestID int64, actor domain.Actor, status domain.VerificationStatus) (*domain.VisitRequest, error) {
	visit, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	// Owners decide only on their own rooms; admins bypass the
	// ownership check by design.
	caps := actor.Capabilities()
	if !caps.CanApproveOwn {
		return nil, domain.ErrUnauthorized
	}
	if actor.Role != domain.RoleAdmin && actor.ID != visit.OwnerID {
		return nil, domain.ErrUnauthorized
	}

	now := time.Now()
	updated, err := s.visitRepo.Resolve(ctx, requestID, status, now)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve visit request: %w", err)
	}
	if updated == nil {
		return nil, domain.ErrAlreadyResolved
	}

	subject := events.VisitApproved
	if status == domain.StatusDenied {
		subject = events.VisitDenied
	}
	event := events.VisitResolvedEvent{
		RequestID:  updated.ID,
		VisitorID:  updated.VisitorID,
		OwnerID:    updated.OwnerID,
		Status:     string(status),
		ResolvedBy: actor.ID,
		ResolvedAt: now,
	}
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish visit resolved event", "error", err, "request_id", updated.ID)
	}
	s.notify(ctx, updated, string(status))

	return updated, nil
}

func (s *ledgerService) Cancel(ctx context.Context, requestID int64, actor domain.Actor) error {
	visit, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}

	if actor.Role != domain.RoleAdmin && actor.ID != visit.VisitorID && actor.ID != visit.OwnerID {
		return domain.ErrUnauthorized
	}

	// Deactivate carries the open-session guard inside the statement,
	// so a check-in racing this cancel cannot slip between a read here
	// and the write there.
	deactivated, err := s.visitRepo.Deactivate(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to cancel visit request: %w", err)
	}
	if !deactivated {
		session, err := s.sessionRepo.GetByRequest(ctx, requestID)
		if err != nil {
			return fmt.Errorf("failed to check check-in session: %w", err)
		}
		if session.IsOpen() {
			return domain.ErrCannotCancelCheckedIn
		}
		// Already inactive; canceling twice is a no-op.
		return nil
	}

	event := events.VisitCanceledEvent{
		RequestID:  visit.ID,
		VisitorID:  visit.VisitorID,
		CanceledBy: actor.ID,
		CanceledAt: time.Now(),
	}
	if err := s.eventBus.Publish(ctx, events.VisitCanceled, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish visit canceled event", "error", err, "request_id", visit.ID)
	}

	return nil
}

func (s *ledgerService) Update(ctx context.Context, requestID int64, patch domain.RequestPatch, actor domain.Actor) (*domain.VisitRequest, error) {
	if !actor.Capabilities().CanEditAllFields {
		return nil, domain.ErrUnauthorized
	}

	existing, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if patch.AppointmentDate != nil && patch.AppointmentDate.Before(time.Now()) {
		return nil, fmt.Errorf("%w: appointment date must be in the future", domain.ErrInvalidInput)
	}

	updated, err := s.visitRepo.Update(ctx, requestID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to update visit request: %w", err)
	}
	if updated == nil {
		return nil, domain.ErrRequestNotFound
	}

	// The audit trail is append-only and best-effort: a failed write
	// never rolls back the edit.
	for _, change := range diffChanges(existing, updated) {
		if err := s.auditRepo.Append(ctx, requestID, actor.ID, change); err != nil {
			logger.ErrorContext(ctx, "Failed to append audit entry", "error", err, "request_id", requestID, "change", change)
		}
	}

	return updated, nil
}

func (s *ledgerService) AuditTrail(ctx context.Context, requestID int64) ([]domain.AuditEntry, error) {
	return s.auditRepo.ListByRequest(ctx, requestID)
}

func (s *ledgerService) validateCreate(in *domain.CreateRequestInput) error {
	if in.VisitorID == "" || in.OwnerID == "" || in.RoomID == "" {
		return fmt.Errorf("%w: visitor, owner and room are required", domain.ErrInvalidInput)
	}
	if in.AppointmentDate != nil && in.AppointmentDate.Before(time.Now()) {
		return fmt.Errorf("%w: appointment date must be in the future", domain.ErrInvalidInput)
	}
	return nil
}

func (s *ledgerService) notify(ctx context.Context, visit *domain.VisitRequest, outcome string) {
	event := events.NotificationEvent{
		Type:      "visit_" + outcome,
		Recipient: visit.VisitorID,
		Subject:   fmt.Sprintf("Your visit request for room %s was %s", visit.RoomID, outcome),
		Data: map[string]interface{}{
			"request_id": visit.ID,
			"room_id":    visit.RoomID,
			"status":     outcome,
		},
	}
	if err := s.eventBus.Publish(ctx, events.NotifySend, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish notification event", "error", err, "request_id", visit.ID)
	}
}

func diffChanges(old, new *domain.VisitRequest) []string {
	var changes []string

	if old.RoomID != new.RoomID {
		changes = append(changes, fmt.Sprintf("room changed from %s to %s", old.RoomID, new.RoomID))
	}
	if old.Purpose != new.Purpose {
		changes = append(changes, fmt.Sprintf("purpose changed from %q to %q", old.Purpose, new.Purpose))
	}
	switch {
	case old.AppointmentDate == nil && new.AppointmentDate != nil:
		changes = append(changes, fmt.Sprintf("appointment set to %s", new.AppointmentDate.Format(time.RFC3339)))
	case old.AppointmentDate != nil && new.AppointmentDate != nil && !old.AppointmentDate.Equal(*new.AppointmentDate):
		changes = append(changes, fmt.Sprintf("appointment moved from %s to %s",
			old.AppointmentDate.Format(time.RFC3339), new.AppointmentDate.Format(time.RFC3339)))
	}

	return changes
}
