package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/otp"
	"github.com/premisehq/visitor-gate/internal/service"
	"github.com/premisehq/visitor-gate/pkg/events"
)

type ledgerFixture struct {
	svc       service.LedgerService
	visits    *mockVisitRepo
	sessions  *mockSessionRepo
	audit     *mockAuditRepo
	codes     *otp.Registry
	scheduler *mockScheduler
	bus       *mockPublisher
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	sessions := newMockSessionRepo()
	visits := newMockVisitRepo(sessions)
	audit := &mockAuditRepo{}
	codes := otp.New()
	t.Cleanup(codes.Close)
	sched := newMockScheduler()
	bus := &mockPublisher{}

	svc := service.NewLedgerService(visits, sessions, audit, codes, sched, bus, 12*time.Hour)
	return &ledgerFixture{
		svc:       svc,
		visits:    visits,
		sessions:  sessions,
		audit:     audit,
		codes:     codes,
		scheduler: sched,
		bus:       bus,
	}
}

func futureDate(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}

func TestCreateRequestPending(t *testing.T) {
	f := newLedgerFixture(t)

	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:       "visitor-1",
		OwnerID:         "owner-1",
		RoomID:          "12A",
		Purpose:         "delivery",
		AppointmentDate: futureDate(48 * time.Hour),
		CreatorRole:     domain.RoleVisitor,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	if visit.Status != domain.StatusPending {
		t.Errorf("expected status pending, got %s", visit.Status)
	}
	if visit.VerifiedAt != nil {
		t.Error("expected no verification timestamp on a pending request")
	}
	if !visit.Active {
		t.Error("expected new request to be active")
	}
	if _, ok := f.scheduler.scheduled[visit.ID]; !ok {
		t.Error("expected an auto-deny deadline for an appointment request")
	}
	if !f.bus.published(events.VisitRequested) {
		t.Error("expected a visit requested event")
	}
}

func TestCreateRequestValidation(t *testing.T) {
	f := newLedgerFixture(t)

	cases := []struct {
		name string
		in   domain.CreateRequestInput
	}{
		{"missing visitor", domain.CreateRequestInput{OwnerID: "owner-1", RoomID: "12A"}},
		{"missing room", domain.CreateRequestInput{VisitorID: "visitor-1", OwnerID: "owner-1"}},
		{"appointment in the past", domain.CreateRequestInput{
			VisitorID: "visitor-1", OwnerID: "owner-1", RoomID: "12A",
			AppointmentDate: futureDate(-time.Hour),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.CreateRequest(context.Background(), &tc.in); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateRequestRejectsActiveDuplicate(t *testing.T) {
	f := newLedgerFixture(t)
	appt := futureDate(48 * time.Hour)

	in := domain.CreateRequestInput{
		VisitorID:       "visitor-1",
		OwnerID:         "owner-1",
		RoomID:          "12A",
		AppointmentDate: appt,
		CreatorRole:     domain.RoleVisitor,
	}
	if _, err := f.svc.CreateRequest(context.Background(), &in); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	second := in
	if _, err := f.svc.CreateRequest(context.Background(), &second); !errors.Is(err, domain.ErrDuplicateActive) {
		t.Fatalf("expected ErrDuplicateActive, got %v", err)
	}

	// A different room on the same day is a different slot.
	other := in
	other.RoomID = "14B"
	if _, err := f.svc.CreateRequest(context.Background(), &other); err != nil {
		t.Errorf("request for a different room failed: %v", err)
	}
}

func TestConcurrentCreateYieldsOneRequest(t *testing.T) {
	f := newLedgerFixture(t)
	appt := futureDate(48 * time.Hour)

	// Hold both creators at the duplicate check until each has passed
	// it, so the insert alone must defend the slot.
	var arrived atomic.Int32
	barrier := make(chan struct{})
	f.visits.onDuplicateCheck = func() {
		if arrived.Add(1) == 2 {
			close(barrier)
		}
		<-barrier
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
				VisitorID:       "visitor-1",
				OwnerID:         "owner-1",
				RoomID:          "201",
				AppointmentDate: appt,
				CreatorRole:     domain.RoleVisitor,
			})
			errs <- err
		}()
	}

	var created, duplicates int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrDuplicateActive):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if created != 1 || duplicates != 1 {
		t.Fatalf("expected exactly one winner, got %d created and %d duplicates", created, duplicates)
	}
}

func TestCompletedVisitFreesTheSlot(t *testing.T) {
	f := newLedgerFixture(t)
	appt := futureDate(48 * time.Hour)
	owner := domain.Actor{ID: "owner-1", Role: domain.RoleOwner}
	staff := domain.Actor{ID: "staff-1", Role: domain.RoleStaff}

	in := domain.CreateRequestInput{
		VisitorID:       "visitor-1",
		OwnerID:         "owner-1",
		RoomID:          "12A",
		AppointmentDate: appt,
		CreatorRole:     domain.RoleVisitor,
	}
	visit, err := f.svc.CreateRequest(context.Background(), &in)
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if _, err := f.svc.Approve(context.Background(), visit.ID, owner); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	checkin := service.NewCheckInService(f.visits, f.sessions, f.bus)
	if _, err := checkin.CheckIn(context.Background(), visit.ID, staff); err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if _, err := checkin.CheckOut(context.Background(), visit.ID, staff); err != nil {
		t.Fatalf("CheckOut failed: %v", err)
	}

	second := in
	if _, err := f.svc.CreateRequest(context.Background(), &second); err != nil {
		t.Errorf("expected a completed visit to free the slot, got %v", err)
	}
}

func TestCreateRequestWithCodeIsPreApproved(t *testing.T) {
	f := newLedgerFixture(t)

	code, err := f.codes.Issue(context.Background(), "owner-1", 1)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:    "visitor-1",
		OwnerID:      "owner-1",
		RoomID:       "12A",
		CreatorRole:  domain.RoleStaff,
		SuppliedCode: code.Code,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	if visit.Status != domain.StatusApproved {
		t.Errorf("expected approved status, got %s", visit.Status)
	}
	if visit.VerifiedAt == nil {
		t.Error("expected a verification timestamp")
	}
	if len(f.scheduler.scheduled) != 0 {
		t.Error("walk-ins must not get an auto-deny deadline")
	}

	// A single-use code is gone after redemption.
	if _, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:    "visitor-2",
		OwnerID:      "owner-1",
		RoomID:       "12A",
		CreatorRole:  domain.RoleStaff,
		SuppliedCode: code.Code,
	}); !errors.Is(err, domain.ErrInvalidCode) {
		t.Errorf("expected ErrInvalidCode on an exhausted code, got %v", err)
	}
}

func TestCreateRequestRejectsBadCode(t *testing.T) {
	f := newLedgerFixture(t)

	if _, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:    "visitor-1",
		OwnerID:      "owner-1",
		RoomID:       "12A",
		CreatorRole:  domain.RoleStaff,
		SuppliedCode: "NOPE99",
	}); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestApproveAuthorization(t *testing.T) {
	f := newLedgerFixture(t)

	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:       "visitor-1",
		OwnerID:         "owner-1",
		RoomID:          "12A",
		AppointmentDate: futureDate(24 * time.Hour),
		CreatorRole:     domain.RoleVisitor,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	// Another owner cannot decide on this room.
	if _, err := f.svc.Approve(context.Background(), visit.ID, domain.Actor{ID: "owner-2", Role: domain.RoleOwner}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for a different owner, got %v", err)
	}

	// Visitors cannot approve at all.
	if _, err := f.svc.Approve(context.Background(), visit.ID, domain.Actor{ID: "visitor-1", Role: domain.RoleVisitor}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for a visitor, got %v", err)
	}

	updated, err := f.svc.Approve(context.Background(), visit.ID, domain.Actor{ID: "owner-1", Role: domain.RoleOwner})
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if updated.Status != domain.StatusApproved {
		t.Errorf("expected approved status, got %s", updated.Status)
	}
	if updated.VerifiedAt == nil {
		t.Error("expected a verification timestamp")
	}
	if !f.bus.published(events.VisitApproved) {
		t.Error("expected a visit approved event")
	}
	if !f.bus.published(events.NotifySend) {
		t.Error("expected a notification event")
	}
}

func TestAdminBypassesOwnershipCheck(t *testing.T) {
	f := newLedgerFixture(t)

	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:       "visitor-1",
		OwnerID:         "owner-1",
		RoomID:          "12A",
		AppointmentDate: futureDate(24 * time.Hour),
		CreatorRole:     domain.RoleVisitor,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	updated, err := f.svc.Deny(context.Background(), visit.ID, domain.Actor{ID: "admin-1", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("admin Deny failed: %v", err)
	}
	if updated.Status != domain.StatusDenied {
		t.Errorf("expected denied status, got %s", updated.Status)
	}
	if !f.bus.published(events.VisitDenied) {
		t.Error("expected a visit denied event")
	}
}

func TestResolveIsSingleShot(t *testing.T) {
	f := newLedgerFixture(t)
	owner := domain.Actor{ID: "owner-1", Role: domain.RoleOwner}

	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:       "visitor-1",
		OwnerID:         "owner-1",
		RoomID:          "12A",
		AppointmentDate: futureDate(24 * time.Hour),
		CreatorRole:     domain.RoleVisitor,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	if _, err := f.svc.Approve(context.Background(), visit.ID, owner); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	if _, err := f.svc.Deny(context.Background(), visit.ID, owner); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved after approval, got %v", err)
	}
	if _, err := f.svc.Approve(context.Background(), visit.ID, owner); !errors.Is(err, domain.ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved on re-approval, got %v", err)
	}
}

func TestResolveUnknownRequest(t *testing.T) {
	f := newLedgerFixture(t)

	if _, err := f.svc.Approve(context.Background(), 404, domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestCancelRules(t *testing.T) {
	f := newLedgerFixture(t)
	owner := domain.Actor{ID: "owner-1", Role: domain.RoleOwner}
	staff := domain.Actor{ID: "staff-1", Role: domain.RoleStaff}

	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:       "visitor-1",
		OwnerID:         "owner-1",
		RoomID:          "12A",
		AppointmentDate: futureDate(24 * time.Hour),
		CreatorRole:     domain.RoleVisitor,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	// Only the visitor, the owner or an admin may cancel.
	if err := f.svc.Cancel(context.Background(), visit.ID, domain.Actor{ID: "visitor-9", Role: domain.RoleVisitor}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for a stranger, got %v", err)
	}

	if _, err := f.svc.Approve(context.Background(), visit.ID, owner); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	checkin := service.NewCheckInService(f.visits, f.sessions, f.bus)
	if _, err := checkin.CheckIn(context.Background(), visit.ID, staff); err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}

	// An open session blocks cancellation.
	if err := f.svc.Cancel(context.Background(), visit.ID, owner); !errors.Is(err, domain.ErrCannotCancelCheckedIn) {
		t.Errorf("expected ErrCannotCancelCheckedIn, got %v", err)
	}

	if _, err := checkin.CheckOut(context.Background(), visit.ID, staff); err != nil {
		t.Fatalf("CheckOut failed: %v", err)
	}

	if err := f.svc.Cancel(context.Background(), visit.ID, owner); err != nil {
		t.Fatalf("Cancel after check-out failed: %v", err)
	}

	got, err := f.svc.GetRequest(context.Background(), visit.ID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if got.Active {
		t.Error("expected canceled request to be inactive")
	}
	if !f.bus.published(events.VisitCanceled) {
		t.Error("expected a visit canceled event")
	}
}

func TestCheckInRacingCancelBlocksIt(t *testing.T) {
	f := newLedgerFixture(t)
	owner := domain.Actor{ID: "owner-1", Role: domain.RoleOwner}
	staff := domain.Actor{ID: "staff-1", Role: domain.RoleStaff}

	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:       "visitor-1",
		OwnerID:         "owner-1",
		RoomID:          "12A",
		AppointmentDate: futureDate(24 * time.Hour),
		CreatorRole:     domain.RoleVisitor,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}
	if _, err := f.svc.Approve(context.Background(), visit.ID, owner); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// A check-in lands after the cancel has loaded the request but
	// before it deactivates; the guarded write must still see it.
	checkin := service.NewCheckInService(f.visits, f.sessions, f.bus)
	f.visits.onDeactivate = func() {
		f.visits.onDeactivate = nil
		if _, err := checkin.CheckIn(context.Background(), visit.ID, staff); err != nil {
			t.Errorf("racing CheckIn failed: %v", err)
		}
	}

	if err := f.svc.Cancel(context.Background(), visit.ID, owner); !errors.Is(err, domain.ErrCannotCancelCheckedIn) {
		t.Fatalf("expected ErrCannotCancelCheckedIn, got %v", err)
	}

	got, err := f.svc.GetRequest(context.Background(), visit.ID)
	if err != nil {
		t.Fatalf("GetRequest failed: %v", err)
	}
	if !got.Active {
		t.Error("expected the checked-in request to stay active")
	}
}

func TestOwnerCodeScopedToIssuer(t *testing.T) {
	f := newLedgerFixture(t)

	code, err := f.codes.Issue(context.Background(), "owner-2", 1)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// owner-2's code does not authorize a visit to owner-1's room.
	if _, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:    "visitor-1",
		OwnerID:      "owner-1",
		RoomID:       "12A",
		CreatorRole:  domain.RoleStaff,
		SuppliedCode: code.Code,
	}); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode for a foreign owner code, got %v", err)
	}

	// The rejection must not consume a use.
	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:    "visitor-1",
		OwnerID:      "owner-2",
		RoomID:       "30B",
		CreatorRole:  domain.RoleStaff,
		SuppliedCode: code.Code,
	})
	if err != nil {
		t.Fatalf("CreateRequest for the issuing owner failed: %v", err)
	}
	if visit.Status != domain.StatusApproved {
		t.Errorf("expected approved status, got %s", visit.Status)
	}
}

func TestFacilityCodeWorksForAnyRoom(t *testing.T) {
	f := newLedgerFixture(t)

	code, err := f.codes.IssueFacility(context.Background(), "facility-desk", "visitor-1")
	if err != nil {
		t.Fatalf("IssueFacility failed: %v", err)
	}

	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:    "visitor-1",
		OwnerID:      "owner-1",
		RoomID:       "12A",
		CreatorRole:  domain.RoleStaff,
		SuppliedCode: code.Code,
	})
	if err != nil {
		t.Fatalf("CreateRequest with facility code failed: %v", err)
	}
	if visit.Status != domain.StatusApproved {
		t.Errorf("expected approved status, got %s", visit.Status)
	}
}

func TestUpdateRequiresAdmin(t *testing.T) {
	f := newLedgerFixture(t)

	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:       "visitor-1",
		OwnerID:         "owner-1",
		RoomID:          "12A",
		Purpose:         "delivery",
		AppointmentDate: futureDate(24 * time.Hour),
		CreatorRole:     domain.RoleVisitor,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	room := "14B"
	patch := domain.RequestPatch{RoomID: &room}

	for _, role := range []domain.Role{domain.RoleVisitor, domain.RoleOwner, domain.RoleStaff, domain.RoleKiosk} {
		if _, err := f.svc.Update(context.Background(), visit.ID, patch, domain.Actor{ID: "someone", Role: role}); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("role %s: expected ErrUnauthorized, got %v", role, err)
		}
	}
}

func TestUpdateWritesAuditTrail(t *testing.T) {
	f := newLedgerFixture(t)
	admin := domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}

	visit, err := f.svc.CreateRequest(context.Background(), &domain.CreateRequestInput{
		VisitorID:       "visitor-1",
		OwnerID:         "owner-1",
		RoomID:          "12A",
		Purpose:         "delivery",
		AppointmentDate: futureDate(24 * time.Hour),
		CreatorRole:     domain.RoleVisitor,
	})
	if err != nil {
		t.Fatalf("CreateRequest failed: %v", err)
	}

	room := "14B"
	purpose := "maintenance"
	updated, err := f.svc.Update(context.Background(), visit.ID, domain.RequestPatch{RoomID: &room, Purpose: &purpose}, admin)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.RoomID != room || updated.Purpose != purpose {
		t.Errorf("patch not applied: got room=%s purpose=%s", updated.RoomID, updated.Purpose)
	}

	entries, err := f.svc.AuditTrail(context.Background(), visit.ID)
	if err != nil {
		t.Fatalf("AuditTrail failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.ActorID != admin.ID {
			t.Errorf("expected audit actor %s, got %s", admin.ID, e.ActorID)
		}
	}
}
