package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/repo/postgres"
)

// ---------- Mocks ----------

type mockVisitRepo struct {
	mu       sync.Mutex
	nextID   int64
	visits   map[int64]*domain.VisitRequest
	sessions *mockSessionRepo

	// Test hooks, invoked before the guarded write takes its lock.
	onDuplicateCheck func()
	onDeactivate     func()
}

func newMockVisitRepo(sessions *mockSessionRepo) *mockVisitRepo {
	return &mockVisitRepo{
		nextID:   1,
		visits:   make(map[int64]*domain.VisitRequest),
		sessions: sessions,
	}
}

func (m *mockVisitRepo) Create(_ context.Context, in *domain.CreateRequestInput, status domain.VerificationStatus, verifiedAt *time.Time) (*domain.VisitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Same contract as the SQL implementation: the duplicate predicate
	// is re-checked under the lock that serializes the insert.
	day := time.Now()
	if in.AppointmentDate != nil {
		day = *in.AppointmentDate
	}
	if m.hasActiveDuplicateLocked(in.RoomID, in.VisitorID, day.Truncate(24*time.Hour)) {
		return nil, nil
	}

	id := m.nextID
	m.nextID++

	now := time.Now()
	v := &domain.VisitRequest{
		ID:              id,
		Status:          status,
		VisitorID:       in.VisitorID,
		OwnerID:         in.OwnerID,
		RoomID:          in.RoomID,
		Purpose:         in.Purpose,
		IssueDate:       now,
		AppointmentDate: in.AppointmentDate,
		VerifiedAt:      verifiedAt,
		CreatorRole:     in.CreatorRole,
		CodeUsed:        in.SuppliedCode,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.visits[id] = v
	cp := *v
	return &cp, nil
}

func (m *mockVisitRepo) GetByID(_ context.Context, id int64) (*domain.VisitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.visits[id]
	if !ok {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (m *mockVisitRepo) ExistsActiveDuplicate(_ context.Context, roomID, visitorID string, day time.Time) (bool, error) {
	if m.onDuplicateCheck != nil {
		m.onDuplicateCheck()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.hasActiveDuplicateLocked(roomID, visitorID, day.Truncate(24*time.Hour)), nil
}

func (m *mockVisitRepo) hasActiveDuplicateLocked(roomID, visitorID string, day time.Time) bool {
	for _, v := range m.visits {
		if v.RoomID != roomID || v.VisitorID != visitorID || !v.Active {
			continue
		}
		if v.Status != domain.StatusPending && v.Status != domain.StatusApproved {
			continue
		}
		if !v.VisitDay().Equal(day) {
			continue
		}
		if m.sessions != nil {
			if s := m.sessions.get(v.ID); s != nil && s.CheckOutAt != nil {
				continue // completed check-out frees the slot
			}
		}
		return true
	}
	return false
}

func (m *mockVisitRepo) Resolve(_ context.Context, id int64, status domain.VerificationStatus, verifiedAt time.Time) (*domain.VisitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.visits[id]
	if !ok || v.Status != domain.StatusPending {
		return nil, nil
	}
	v.Status = status
	v.VerifiedAt = &verifiedAt
	v.UpdatedAt = time.Now()
	cp := *v
	return &cp, nil
}

func (m *mockVisitRepo) DenyIfPending(_ context.Context, id int64, deniedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.visits[id]
	if !ok || v.Status != domain.StatusPending {
		return false, nil
	}
	v.Status = domain.StatusDenied
	v.VerifiedAt = &deniedAt
	v.Active = false
	return true, nil
}

func (m *mockVisitRepo) Deactivate(_ context.Context, id int64) (bool, error) {
	if m.onDeactivate != nil {
		m.onDeactivate()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.visits[id]
	if !ok || !v.Active {
		return false, nil
	}
	if m.sessions != nil {
		if s := m.sessions.get(id); s.IsOpen() {
			return false, nil
		}
	}
	v.Active = false
	return true, nil
}

func (m *mockVisitRepo) Update(_ context.Context, id int64, patch domain.RequestPatch) (*domain.VisitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.visits[id]
	if !ok {
		return nil, nil
	}
	if patch.RoomID != nil {
		v.RoomID = *patch.RoomID
	}
	if patch.Purpose != nil {
		v.Purpose = *patch.Purpose
	}
	if patch.AppointmentDate != nil {
		d := *patch.AppointmentDate
		v.AppointmentDate = &d
	}
	v.UpdatedAt = time.Now()
	cp := *v
	return &cp, nil
}

func (m *mockVisitRepo) List(_ context.Context, limit, offset int) ([]domain.VisitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.VisitRequest
	for _, v := range m.visits {
		out = append(out, *v)
	}
	return out, nil
}

func (m *mockVisitRepo) ListByVisitor(_ context.Context, visitorID string, limit, offset int) ([]domain.VisitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.VisitRequest
	for _, v := range m.visits {
		if v.VisitorID == visitorID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (m *mockVisitRepo) ListByOwner(_ context.Context, ownerID string, status *domain.VerificationStatus, limit, offset int) ([]domain.VisitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.VisitRequest
	for _, v := range m.visits {
		if v.OwnerID != ownerID {
			continue
		}
		if status != nil && v.Status != *status {
			continue
		}
		out = append(out, *v)
	}
	return out, nil
}

var _ postgres.VisitRepo = (*mockVisitRepo)(nil)

type mockSessionRepo struct {
	mu       sync.Mutex
	sessions map[int64]*domain.CheckInSession
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[int64]*domain.CheckInSession)}
}

func (m *mockSessionRepo) get(requestID int64) *domain.CheckInSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[requestID]
}

func (m *mockSessionRepo) Create(_ context.Context, requestID int64, checkInAt time.Time) (*domain.CheckInSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[requestID]; exists {
		return nil, nil
	}
	s := &domain.CheckInSession{RequestID: requestID, CheckInAt: checkInAt}
	m.sessions[requestID] = s
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) GetByRequest(_ context.Context, requestID int64) (*domain.CheckInSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[requestID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepo) Close(_ context.Context, requestID int64, actorID string, checkOutAt time.Time) (*domain.CheckInSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[requestID]
	if !ok || s.CheckOutAt != nil {
		return nil, nil
	}
	s.CheckOutAt = &checkOutAt
	s.CheckedOutBy = actorID
	cp := *s
	return &cp, nil
}

var _ postgres.SessionRepo = (*mockSessionRepo)(nil)

type mockAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *mockAuditRepo) Append(_ context.Context, requestID int64, actorID, change string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, domain.AuditEntry{
		ID:        int64(len(m.entries) + 1),
		RequestID: requestID,
		ActorID:   actorID,
		Change:    change,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *mockAuditRepo) ListByRequest(_ context.Context, requestID int64) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ postgres.AuditRepo = (*mockAuditRepo)(nil)

type mockScheduler struct {
	mu        sync.Mutex
	scheduled map[int64]time.Time
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{scheduled: make(map[int64]time.Time)}
}

func (m *mockScheduler) ScheduleAutoDeny(_ context.Context, requestID int64, dueAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled[requestID] = dueAt
	return nil
}

type mockPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mockPublisher) Publish(_ context.Context, subject string, _ interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) published(subject string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subjects {
		if s == subject {
			return true
		}
	}
	return false
}
