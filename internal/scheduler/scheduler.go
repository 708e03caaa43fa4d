package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/repo/postgres"
	"github.com/premisehq/visitor-gate/pkg/events"
	"github.com/premisehq/visitor-gate/pkg/logger"
)

// VisitStore is the slice of the ledger the scheduler needs: the
// compare-and-set deny plus a read for event payloads.
type VisitStore interface {
	DenyIfPending(ctx context.Context, id int64, deniedAt time.Time) (bool, error)
	GetByID(ctx context.Context, id int64) (*domain.VisitRequest, error)
}

type DeadlineStore interface {
	Upsert(ctx context.Context, requestID int64, dueAt time.Time) error
	Delete(ctx context.Context, requestID int64) error
	ListAll(ctx context.Context) ([]postgres.Deadline, error)
}

// Scheduler auto-denies appointment-bound requests nobody acts on. The
// persisted deadline table is the source of truth; timers armed here
// are an optimization and are rebuilt by Start after a restart.
//
// A timer firing on an already-resolved request is expected steady
// state: DenyIfPending observes zero rows and the wake-up is discarded.
type Scheduler struct {
	visits    VisitStore
	deadlines DeadlineStore
	bus       events.Publisher

	mu      sync.Mutex
	timers  map[int64]*time.Timer
	stopped bool
}

type Option func(*Scheduler)

func WithPublisher(bus events.Publisher) Option {
	return func(s *Scheduler) { s.bus = bus }
}

func New(visits VisitStore, deadlines DeadlineStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		visits:    visits,
		deadlines: deadlines,
		timers:    make(map[int64]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the recovery scan: overdue deadlines fire immediately, the
// rest get their timers re-armed.
func (s *Scheduler) Start(ctx context.Context) error {
	ds, err := s.deadlines.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted deadlines: %w", err)
	}

	now := time.Now()
	recovered := 0
	for _, d := range ds {
		if !d.DueAt.After(now) {
			go s.expire(d.RequestID)
		} else {
			s.arm(d.RequestID, d.DueAt.Sub(now))
		}
		recovered++
	}

	if recovered > 0 {
		logger.InfoContext(ctx, "Recovered auto-deny deadlines", "count", recovered)
	}
	return nil
}

// Stop discards armed timers. Persisted deadlines survive and are
// picked up by the next Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// ScheduleAutoDeny persists the deadline and arms a one-shot timer.
func (s *Scheduler) ScheduleAutoDeny(ctx context.Context, requestID int64, dueAt time.Time) error {
	if err := s.deadlines.Upsert(ctx, requestID, dueAt); err != nil {
		return fmt.Errorf("failed to persist auto-deny deadline: %w", err)
	}
	s.arm(requestID, time.Until(dueAt))
	return nil
}

func (s *Scheduler) arm(requestID int64, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.timers[requestID]; ok {
		prev.Stop()
	}
	s.timers[requestID] = time.AfterFunc(delay, func() {
		s.expire(requestID)
	})
}

// expire re-validates against stored state, not the state captured at
// scheduling time: the SQL compare-and-set only fires while the request
// is still pending, so a racing human approval wins once committed.
func (s *Scheduler) expire(requestID int64) {
	s.mu.Lock()
	delete(s.timers, requestID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	denied, err := s.visits.DenyIfPending(ctx, requestID, now)
	if err != nil {
		logger.Error("Auto-deny failed", "error", err, "request_id", requestID)
		return
	}

	// Discharged either way; a lost race leaves nothing to re-fire.
	if err := s.deadlines.Delete(ctx, requestID); err != nil {
		logger.Error("Failed to delete discharged deadline", "error", err, "request_id", requestID)
	}

	if !denied {
		logger.Debug("Auto-deny skipped, request already resolved", "request_id", requestID)
		return
	}

	logger.Info("Request auto-denied after deadline", "request_id", requestID)

	if s.bus == nil {
		return
	}
	v, err := s.visits.GetByID(ctx, requestID)
	if err != nil || v == nil {
		logger.Error("Failed to load auto-denied request for event", "error", err, "request_id", requestID)
		return
	}
	event := events.VisitResolvedEvent{
		RequestID:  v.ID,
		VisitorID:  v.VisitorID,
		OwnerID:    v.OwnerID,
		Status:     string(domain.StatusDenied),
		ResolvedBy: "auto-deny",
		ResolvedAt: now,
	}
	if err := s.bus.Publish(ctx, events.VisitExpired, event); err != nil {
		logger.Error("Failed to publish visit expired event", "error", err, "request_id", requestID)
	}
}
