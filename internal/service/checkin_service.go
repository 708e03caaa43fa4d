package service

import (
	"context"
	"fmt"
	"time"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/repo/postgres"
	"github.com/premisehq/visitor-gate/pkg/events"
	"github.com/premisehq/visitor-gate/pkg/logger"
)

type CheckInService interface {
	CheckIn(ctx context.Context, requestID int64, actor domain.Actor) (*domain.CheckInSession, error)
	CheckOut(ctx context.Context, requestID int64, actor domain.Actor) (*domain.CheckInSession, error)
	Session(ctx context.Context, requestID int64) (*domain.CheckInSession, error)
}

type checkInService struct {
	visitRepo   postgres.VisitRepo
	sessionRepo postgres.SessionRepo
	eventBus    events.Publisher
}

func NewCheckInService(visitRepo postgres.VisitRepo, sessionRepo postgres.SessionRepo, eventBus events.Publisher) CheckInService {
	return &checkInService{
		visitRepo:   visitRepo,
		sessionRepo: sessionRepo,
		eventBus:    eventBus,
	}
}

func (s *checkInService) CheckIn(ctx context.Context, requestID int64, actor domain.Actor) (*domain.CheckInSession, error) {
	visit, err := s.visitRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get visit request: %w", err)
	}
	if visit == nil {
		return nil, domain.ErrRequestNotFound
	}

	if !actor.Capabilities().CanCheckInOut && actor.ID != visit.VisitorID {
		return nil, domain.ErrUnauthorized
	}
	if visit.Status != domain.StatusApproved || !visit.Active {
		return nil, domain.ErrNotApproved
	}

	existing, err := s.sessionRepo.GetByRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing session: %w", err)
	}
	if existing != nil {
		// One session per request, open or closed.
		return nil, domain.ErrAlreadyCheckedIn
	}

	session, err := s.sessionRepo.Create(ctx, requestID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to create check-in session: %w", err)
	}
	if session == nil {
		// Lost the insert race to a concurrent check-in.
		return nil, domain.ErrAlreadyCheckedIn
	}

	s.publishCheck(ctx, events.VisitCheckedIn, visit, actor, session.CheckInAt)
	return session, nil
}

func (s *checkInService) CheckOut(ctx context.Context, requestID int64, actor domain.Actor) (*domain.CheckInSession, error) {
	visit, err := s.visitRepo.GetByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to get visit request: %w", err)
	}
	if visit == nil {
		return nil, domain.ErrRequestNotFound
	}

	if !actor.Capabilities().CanCheckInOut && actor.ID != visit.VisitorID {
		return nil, domain.ErrUnauthorized
	}

	session, err := s.sessionRepo.Close(ctx, requestID, actor.ID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to close check-in session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrNoOpenSession
	}

	s.publishCheck(ctx, events.VisitCheckedOut, visit, actor, *session.CheckOutAt)
	return session, nil
}

func (s *checkInService) Session(ctx context.Context, requestID int64) (*domain.CheckInSession, error) {
	return s.sessionRepo.GetByRequest(ctx, requestID)
}

func (s *checkInService) publishCheck(ctx context.Context, subject string, visit *domain.VisitRequest, actor domain.Actor, at time.Time) {
	event := events.VisitCheckEvent{
		RequestID: visit.ID,
		VisitorID: visit.VisitorID,
		RoomID:    visit.RoomID,
		ActorID:   actor.ID,
		At:        at,
	}
	if err := s.eventBus.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish check event", "error", err, "request_id", visit.ID, "subject", subject)
	}
}
