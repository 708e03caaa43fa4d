package service

import (
	"context"
	"fmt"

	"github.com/alexedwards/argon2id"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/internal/otp"
	"github.com/premisehq/visitor-gate/internal/repo/postgres"
	"github.com/premisehq/visitor-gate/pkg/logger"
)

// PassService manages facility passes: facility-scoped single-consumer
// codes with a persisted, hashed counterpart. The plain code exists
// only in the registry and in the issue response.
type PassService interface {
	Issue(ctx context.Context, issuerID, consumerID string, actor domain.Actor) (*domain.FacilityPass, string, error)
	Revoke(ctx context.Context, passID int64, actor domain.Actor) error
	ListActive(ctx context.Context, actor domain.Actor) ([]domain.FacilityPass, error)
}

type passService struct {
	passRepo postgres.PassRepo
	codes    *otp.Registry
}

func NewPassService(passRepo postgres.PassRepo, codes *otp.Registry) PassService {
	return &passService{passRepo: passRepo, codes: codes}
}

func (s *passService) Issue(ctx context.Context, issuerID, consumerID string, actor domain.Actor) (*domain.FacilityPass, string, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, "", domain.ErrUnauthorized
	}

	entry, err := s.codes.IssueFacility(ctx, issuerID, consumerID)
	if err != nil {
		return nil, "", err
	}

	hash, err := argon2id.CreateHash(entry.Code, argon2id.DefaultParams)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash pass code: %w", err)
	}

	pass, err := s.passRepo.Create(ctx, issuerID, consumerID, hash, entry.ExpiresAt)
	if err != nil {
		// Keep the registry consistent with the store.
		s.codes.ForceRemove(entry.Code)
		return nil, "", fmt.Errorf("failed to persist facility pass: %w", err)
	}

	logger.InfoContext(ctx, "Facility pass issued", "pass_id", pass.ID, "issuer_id", issuerID)
	return pass, entry.Code, nil
}

func (s *passService) Revoke(ctx context.Context, passID int64, actor domain.Actor) error {
	if actor.Role != domain.RoleAdmin {
		return domain.ErrUnauthorized
	}

	pass, err := s.passRepo.GetByID(ctx, passID)
	if err != nil {
		return fmt.Errorf("failed to get facility pass: %w", err)
	}
	if pass == nil {
		return domain.ErrPassNotFound
	}

	if _, err := s.passRepo.Revoke(ctx, passID); err != nil {
		return fmt.Errorf("failed to revoke facility pass: %w", err)
	}

	if entry, ok := s.codes.ActiveForIssuer(pass.IssuerID); ok {
		s.codes.ForceRemove(entry.Code)
	}

	logger.InfoContext(ctx, "Facility pass revoked", "pass_id", passID)
	return nil
}

func (s *passService) ListActive(ctx context.Context, actor domain.Actor) ([]domain.FacilityPass, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, domain.ErrUnauthorized
	}
	return s.passRepo.ListActive(ctx)
}
