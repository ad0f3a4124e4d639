// Package profile maps identity claims to durable user profiles and
// maintains the dependent company record.
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenderscope-ai/be-plt-accounts/internal/identity"
	"github.com/tenderscope-ai/be-plt-accounts/internal/metrics"
	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

var (
	// ErrProfileUnavailable wraps store failures during resolution that
	// are not the distinguished not-found condition.
	ErrProfileUnavailable = errors.New("profile store unavailable")

	// ErrNotFound reports an update against an unknown user.
	ErrNotFound = errors.New("user not found")

	// ErrWriteConflict reports a write rejected by the store.
	ErrWriteConflict = errors.New("write conflict")

	// ErrOwnerMismatch reports a company save naming a different owner.
	ErrOwnerMismatch = errors.New("company owner mismatch")
)

// Service is the profile reconciliation service: a bijective, idempotent
// mapping from claim subject IDs to user records.
type Service struct {
	users     store.UserStore
	companies store.CompanyStore
	log       zerolog.Logger
	rec       metrics.Recorder
}

// NewService creates a profile service over the given stores.
func NewService(users store.UserStore, companies store.CompanyStore, log zerolog.Logger) *Service {
	return &Service{
		users:     users,
		companies: companies,
		log:       log.With().Str("component", "profile").Logger(),
	}
}

// WithRecorder attaches a metrics recorder and returns the service.
func (s *Service) WithRecorder(rec metrics.Recorder) *Service {
	s.rec = rec
	return s
}

func (s *Service) record(fn func(metrics.Recorder)) {
	if s.rec != nil {
		fn(s.rec)
	}
}

// ResolveProfile finds or creates the user record for a claim. The
// mapping is idempotent under concurrent calls for the same subject: a
// duplicate-key outcome on create is treated as success and re-read.
// Existing records are returned with their local edits intact; claim
// attributes only seed newly created profiles.
func (s *Service) ResolveProfile(ctx context.Context, claim *identity.Claim) (*store.User, error) {
	user, err := s.users.User(ctx, claim.SubjectID)
	switch {
	case err == nil:
		return s.reconcileCompanyFlag(ctx, user), nil
	case errors.Is(err, store.ErrNotFound):
		// Not found is the creation trigger, never a failure.
	default:
		return nil, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}

	now := time.Now().UTC()
	user = &store.User{
		ID:         claim.SubjectID,
		Email:      claim.Email,
		Name:       defaultName(claim),
		Plan:       store.PlanFree,
		HasCompany: false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if claim.AvatarURL != "" {
		avatar := claim.AvatarURL
		user.AvatarURL = &avatar
	}

	err = s.users.CreateUser(ctx, user)
	switch {
	case err == nil:
		s.log.Info().Str("user_id", user.ID).Msg("Profile created")
		s.record(func(r metrics.Recorder) { r.RecordProfileCreated() })
		return user, nil
	case errors.Is(err, store.ErrDuplicate):
		// Lost the race against a concurrent resolution; the winner's
		// record is authoritative.
		existing, readErr := s.users.User(ctx, claim.SubjectID)
		if readErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrProfileUnavailable, readErr)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
}

// reconcileCompanyFlag re-derives hasCompany from a live existence check
// and repairs the stored flag when a dependent write was lost. Repair
// failures are logged, not surfaced: the live value is still returned.
func (s *Service) reconcileCompanyFlag(ctx context.Context, user *store.User) *store.User {
	_, err := s.companies.CompanyByOwner(ctx, user.ID)
	var exists bool
	switch {
	case err == nil:
		exists = true
	case errors.Is(err, store.ErrNotFound):
		exists = false
	default:
		// Cannot tell; trust the stored flag.
		return user
	}

	if user.HasCompany == exists {
		return user
	}

	s.log.Warn().
		Str("user_id", user.ID).
		Bool("stored", user.HasCompany).
		Bool("derived", exists).
		Msg("Repairing has_company flag")

	s.record(func(r metrics.Recorder) { r.RecordFlagRepair() })

	updated, err := s.users.UpdateUser(ctx, user.ID, store.UserPatch{HasCompany: &exists})
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to repair has_company flag")
		user.HasCompany = exists
		return user
	}
	return updated
}

// UpdateUser applies a partial update. The ID is never changed.
func (s *Service) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*store.User, error) {
	user, err := s.users.UpdateUser(ctx, id, patch)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return nil, ErrWriteConflict
	default:
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
}

// SaveCompany upserts the owner's company, then flips the owner's
// hasCompany flag as a dependent write. The two writes are not atomic:
// when the flag update fails the save still succeeds, the inconsistency
// is logged, and the next profile resolution repairs it.
func (s *Service) SaveCompany(ctx context.Context, c *store.Company, ownerID string) (*store.Company, error) {
	if c.UserID != "" && c.UserID != ownerID {
		return nil, ErrOwnerMismatch
	}
	c.UserID = ownerID

	saved, err := s.companies.UpsertCompany(ctx, c)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrWriteConflict
		}
		return nil, fmt.Errorf("failed to save company: %w", err)
	}

	hasCompany := true
	if _, err := s.users.UpdateUser(ctx, ownerID, store.UserPatch{HasCompany: &hasCompany}); err != nil {
		s.log.Warn().Err(err).
			Str("user_id", ownerID).
			Msg("Company saved but has_company flag update failed; will reconcile on next resolution")
	}

	s.log.Info().Str("user_id", ownerID).Str("company_id", saved.ID).Msg("Company saved")
	s.record(func(r metrics.Recorder) { r.RecordCompanySaved() })
	return saved, nil
}

// Company returns the owner's company, or (nil, nil) when absent.
func (s *Service) Company(ctx context.Context, ownerID string) (*store.Company, error) {
	c, err := s.companies.CompanyByOwner(ctx, ownerID)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to load company: %w", err)
	}
}

func defaultName(claim *identity.Claim) string {
	if claim.DisplayName != "" {
		return claim.DisplayName
	}
	return "User"
}
