package postgres

import (
	"context"
	"fmt"

	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

// RecordAttempt appends a login-attempt audit record.
func (s *Store) RecordAttempt(ctx context.Context, a *store.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (id, email, subject_id, success, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		a.ID,
		a.Email,
		a.SubjectID,
		a.Success,
		a.IPAddress,
		a.UserAgent,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}

	return nil
}
