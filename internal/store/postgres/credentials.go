package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

// CredentialByEmail retrieves a password credential by email.
func (s *Store) CredentialByEmail(ctx context.Context, email string) (*store.Credential, error) {
	cred := &store.Credential{}

	query := `
		SELECT subject_id, email, password_hash, name, avatar_url, email_confirmed, created_at
		FROM credentials
		WHERE email = $1
	`

	err := s.pool.QueryRow(ctx, query, email).Scan(
		&cred.SubjectID,
		&cred.Email,
		&cred.PasswordHash,
		&cred.Name,
		&cred.AvatarURL,
		&cred.EmailConfirmed,
		&cred.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return cred, nil
}

// CreateCredential inserts a new password credential.
func (s *Store) CreateCredential(ctx context.Context, c *store.Credential) error {
	query := `
		INSERT INTO credentials (subject_id, email, password_hash, name, avatar_url, email_confirmed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := s.pool.QueryRow(ctx, query,
		c.SubjectID,
		c.Email,
		c.PasswordHash,
		c.Name,
		c.AvatarURL,
		c.EmailConfirmed,
	).Scan(&c.CreatedAt)

	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}

	return nil
}
