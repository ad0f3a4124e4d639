package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

const userColumns = `id, email, name, avatar_url, plan, has_company,
	       phone, address, city, state, zip_code, created_at, updated_at`

// User retrieves a user profile by ID.
func (s *Store) User(ctx context.Context, id string) (*store.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1
	`

	user, err := scanUser(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// CreateUser inserts a new user profile.
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	query := `
		INSERT INTO users (id, email, name, avatar_url, plan, has_company,
		                   phone, address, city, state, zip_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := s.pool.QueryRow(ctx, query,
		u.ID,
		u.Email,
		u.Name,
		u.AvatarURL,
		u.Plan,
		u.HasCompany,
		u.Phone,
		u.Address,
		u.City,
		u.State,
		u.ZipCode,
	).Scan(&u.CreatedAt, &u.UpdatedAt)

	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// UpdateUser applies a partial update and returns the stored record.
// updated_at is stamped by the database so it never decreases.
func (s *Store) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*store.User, error) {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}
	argCount := 2

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argCount))
		args = append(args, value)
		argCount++
	}

	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.AvatarURL != nil {
		add("avatar_url", *patch.AvatarURL)
	}
	if patch.Plan != nil {
		add("plan", *patch.Plan)
	}
	if patch.HasCompany != nil {
		add("has_company", *patch.HasCompany)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.Address != nil {
		add("address", *patch.Address)
	}
	if patch.City != nil {
		add("city", *patch.City)
	}
	if patch.State != nil {
		add("state", *patch.State)
	}
	if patch.ZipCode != nil {
		add("zip_code", *patch.ZipCode)
	}

	query := `
		UPDATE users
		SET ` + strings.Join(sets, ", ") + `
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return user, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*store.User, error) {
	user := &store.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.AvatarURL,
		&user.Plan,
		&user.HasCompany,
		&user.Phone,
		&user.Address,
		&user.City,
		&user.State,
		&user.ZipCode,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}
