// Package store defines the persistence contract shared by the SQL and
// document backends. Exactly one implementation is selected at startup;
// the rest of the application only sees these interfaces.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is the distinguished missing-record condition. Callers
	// must be able to tell it apart from transport or permission errors:
	// profile resolution treats it as the trigger for creation.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate reports a create that lost a race with an identical
	// record (duplicate key).
	ErrDuplicate = errors.New("record already exists")

	// ErrConflict reports a write that was rejected because the record
	// changed underneath it.
	ErrConflict = errors.New("write conflict")
)

// UserStore persists application user profiles.
type UserStore interface {
	// User returns the profile by ID, or ErrNotFound.
	User(ctx context.Context, id string) (*User, error)

	// CreateUser inserts a new profile. A concurrent create for the same
	// ID yields ErrDuplicate.
	CreateUser(ctx context.Context, u *User) error

	// UpdateUser applies a partial update and returns the stored record.
	// Returns ErrNotFound for an unknown ID. UpdatedAt is stamped by the
	// store and never decreases.
	UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error)
}

// CompanyStore persists company records, at most one per owning user.
type CompanyStore interface {
	// CompanyByOwner returns the company owned by the user, or ErrNotFound.
	CompanyByOwner(ctx context.Context, ownerID string) (*Company, error)

	// UpsertCompany creates the owner's company or updates it in place.
	// The returned record carries store-assigned ID and timestamps.
	UpsertCompany(ctx context.Context, c *Company) (*Company, error)
}

// AttemptStore appends login-attempt audit records.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, a *LoginAttempt) error
}

// CredentialStore holds password credentials keyed by email.
type CredentialStore interface {
	// CredentialByEmail returns the credential, or ErrNotFound.
	CredentialByEmail(ctx context.Context, email string) (*Credential, error)

	// CreateCredential inserts a new credential. An existing credential
	// for the same email yields ErrDuplicate.
	CreateCredential(ctx context.Context, c *Credential) error
}

// Store is the full backend surface wired at startup.
type Store interface {
	UserStore
	CompanyStore
	AttemptStore
	CredentialStore
}
