// Package identity wraps the identity provider behind a uniform adapter:
// it authenticates password and federated credentials, holds the
// externally-issued session, and records login attempts.
package identity

import (
	"context"
	"errors"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailUnconfirmed   = errors.New("email not confirmed")
	ErrEmailAlreadyUsed   = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrRateLimited        = errors.New("too many login attempts")
	ErrLoginCancelled     = errors.New("login cancelled by user")
	ErrPopupBlocked       = errors.New("login window blocked")
	ErrAccountConflict    = errors.New("account exists with different credentials")
	ErrNoFederatedLogin   = errors.New("federated login not configured")
)

// Claim is the set of attributes asserted by the provider about who just
// authenticated. Ephemeral: it is mapped to a durable profile by the
// profile service and never persisted itself.
type Claim struct {
	SubjectID   string
	Email       string
	DisplayName string
	AvatarURL   string
}

// Backend is the adapter surface consumed by the session context. All
// operations may change the externally-held identity session; none touch
// the profile store.
type Backend interface {
	// AuthenticateWithPassword exchanges a password credential for a claim.
	AuthenticateWithPassword(ctx context.Context, email, password string) (*Claim, error)

	// AuthenticateWithProvider runs the federated flow. It suspends until
	// the external window completes or the context is cancelled, which
	// surfaces as ErrLoginCancelled.
	AuthenticateWithProvider(ctx context.Context) (*Claim, error)

	// RegisterWithPassword creates a new credential and signs it in.
	RegisterWithPassword(ctx context.Context, name, email, password string) (*Claim, error)

	// ActiveSession returns the claim of an existing session, or
	// (nil, nil) when there is none. Best-effort startup check.
	ActiveSession(ctx context.Context) (*Claim, error)

	// InvalidateSession signs out of the externally-held session.
	InvalidateSession(ctx context.Context) error
}

// UserMessage maps an identity error to the message shown to the user.
// Unknown errors fall back to a generic message so internals never leak.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrEmailUnconfirmed):
		return "Please confirm your email address before signing in."
	case errors.Is(err, ErrEmailAlreadyUsed):
		return "This email is already registered."
	case errors.Is(err, ErrWeakPassword):
		return "Password must be at least 8 characters with letters and digits."
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts. Try again in a few minutes."
	case errors.Is(err, ErrLoginCancelled):
		return "Login cancelled."
	case errors.Is(err, ErrPopupBlocked):
		return "The login window was blocked. Allow popups for this site."
	case errors.Is(err, ErrAccountConflict):
		return "An account already exists with different credentials."
	case err != nil:
		return "Something went wrong. Please try again."
	default:
		return ""
	}
}
