package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	jwtpkg "github.com/tenderscope-ai/be-plt-accounts/pkg/jwt"
	"github.com/tenderscope-ai/be-plt-accounts/pkg/password"

	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

// WindowOpener opens the external login window for the federated flow.
// An error means the window could not be opened (popup blocked).
type WindowOpener func(loginURL string) error

// AuthenticatorConfig wires an Authenticator.
type AuthenticatorConfig struct {
	Credentials store.CredentialStore
	Tokens      *jwtpkg.Manager
	Provider    *FederatedProvider // optional
	OpenWindow  WindowOpener       // optional, federated flow only
	Audit       *AuditTrail        // optional

	// LoginsPerMinute and LoginBurst bound password attempts per email.
	// Zero values fall back to 10/min with a burst of 5.
	LoginsPerMinute float64
	LoginBurst      int

	Logger zerolog.Logger
}

// Authenticator is the identity backend adapter. It verifies credentials
// against the credential store, runs the federated flow, and holds the
// current externally-issued session token.
type Authenticator struct {
	creds      store.CredentialStore
	tokens     *jwtpkg.Manager
	provider   *FederatedProvider
	openWindow WindowOpener
	trail      *AuditTrail
	limiter    *loginLimiter
	log        zerolog.Logger

	mu           sync.Mutex
	sessionToken string
	client       ClientContext
}

// NewAuthenticator creates an Authenticator from the given config.
func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	perMinute := cfg.LoginsPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	burst := cfg.LoginBurst
	if burst <= 0 {
		burst = 5
	}

	return &Authenticator{
		creds:      cfg.Credentials,
		tokens:     cfg.Tokens,
		provider:   cfg.Provider,
		openWindow: cfg.OpenWindow,
		trail:      cfg.Audit,
		limiter:    newLoginLimiter(perMinute, burst),
		log:        cfg.Logger.With().Str("component", "identity").Logger(),
	}
}

// SetClientContext records the request metadata attached to subsequent
// login-attempt audit records.
func (a *Authenticator) SetClientContext(client ClientContext) {
	a.mu.Lock()
	a.client = client
	a.mu.Unlock()
}

func (a *Authenticator) clientContext() ClientContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

// AuthenticateWithPassword verifies an email/password credential and
// establishes a session for it.
func (a *Authenticator) AuthenticateWithPassword(ctx context.Context, email, pw string) (*Claim, error) {
	email = normalizeEmail(email)

	if !a.limiter.allow(email) {
		a.log.Warn().Str("email", email).Msg("Login rate limited")
		a.trail.Record(email, "", false, a.clientContext())
		return nil, ErrRateLimited
	}

	cred, err := a.creds.CredentialByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.trail.Record(email, "", false, a.clientContext())
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("credential lookup failed: %w", err)
	}

	if !cred.EmailConfirmed {
		a.trail.Record(email, cred.SubjectID, false, a.clientContext())
		return nil, ErrEmailUnconfirmed
	}

	valid, err := password.Verify(pw, cred.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("password verification failed: %w", err)
	}
	if !valid {
		a.log.Warn().Str("email", email).Msg("Invalid password")
		a.trail.Record(email, cred.SubjectID, false, a.clientContext())
		return nil, ErrInvalidCredentials
	}

	claim := claimFromCredential(cred)
	if err := a.establishSession(claim); err != nil {
		return nil, err
	}

	a.trail.Record(email, cred.SubjectID, true, a.clientContext())
	a.log.Info().Str("subject_id", cred.SubjectID).Msg("Password login successful")
	return claim, nil
}

// RegisterWithPassword creates a new credential and signs it in.
func (a *Authenticator) RegisterWithPassword(ctx context.Context, name, email, pw string) (*Claim, error) {
	email = normalizeEmail(email)

	if err := password.Check(pw); err != nil {
		return nil, ErrWeakPassword
	}

	hash, err := password.Hash(pw, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &store.Credential{
		SubjectID:      uuid.New().String(),
		Email:          email,
		PasswordHash:   hash,
		Name:           name,
		EmailConfirmed: true,
		CreatedAt:      time.Now().UTC(),
	}

	if err := a.creds.CreateCredential(ctx, cred); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrEmailAlreadyUsed
		}
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	claim := claimFromCredential(cred)
	if err := a.establishSession(claim); err != nil {
		return nil, err
	}

	a.trail.Record(email, cred.SubjectID, true, a.clientContext())
	a.log.Info().Str("subject_id", cred.SubjectID).Msg("Registration successful")
	return claim, nil
}

// AuthenticateWithProvider runs the federated flow end to end: opens the
// login window, suspends until the callback completes or the context is
// cancelled, then establishes a session for the asserted identity.
func (a *Authenticator) AuthenticateWithProvider(ctx context.Context) (*Claim, error) {
	if a.provider == nil {
		return nil, ErrNoFederatedLogin
	}

	state, loginURL, err := a.provider.Begin()
	if err != nil {
		return nil, err
	}

	if a.openWindow != nil {
		if err := a.openWindow(loginURL); err != nil {
			a.log.Warn().Err(err).Msg("Login window blocked")
			return nil, ErrPopupBlocked
		}
	}

	claim, err := a.provider.Await(ctx, state)
	if err != nil {
		return nil, err
	}

	if err := a.establishSession(claim); err != nil {
		return nil, err
	}

	a.trail.Record(claim.Email, claim.SubjectID, true, a.clientContext())
	a.log.Info().Str("subject_id", claim.SubjectID).Msg("Federated login successful")
	return claim, nil
}

// StartProviderLogin hands the login URL to the HTTP layer when the
// window is opened by the frontend rather than by this process.
func (a *Authenticator) StartProviderLogin() (state, loginURL string, err error) {
	if a.provider == nil {
		return "", "", ErrNoFederatedLogin
	}
	return a.provider.Begin()
}

// CompleteProviderLogin forwards the OAuth callback to the waiting flow.
func (a *Authenticator) CompleteProviderLogin(state, code, errorCode string) error {
	if a.provider == nil {
		return ErrNoFederatedLogin
	}
	return a.provider.Complete(state, code, errorCode)
}

// ActiveSession returns the claim of the currently held session, or
// (nil, nil) when there is none or it is no longer valid. Never fails on
// an expired token: that is an absent session, not an error.
func (a *Authenticator) ActiveSession(ctx context.Context) (*Claim, error) {
	a.mu.Lock()
	token := a.sessionToken
	a.mu.Unlock()

	if token == "" {
		return nil, nil
	}

	claims, err := a.tokens.ValidateSessionToken(token)
	if err != nil {
		a.mu.Lock()
		if a.sessionToken == token {
			a.sessionToken = ""
		}
		a.mu.Unlock()
		return nil, nil
	}

	return &Claim{
		SubjectID:   claims.SubjectID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		AvatarURL:   claims.AvatarURL,
	}, nil
}

// InvalidateSession drops the held session token.
func (a *Authenticator) InvalidateSession(ctx context.Context) error {
	a.mu.Lock()
	a.sessionToken = ""
	a.mu.Unlock()
	a.log.Info().Msg("Session invalidated")
	return nil
}

// SessionToken exposes the raw token for transport to the frontend.
func (a *Authenticator) SessionToken() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionToken
}

func (a *Authenticator) establishSession(claim *Claim) error {
	token, err := a.tokens.IssueSessionToken(claim.SubjectID, claim.Email, claim.DisplayName, claim.AvatarURL)
	if err != nil {
		return fmt.Errorf("failed to issue session token: %w", err)
	}
	a.mu.Lock()
	a.sessionToken = token
	a.mu.Unlock()
	return nil
}

func claimFromCredential(cred *store.Credential) *Claim {
	claim := &Claim{
		SubjectID:   cred.SubjectID,
		Email:       cred.Email,
		DisplayName: cred.Name,
	}
	if cred.AvatarURL != nil {
		claim.AvatarURL = *cred.AvatarURL
	}
	return claim
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ Backend = (*Authenticator)(nil)
