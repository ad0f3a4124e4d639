// Package session holds the process-wide authentication state consumed
// by every protected view: current user, current company, loading and
// error state, and the mutation operations that drive them.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tenderscope-ai/be-plt-accounts/internal/identity"
	"github.com/tenderscope-ai/be-plt-accounts/internal/metrics"
	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

// ErrSuperseded reports that a call's result was discarded because a
// later login/register/logout was issued before it settled.
var ErrSuperseded = errors.New("superseded by a later call")

// ErrNotAuthenticated reports a profile mutation without a signed-in user.
var ErrNotAuthenticated = errors.New("not authenticated")

// ProfileService is the reconciliation surface the context depends on.
type ProfileService interface {
	ResolveProfile(ctx context.Context, claim *identity.Claim) (*store.User, error)
	UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*store.User, error)
	SaveCompany(ctx context.Context, c *store.Company, ownerID string) (*store.Company, error)
	Company(ctx context.Context, ownerID string) (*store.Company, error)
}

// State is a snapshot of the session. Pointer fields are shared; callers
// must treat them as read-only.
type State struct {
	User      *store.User
	Company   *store.Company
	Loading   bool
	LastError string
}

// Authenticated reports whether a user is signed in.
func (s State) Authenticated() bool {
	return s.User != nil
}

// Context is the session context: one instance per process, explicitly
// constructed at startup and passed to consumers. All auth mutations are
// ordered by a monotonic sequence number; only the latest issued call's
// result is applied, so overlapping calls cannot write stale state.
type Context struct {
	backend  identity.Backend
	profiles ProfileService
	rec      metrics.Recorder
	log      zerolog.Logger

	mu    sync.Mutex
	state State
	seq   uint64
	subs  []func(State)
}

// New creates a session context. The state starts loading until Init
// settles the startup resolution.
func New(backend identity.Backend, profiles ProfileService, rec metrics.Recorder, log zerolog.Logger) *Context {
	return &Context{
		backend:  backend,
		profiles: profiles,
		rec:      rec,
		log:      log.With().Str("component", "session").Logger(),
		state:    State{Loading: true},
	}
}

// OnChange registers a subscriber notified after every state transition.
func (c *Context) OnChange(fn func(State)) {
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// Snapshot returns the current state.
func (c *Context) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Init resolves any active identity session at startup: claim, profile,
// then company when the profile says one exists. Loading is cleared on
// every path.
func (c *Context) Init(ctx context.Context) error {
	seq := c.begin()

	claim, err := c.backend.ActiveSession(ctx)
	if err != nil || claim == nil {
		if err != nil {
			c.log.Warn().Err(err).Msg("Startup session check failed")
		}
		return c.settle(seq, nil, nil, nil)
	}

	user, err := c.profiles.ResolveProfile(ctx, claim)
	if err != nil {
		return c.settle(seq, nil, nil, err)
	}

	company := c.loadCompany(ctx, user)
	return c.settle(seq, user, company, nil)
}

// Login authenticates a password credential and resolves its profile.
// On failure the previous user, if any, is left untouched.
func (c *Context) Login(ctx context.Context, email, password string) error {
	seq := c.begin()

	claim, err := c.backend.AuthenticateWithPassword(ctx, email, password)
	c.recordLogin("password", err)
	if err != nil {
		return c.fail(seq, err)
	}

	user, err := c.profiles.ResolveProfile(ctx, claim)
	if err != nil {
		return c.fail(seq, err)
	}

	return c.settle(seq, user, c.loadCompany(ctx, user), nil)
}

// LoginWithProvider runs the federated flow. Cancellation of the external
// window is a normal terminal outcome and clears the loading flag like
// any other settlement.
func (c *Context) LoginWithProvider(ctx context.Context) error {
	seq := c.begin()

	claim, err := c.backend.AuthenticateWithProvider(ctx)
	c.recordLogin("federated", err)
	if err != nil {
		return c.fail(seq, err)
	}

	user, err := c.profiles.ResolveProfile(ctx, claim)
	if err != nil {
		return c.fail(seq, err)
	}

	return c.settle(seq, user, c.loadCompany(ctx, user), nil)
}

// Register creates a credential, resolves the always-new profile, and
// signs the user in.
func (c *Context) Register(ctx context.Context, name, email, password string) error {
	seq := c.begin()

	claim, err := c.backend.RegisterWithPassword(ctx, name, email, password)
	c.recordLogin("register", err)
	if err != nil {
		return c.fail(seq, err)
	}

	user, err := c.profiles.ResolveProfile(ctx, claim)
	if err != nil {
		return c.fail(seq, err)
	}

	return c.settle(seq, user, nil, nil)
}

// Logout invalidates the identity session best-effort and clears local
// state regardless: the user must be able to exit a stuck session.
func (c *Context) Logout(ctx context.Context) error {
	seq := c.begin()

	if err := c.backend.InvalidateSession(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Session invalidation failed; clearing local state anyway")
	}

	return c.settle(seq, nil, nil, nil)
}

// UpdateUser delegates to the profile service and replaces the cached
// user with the store-confirmed record.
func (c *Context) UpdateUser(ctx context.Context, patch store.UserPatch) error {
	c.mu.Lock()
	user := c.state.User
	c.mu.Unlock()
	if user == nil {
		return ErrNotAuthenticated
	}

	updated, err := c.profiles.UpdateUser(ctx, user.ID, patch)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.state.User = updated
	c.mu.Unlock()
	c.notify()
	return nil
}

// SaveCompany delegates to the profile service and replaces both cached
// records with store truth, never patching them locally.
func (c *Context) SaveCompany(ctx context.Context, company *store.Company) error {
	c.mu.Lock()
	user := c.state.User
	c.mu.Unlock()
	if user == nil {
		return ErrNotAuthenticated
	}

	saved, err := c.profiles.SaveCompany(ctx, company, user.ID)
	if err != nil {
		return err
	}

	// Re-read the user so hasCompany reflects the dependent write's
	// actual outcome rather than an optimistic local patch.
	refreshed, err := c.profiles.ResolveProfile(ctx, &identity.Claim{
		SubjectID: user.ID,
		Email:     user.Email,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to refresh user after company save")
		refreshed = user
	}

	c.mu.Lock()
	c.state.User = refreshed
	c.state.Company = saved
	c.mu.Unlock()
	c.notify()
	return nil
}

// begin issues a new call sequence number and raises the loading flag.
func (c *Context) begin() uint64 {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.state.Loading = true
	c.mu.Unlock()
	c.notify()
	return seq
}

// settle applies a call's result if it is still the latest issued call.
// Stale results, successes and failures alike, are discarded whole.
func (c *Context) settle(seq uint64, user *store.User, company *store.Company, err error) error {
	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if err == nil {
		c.state.User = user
		c.state.Company = company
		c.state.LastError = ""
	} else {
		c.state.LastError = identity.UserMessage(err)
	}
	c.state.Loading = false
	c.mu.Unlock()
	c.notify()
	return err
}

// fail settles a failed call without touching the current user.
func (c *Context) fail(seq uint64, err error) error {
	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		return ErrSuperseded
	}
	c.state.LastError = identity.UserMessage(err)
	c.state.Loading = false
	c.mu.Unlock()
	c.notify()
	return err
}

func (c *Context) loadCompany(ctx context.Context, user *store.User) *store.Company {
	if user == nil || !user.HasCompany {
		return nil
	}
	company, err := c.profiles.Company(ctx, user.ID)
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to load company")
		return nil
	}
	return company
}

func (c *Context) recordLogin(method string, err error) {
	if c.rec != nil {
		c.rec.RecordLogin(method, err == nil)
	}
}

func (c *Context) notify() {
	c.mu.Lock()
	state := c.state
	subs := make([]func(State), len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}
