package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tenderscope-ai/be-plt-accounts/internal/identity"
	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

// fakeBackend scripts identity outcomes per test.
type fakeBackend struct {
	passwordFn    func(ctx context.Context, email, password string) (*identity.Claim, error)
	providerFn    func(ctx context.Context) (*identity.Claim, error)
	registerFn    func(ctx context.Context, name, email, password string) (*identity.Claim, error)
	activeFn      func(ctx context.Context) (*identity.Claim, error)
	invalidateErr error
}

func (f *fakeBackend) AuthenticateWithPassword(ctx context.Context, email, password string) (*identity.Claim, error) {
	if f.passwordFn == nil {
		return &identity.Claim{SubjectID: "u1", Email: email}, nil
	}
	return f.passwordFn(ctx, email, password)
}

func (f *fakeBackend) AuthenticateWithProvider(ctx context.Context) (*identity.Claim, error) {
	if f.providerFn == nil {
		return &identity.Claim{SubjectID: "u1", Email: "u1@example.com"}, nil
	}
	return f.providerFn(ctx)
}

func (f *fakeBackend) RegisterWithPassword(ctx context.Context, name, email, password string) (*identity.Claim, error) {
	if f.registerFn == nil {
		return &identity.Claim{SubjectID: "u1", Email: email, DisplayName: name}, nil
	}
	return f.registerFn(ctx, name, email, password)
}

func (f *fakeBackend) ActiveSession(ctx context.Context) (*identity.Claim, error) {
	if f.activeFn == nil {
		return nil, nil
	}
	return f.activeFn(ctx)
}

func (f *fakeBackend) InvalidateSession(ctx context.Context) error {
	return f.invalidateErr
}

// fakeProfiles is an in-memory profile service.
type fakeProfiles struct {
	mu        sync.Mutex
	users     map[string]*store.User
	companies map[string]*store.Company

	resolveErr error
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		users:     make(map[string]*store.User),
		companies: make(map[string]*store.Company),
	}
}

func (f *fakeProfiles) ResolveProfile(ctx context.Context, claim *identity.Claim) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	u, ok := f.users[claim.SubjectID]
	if !ok {
		u = &store.User{ID: claim.SubjectID, Email: claim.Email, Name: claim.DisplayName, Plan: store.PlanFree}
		f.users[claim.SubjectID] = u
	}
	u.HasCompany = f.companies[claim.SubjectID] != nil
	copied := *u
	return &copied, nil
}

func (f *fakeProfiles) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	copied := *u
	return &copied, nil
}

func (f *fakeProfiles) SaveCompany(ctx context.Context, c *store.Company, ownerID string) (*store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.UserID = ownerID
	if c.ID == "" {
		c.ID = "company-" + ownerID
	}
	copied := *c
	f.companies[ownerID] = &copied
	result := copied
	return &result, nil
}

func (f *fakeProfiles) Company(ctx context.Context, ownerID string) (*store.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[ownerID]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func newTestContext(backend identity.Backend, profiles ProfileService) *Context {
	return New(backend, profiles, nil, zerolog.Nop())
}

func TestInitWithoutSession(t *testing.T) {
	c := newTestContext(&fakeBackend{}, newFakeProfiles())

	if !c.Snapshot().Loading {
		t.Error("Loading = false before Init")
	}

	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	state := c.Snapshot()
	if state.Loading {
		t.Error("Loading = true after Init")
	}
	if state.User != nil {
		t.Errorf("User = %+v, want nil", state.User)
	}
}

func TestInitRestoresSession(t *testing.T) {
	backend := &fakeBackend{
		activeFn: func(ctx context.Context) (*identity.Claim, error) {
			return &identity.Claim{SubjectID: "u1", Email: "u1@example.com"}, nil
		},
	}
	profiles := newFakeProfiles()
	profiles.companies["u1"] = &store.Company{ID: "c1", UserID: "u1", CorporateName: "Acme"}

	c := newTestContext(backend, profiles)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	state := c.Snapshot()
	if state.User == nil || state.User.ID != "u1" {
		t.Fatalf("User = %+v, want u1", state.User)
	}
	if state.Company == nil || state.Company.ID != "c1" {
		t.Errorf("Company = %+v, want c1", state.Company)
	}
	if state.Loading {
		t.Error("Loading = true after Init")
	}
}

func TestLoginSuccess(t *testing.T) {
	c := newTestContext(&fakeBackend{}, newFakeProfiles())

	if err := c.Login(context.Background(), "u1@example.com", "Secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	state := c.Snapshot()
	if !state.Authenticated() {
		t.Fatal("Authenticated() = false after login")
	}
	if state.Loading {
		t.Error("Loading = true after login")
	}
	if state.LastError != "" {
		t.Errorf("LastError = %q, want empty", state.LastError)
	}
}

func TestLoginFailureKeepsPriorUser(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestContext(backend, newFakeProfiles())

	if err := c.Login(context.Background(), "u1@example.com", "Secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	backend.passwordFn = func(ctx context.Context, email, password string) (*identity.Claim, error) {
		return nil, identity.ErrInvalidCredentials
	}

	err := c.Login(context.Background(), "u1@example.com", "wrong")
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("Login() error = %v, want ErrInvalidCredentials", err)
	}

	state := c.Snapshot()
	if state.User == nil || state.User.ID != "u1" {
		t.Errorf("User = %+v, want the previously signed-in u1", state.User)
	}
	if state.Loading {
		t.Error("Loading = true after failed login")
	}
	if state.LastError == "" {
		t.Error("LastError empty after failed login")
	}
}

func TestStaleLoginDiscarded(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		passwordFn: func(ctx context.Context, email, password string) (*identity.Claim, error) {
			if email == "slow@example.com" {
				<-release
				return &identity.Claim{SubjectID: "slow", Email: email}, nil
			}
			return &identity.Claim{SubjectID: "fast", Email: email}, nil
		},
	}
	c := newTestContext(backend, newFakeProfiles())
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- c.Login(context.Background(), "slow@example.com", "Secret123")
	}()

	// Make sure the slow call holds a sequence number before the fast one.
	waitFor(t, func() bool { return c.Snapshot().Loading })

	if err := c.Login(context.Background(), "fast@example.com", "Secret123"); err != nil {
		t.Fatalf("second Login() error = %v", err)
	}

	close(release)
	if err := <-firstDone; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("first Login() error = %v, want ErrSuperseded", err)
	}

	state := c.Snapshot()
	if state.User == nil || state.User.ID != "fast" {
		t.Errorf("User = %+v, want the later call's user", state.User)
	}
	if state.Loading {
		t.Error("Loading = true after both calls settled")
	}
}

func TestProviderCancellationClearsLoading(t *testing.T) {
	backend := &fakeBackend{
		providerFn: func(ctx context.Context) (*identity.Claim, error) {
			return nil, identity.ErrLoginCancelled
		},
	}
	c := newTestContext(backend, newFakeProfiles())

	err := c.LoginWithProvider(context.Background())
	if !errors.Is(err, identity.ErrLoginCancelled) {
		t.Fatalf("LoginWithProvider() error = %v, want ErrLoginCancelled", err)
	}

	state := c.Snapshot()
	if state.Loading {
		t.Error("Loading = true after cancelled federated login")
	}
	if state.User != nil {
		t.Errorf("User = %+v, want nil", state.User)
	}
}

func TestRegisterSignsIn(t *testing.T) {
	c := newTestContext(&fakeBackend{}, newFakeProfiles())

	if err := c.Register(context.Background(), "Maria", "u1@example.com", "Secret123"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	state := c.Snapshot()
	if !state.Authenticated() {
		t.Error("Authenticated() = false after register")
	}
	if state.Company != nil {
		t.Errorf("Company = %+v, want nil for a fresh account", state.Company)
	}
}

func TestLogoutClearsStateDespiteInvalidateFailure(t *testing.T) {
	backend := &fakeBackend{invalidateErr: errors.New("provider unreachable")}
	c := newTestContext(backend, newFakeProfiles())

	if err := c.Login(context.Background(), "u1@example.com", "Secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	state := c.Snapshot()
	if state.User != nil || state.Company != nil {
		t.Errorf("state = %+v, want cleared", state)
	}
	if state.Loading {
		t.Error("Loading = true after logout")
	}
}

func TestUpdateUserRequiresAuth(t *testing.T) {
	c := newTestContext(&fakeBackend{}, newFakeProfiles())
	_ = c.Init(context.Background())

	err := c.UpdateUser(context.Background(), store.UserPatch{})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("UpdateUser() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestUpdateUserReplacesCachedRecord(t *testing.T) {
	c := newTestContext(&fakeBackend{}, newFakeProfiles())

	if err := c.Login(context.Background(), "u1@example.com", "Secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	name := "Maria Silva"
	if err := c.UpdateUser(context.Background(), store.UserPatch{Name: &name}); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}

	if got := c.Snapshot().User.Name; got != "Maria Silva" {
		t.Errorf("Name = %q, want %q", got, "Maria Silva")
	}
}

func TestSaveCompanyRefreshesUser(t *testing.T) {
	c := newTestContext(&fakeBackend{}, newFakeProfiles())

	if err := c.Login(context.Background(), "u1@example.com", "Secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if c.Snapshot().User.HasCompany {
		t.Fatal("HasCompany = true before any company exists")
	}

	if err := c.SaveCompany(context.Background(), &store.Company{CorporateName: "Acme"}); err != nil {
		t.Fatalf("SaveCompany() error = %v", err)
	}

	state := c.Snapshot()
	if state.Company == nil || state.Company.CorporateName != "Acme" {
		t.Errorf("Company = %+v, want Acme", state.Company)
	}
	if !state.User.HasCompany {
		t.Error("HasCompany = false after company save")
	}
}

func TestOnChangeNotifies(t *testing.T) {
	c := newTestContext(&fakeBackend{}, newFakeProfiles())

	var mu sync.Mutex
	var states []State
	c.OnChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	if err := c.Login(context.Background(), "u1@example.com", "Secret123"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 {
		t.Fatalf("got %d notifications, want at least 2", len(states))
	}
	if !states[0].Loading {
		t.Error("first notification should carry the loading state")
	}
	last := states[len(states)-1]
	if last.Loading || !last.Authenticated() {
		t.Errorf("last notification = %+v, want settled and authenticated", last)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
