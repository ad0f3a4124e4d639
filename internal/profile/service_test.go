package profile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tenderscope-ai/be-plt-accounts/internal/identity"
	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

// memStore is an in-memory store for exercising the reconciliation
// logic without a database.
type memStore struct {
	mu        sync.Mutex
	users     map[string]*store.User
	companies map[string]*store.Company // keyed by owner

	userErr       error // forced error on reads
	userUpdateErr error // forced error on user updates
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*store.User),
		companies: make(map[string]*store.Company),
	}
}

func (m *memStore) User(ctx context.Context, id string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userErr != nil {
		return nil, m.userErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memStore) CreateUser(ctx context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return store.ErrDuplicate
	}
	copied := *u
	m.users[u.ID] = &copied
	return nil
}

func (m *memStore) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userUpdateErr != nil {
		return nil, m.userUpdateErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Plan != nil {
		u.Plan = *patch.Plan
	}
	if patch.HasCompany != nil {
		u.HasCompany = *patch.HasCompany
	}
	if patch.Phone != nil {
		u.Phone = patch.Phone
	}
	copied := *u
	return &copied, nil
}

func (m *memStore) CompanyByOwner(ctx context.Context, ownerID string) (*store.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[ownerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) UpsertCompany(ctx context.Context, c *store.Company) (*store.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.companies[c.UserID]; ok {
		c.ID = existing.ID
	} else if c.ID == "" {
		c.ID = "company-" + c.UserID
	}
	copied := *c
	m.companies[c.UserID] = &copied
	result := copied
	return &result, nil
}

func newTestService(m *memStore) *Service {
	return NewService(m, m, zerolog.Nop())
}

func TestResolveProfileCreates(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m)

	claim := &identity.Claim{SubjectID: "u1", Email: "u1@example.com", DisplayName: "Maria"}

	user, err := svc.ResolveProfile(context.Background(), claim)
	if err != nil {
		t.Fatalf("ResolveProfile() error = %v", err)
	}

	if user.ID != "u1" {
		t.Errorf("ID = %q, want %q", user.ID, "u1")
	}
	if user.Email != "u1@example.com" {
		t.Errorf("Email = %q, want %q", user.Email, "u1@example.com")
	}
	if user.Name != "Maria" {
		t.Errorf("Name = %q, want %q", user.Name, "Maria")
	}
	if user.Plan != store.PlanFree {
		t.Errorf("Plan = %q, want %q", user.Plan, store.PlanFree)
	}
	if user.HasCompany {
		t.Error("HasCompany = true for a fresh profile")
	}
}

func TestResolveProfileDefaultName(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m)

	user, err := svc.ResolveProfile(context.Background(), &identity.Claim{SubjectID: "u1", Email: "u1@example.com"})
	if err != nil {
		t.Fatalf("ResolveProfile() error = %v", err)
	}
	if user.Name != "User" {
		t.Errorf("Name = %q, want %q", user.Name, "User")
	}
}

func TestResolveProfileKeepsLocalEdits(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m)
	ctx := context.Background()

	claim := &identity.Claim{SubjectID: "u1", Email: "u1@example.com", DisplayName: "Maria"}
	if _, err := svc.ResolveProfile(ctx, claim); err != nil {
		t.Fatalf("ResolveProfile() error = %v", err)
	}

	// Local edits after creation.
	newName := "Maria Silva"
	premium := store.PlanPremium
	if _, err := svc.UpdateUser(ctx, "u1", store.UserPatch{Name: &newName, Plan: &premium}); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}

	// A later login with the original claim must not clobber the edits.
	user, err := svc.ResolveProfile(ctx, claim)
	if err != nil {
		t.Fatalf("ResolveProfile() error = %v", err)
	}
	if user.Name != "Maria Silva" {
		t.Errorf("Name = %q, want %q", user.Name, "Maria Silva")
	}
	if user.Plan != store.PlanPremium {
		t.Errorf("Plan = %q, want %q", user.Plan, store.PlanPremium)
	}
}

func TestResolveProfileConcurrent(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m)
	claim := &identity.Claim{SubjectID: "u1", Email: "u1@example.com"}

	const workers = 8
	results := make([]*store.User, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ResolveProfile(context.Background(), claim)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("ResolveProfile() worker %d error = %v", i, errs[i])
		}
		if results[i].ID != "u1" {
			t.Errorf("worker %d ID = %q, want %q", i, results[i].ID, "u1")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.users) != 1 {
		t.Errorf("user count = %d, want 1", len(m.users))
	}
}

func TestResolveProfileStoreUnavailable(t *testing.T) {
	m := newMemStore()
	m.userErr = errors.New("connection refused")
	svc := newTestService(m)

	_, err := svc.ResolveProfile(context.Background(), &identity.Claim{SubjectID: "u1"})
	if !errors.Is(err, ErrProfileUnavailable) {
		t.Errorf("ResolveProfile() error = %v, want ErrProfileUnavailable", err)
	}
}

func TestResolveProfileRepairsFlag(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m)
	ctx := context.Background()

	// A company exists but the flag was never flipped.
	m.users["u1"] = &store.User{ID: "u1", Email: "u1@example.com", Plan: store.PlanFree, HasCompany: false}
	m.companies["u1"] = &store.Company{ID: "c1", UserID: "u1", CorporateName: "Acme"}

	user, err := svc.ResolveProfile(ctx, &identity.Claim{SubjectID: "u1"})
	if err != nil {
		t.Fatalf("ResolveProfile() error = %v", err)
	}
	if !user.HasCompany {
		t.Error("HasCompany = false, want true after repair")
	}
	if !m.users["u1"].HasCompany {
		t.Error("stored flag not repaired")
	}
}

func TestResolveProfileRepairsStaleFlag(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m)

	// The flag says yes but no company exists.
	m.users["u1"] = &store.User{ID: "u1", Plan: store.PlanFree, HasCompany: true}

	user, err := svc.ResolveProfile(context.Background(), &identity.Claim{SubjectID: "u1"})
	if err != nil {
		t.Fatalf("ResolveProfile() error = %v", err)
	}
	if user.HasCompany {
		t.Error("HasCompany = true, want false after repair")
	}
}

func TestSaveCompanyOwnerMismatch(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m)

	_, err := svc.SaveCompany(context.Background(), &store.Company{UserID: "someone-else", CorporateName: "Acme"}, "u1")
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("SaveCompany() error = %v, want ErrOwnerMismatch", err)
	}
}

func TestSaveCompanyFlagFailureIsNonFatal(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m)
	ctx := context.Background()

	m.users["u1"] = &store.User{ID: "u1", Plan: store.PlanFree}
	m.userUpdateErr = errors.New("connection refused")

	saved, err := svc.SaveCompany(ctx, &store.Company{CorporateName: "Acme"}, "u1")
	if err != nil {
		t.Fatalf("SaveCompany() error = %v", err)
	}
	if saved.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", saved.UserID, "u1")
	}
	if m.users["u1"].HasCompany {
		t.Error("flag flipped despite forced update failure")
	}

	// The next resolution repairs the flag once updates succeed again.
	m.userUpdateErr = nil
	user, err := svc.ResolveProfile(ctx, &identity.Claim{SubjectID: "u1"})
	if err != nil {
		t.Fatalf("ResolveProfile() error = %v", err)
	}
	if !user.HasCompany {
		t.Error("HasCompany = false, want true after reconciliation")
	}
}

func TestCompanyAbsent(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m)

	c, err := svc.Company(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Company() error = %v", err)
	}
	if c != nil {
		t.Errorf("Company() = %+v, want nil", c)
	}
}

func TestProfileLifecycle(t *testing.T) {
	m := newMemStore()
	svc := newTestService(m)
	ctx := context.Background()

	claim := &identity.Claim{SubjectID: "u1", Email: "u1@example.com", DisplayName: "Maria"}

	user, err := svc.ResolveProfile(ctx, claim)
	if err != nil {
		t.Fatalf("ResolveProfile() error = %v", err)
	}
	if user.HasCompany {
		t.Error("HasCompany = true before any company exists")
	}

	saved, err := svc.SaveCompany(ctx, &store.Company{CorporateName: "Acme"}, "u1")
	if err != nil {
		t.Fatalf("SaveCompany() error = %v", err)
	}
	if saved.CorporateName != "Acme" {
		t.Errorf("CorporateName = %q, want %q", saved.CorporateName, "Acme")
	}

	user, err = svc.ResolveProfile(ctx, claim)
	if err != nil {
		t.Fatalf("ResolveProfile() error = %v", err)
	}
	if !user.HasCompany {
		t.Error("HasCompany = false after company save")
	}

	company, err := svc.Company(ctx, "u1")
	if err != nil {
		t.Fatalf("Company() error = %v", err)
	}
	if company == nil || company.ID != saved.ID {
		t.Errorf("Company() = %+v, want id %q", company, saved.ID)
	}

	// Saving again updates the same record.
	again, err := svc.SaveCompany(ctx, &store.Company{CorporateName: "Acme Ltda"}, "u1")
	if err != nil {
		t.Fatalf("SaveCompany() error = %v", err)
	}
	if again.ID != saved.ID {
		t.Errorf("second save ID = %q, want %q", again.ID, saved.ID)
	}
	if again.CorporateName != "Acme Ltda" {
		t.Errorf("CorporateName = %q, want %q", again.CorporateName, "Acme Ltda")
	}
}
