// Package document implements the store contract over a Redis document
// layout: one JSON document per record plus an owner index for
// companies. It mirrors the semantics of the SQL backend, including the
// distinguished not-found and duplicate-key conditions.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

const (
	userKeyPrefix       = "user:"
	companyKeyPrefix    = "company:"
	companyOwnerPrefix  = "company_owner:"
	credentialKeyPrefix = "credential:"
	attemptListKey      = "login_attempts"

	// attemptListCap bounds the audit list so it cannot grow unbounded.
	attemptListCap = 10000
)

// Store is the Redis-backed document store.
type Store struct {
	client *redis.Client
	log    zerolog.Logger
}

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New creates a Store over an existing client.
func New(client *redis.Client, log zerolog.Logger) *Store {
	return &Store{
		client: client,
		log:    log.With().Str("component", "document").Logger(),
	}
}

// Connect opens a client, verifies the connection, and returns the store.
func Connect(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return New(client, log), nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// userDoc is the stored user document. Field names match the frontend's
// snake_case contract.
type userDoc struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	AvatarURL  *string    `json:"avatar_url,omitempty"`
	Plan       store.Plan `json:"plan"`
	HasCompany bool       `json:"has_company"`
	Phone      *string    `json:"phone,omitempty"`
	Address    *string    `json:"address,omitempty"`
	City       *string    `json:"city,omitempty"`
	State      *string    `json:"state,omitempty"`
	ZipCode    *string    `json:"zip_code,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// User retrieves a user document by ID.
func (s *Store) User(ctx context.Context, id string) (*store.User, error) {
	raw, err := s.client.Get(ctx, userKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var doc userDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode user document: %w", err)
	}
	return userFromDoc(&doc), nil
}

// CreateUser inserts a new user document. SETNX gives the duplicate-key
// semantics: a concurrent create for the same ID loses the race.
func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = u.CreatedAt

	raw, err := json.Marshal(docFromUser(u))
	if err != nil {
		return fmt.Errorf("failed to encode user document: %w", err)
	}

	ok, err := s.client.SetNX(ctx, userKeyPrefix+u.ID, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !ok {
		return store.ErrDuplicate
	}
	return nil
}

// UpdateUser applies a partial update inside an optimistic WATCH
// transaction; a concurrent write aborts it as a conflict.
func (s *Store) UpdateUser(ctx context.Context, id string, patch store.UserPatch) (*store.User, error) {
	key := userKeyPrefix + id
	var updated *store.User

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}

		var doc userDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("failed to decode user document: %w", err)
		}

		applyPatch(&doc, patch)
		doc.UpdatedAt = time.Now().UTC()
		if doc.UpdatedAt.Before(doc.CreatedAt) {
			doc.UpdatedAt = doc.CreatedAt
		}

		next, err := json.Marshal(&doc)
		if err != nil {
			return fmt.Errorf("failed to encode user document: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}

		updated = userFromDoc(&doc)
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, store.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type companyDoc struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	CorporateName string    `json:"corporate_name"`
	TradeName     string    `json:"trade_name"`
	TaxID         string    `json:"tax_id"`
	Phone         string    `json:"phone"`
	Email         string    `json:"email"`
	Website       *string   `json:"website,omitempty"`
	Address       string    `json:"address"`
	City          string    `json:"city"`
	State         string    `json:"state"`
	ZipCode       string    `json:"zip_code"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CompanyByOwner retrieves the company owned by the given user via the
// owner index.
func (s *Store) CompanyByOwner(ctx context.Context, ownerID string) (*store.Company, error) {
	companyID, err := s.client.Get(ctx, companyOwnerPrefix+ownerID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company index: %w", err)
	}

	raw, err := s.client.Get(ctx, companyKeyPrefix+companyID).Result()
	if errors.Is(err, redis.Nil) {
		// Dangling index; treat the company as absent.
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}

	var doc companyDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode company document: %w", err)
	}
	return companyFromDoc(&doc), nil
}

// UpsertCompany creates the owner's company or updates it in place. The
// owner index is claimed with SETNX so concurrent first saves converge
// on one document.
func (s *Store) UpsertCompany(ctx context.Context, c *store.Company) (*store.Company, error) {
	indexKey := companyOwnerPrefix + c.UserID
	now := time.Now().UTC()

	newID := c.ID
	if newID == "" {
		newID = uuid.New().String()
	}

	claimed, err := s.client.SetNX(ctx, indexKey, newID, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim company index: %w", err)
	}

	companyID := newID
	if !claimed {
		companyID, err = s.client.Get(ctx, indexKey).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read company index: %w", err)
		}
	}

	doc := companyDoc{
		ID:            companyID,
		UserID:        c.UserID,
		CorporateName: c.CorporateName,
		TradeName:     c.TradeName,
		TaxID:         c.TaxID,
		Phone:         c.Phone,
		Email:         c.Email,
		Website:       c.Website,
		Address:       c.Address,
		City:          c.City,
		State:         c.State,
		ZipCode:       c.ZipCode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if !claimed {
		// Preserve the original creation time on update.
		if raw, err := s.client.Get(ctx, companyKeyPrefix+companyID).Result(); err == nil {
			var existing companyDoc
			if json.Unmarshal([]byte(raw), &existing) == nil {
				doc.CreatedAt = existing.CreatedAt
			}
		}
	}

	raw, err := json.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode company document: %w", err)
	}

	if err := s.client.Set(ctx, companyKeyPrefix+companyID, raw, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to save company: %w", err)
	}

	return companyFromDoc(&doc), nil
}

type attemptDoc struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	SubjectID *string   `json:"subject_id,omitempty"`
	Success   bool      `json:"success"`
	IPAddress *string   `json:"ip_address,omitempty"`
	UserAgent *string   `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordAttempt appends a login attempt to the capped audit list.
func (s *Store) RecordAttempt(ctx context.Context, a *store.LoginAttempt) error {
	raw, err := json.Marshal(&attemptDoc{
		ID:        a.ID,
		Email:     a.Email,
		SubjectID: a.SubjectID,
		Success:   a.Success,
		IPAddress: a.IPAddress,
		UserAgent: a.UserAgent,
		CreatedAt: a.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode login attempt: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, attemptListKey, raw)
	pipe.LTrim(ctx, attemptListKey, 0, attemptListCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}

	return nil
}

type credentialDoc struct {
	SubjectID      string    `json:"subject_id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"password_hash"`
	Name           string    `json:"name"`
	AvatarURL      *string   `json:"avatar_url,omitempty"`
	EmailConfirmed bool      `json:"email_confirmed"`
	CreatedAt      time.Time `json:"created_at"`
}

// CredentialByEmail retrieves a password credential by email.
func (s *Store) CredentialByEmail(ctx context.Context, email string) (*store.Credential, error) {
	raw, err := s.client.Get(ctx, credentialKeyPrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	var doc credentialDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode credential document: %w", err)
	}

	return &store.Credential{
		SubjectID:      doc.SubjectID,
		Email:          doc.Email,
		PasswordHash:   doc.PasswordHash,
		Name:           doc.Name,
		AvatarURL:      doc.AvatarURL,
		EmailConfirmed: doc.EmailConfirmed,
		CreatedAt:      doc.CreatedAt,
	}, nil
}

// CreateCredential inserts a new password credential.
func (s *Store) CreateCredential(ctx context.Context, c *store.Credential) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(&credentialDoc{
		SubjectID:      c.SubjectID,
		Email:          c.Email,
		PasswordHash:   c.PasswordHash,
		Name:           c.Name,
		AvatarURL:      c.AvatarURL,
		EmailConfirmed: c.EmailConfirmed,
		CreatedAt:      c.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode credential document: %w", err)
	}

	ok, err := s.client.SetNX(ctx, credentialKeyPrefix+c.Email, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	if !ok {
		return store.ErrDuplicate
	}
	return nil
}

func applyPatch(doc *userDoc, patch store.UserPatch) {
	if patch.Email != nil {
		doc.Email = *patch.Email
	}
	if patch.Name != nil {
		doc.Name = *patch.Name
	}
	if patch.AvatarURL != nil {
		doc.AvatarURL = patch.AvatarURL
	}
	if patch.Plan != nil {
		doc.Plan = *patch.Plan
	}
	if patch.HasCompany != nil {
		doc.HasCompany = *patch.HasCompany
	}
	if patch.Phone != nil {
		doc.Phone = patch.Phone
	}
	if patch.Address != nil {
		doc.Address = patch.Address
	}
	if patch.City != nil {
		doc.City = patch.City
	}
	if patch.State != nil {
		doc.State = patch.State
	}
	if patch.ZipCode != nil {
		doc.ZipCode = patch.ZipCode
	}
}

func docFromUser(u *store.User) *userDoc {
	return &userDoc{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		AvatarURL:  u.AvatarURL,
		Plan:       u.Plan,
		HasCompany: u.HasCompany,
		Phone:      u.Phone,
		Address:    u.Address,
		City:       u.City,
		State:      u.State,
		ZipCode:    u.ZipCode,
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.UpdatedAt,
	}
}

func userFromDoc(doc *userDoc) *store.User {
	return &store.User{
		ID:         doc.ID,
		Email:      doc.Email,
		Name:       doc.Name,
		AvatarURL:  doc.AvatarURL,
		Plan:       doc.Plan,
		HasCompany: doc.HasCompany,
		Phone:      doc.Phone,
		Address:    doc.Address,
		City:       doc.City,
		State:      doc.State,
		ZipCode:    doc.ZipCode,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func companyFromDoc(doc *companyDoc) *store.Company {
	return &store.Company{
		ID:            doc.ID,
		UserID:        doc.UserID,
		CorporateName: doc.CorporateName,
		TradeName:     doc.TradeName,
		TaxID:         doc.TaxID,
		Phone:         doc.Phone,
		Email:         doc.Email,
		Website:       doc.Website,
		Address:       doc.Address,
		City:          doc.City,
		State:         doc.State,
		ZipCode:       doc.ZipCode,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}

var _ store.Store = (*Store)(nil)
