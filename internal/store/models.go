package store

import "time"

// Plan is a user's subscription plan.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// Valid reports whether p is a known plan value.
func (p Plan) Valid() bool {
	return p == PlanFree || p == PlanPremium
}

// User is the durable application profile keyed by the identity
// provider's subject ID.
type User struct {
	ID         string
	Email      string
	Name       string
	AvatarURL  *string
	Plan       Plan
	HasCompany bool
	Phone      *string
	Address    *string
	City       *string
	State      *string
	ZipCode    *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UserPatch carries a partial user update. Nil fields are left unchanged.
// The user ID is never patchable.
type UserPatch struct {
	Email      *string
	Name       *string
	AvatarURL  *string
	Plan       *Plan
	HasCompany *bool
	Phone      *string
	Address    *string
	City       *string
	State      *string
	ZipCode    *string
}

// Company is the optional company record owned 1:1 by a user.
type Company struct {
	ID            string
	UserID        string
	CorporateName string
	TradeName     string
	TaxID         string
	Phone         string
	Email         string
	Website       *string
	Address       string
	City          string
	State         string
	ZipCode       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LoginAttempt is an append-only audit record of an authentication outcome.
type LoginAttempt struct {
	ID        string
	Email     string
	SubjectID *string
	Success   bool
	IPAddress *string
	UserAgent *string
	CreatedAt time.Time
}

// Credential is a password credential held by the credential store.
// It is distinct from the User profile: credentials belong to the
// identity boundary, profiles to the application.
type Credential struct {
	SubjectID      string
	Email          string
	PasswordHash   string
	Name           string
	AvatarURL      *string
	EmailConfirmed bool
	CreatedAt      time.Time
}
