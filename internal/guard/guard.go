// Package guard decides whether a protected view may render for the
// current session snapshot. The decision is pure: no side effects, no
// state of its own.
package guard

import (
	"github.com/tenderscope-ai/be-plt-accounts/internal/session"
	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

// Kind is the category of a guard decision.
type Kind int

const (
	// Render permits the view.
	Render Kind = iota
	// Pending renders a neutral loading state while the session resolves.
	Pending
	// Redirect sends the visitor elsewhere.
	Redirect
)

// Decision is the outcome of a guard evaluation.
type Decision struct {
	Kind   Kind
	Target string
	// PreserveLocation asks the redirect to carry the original location
	// so the visitor returns there after completing login.
	PreserveLocation bool
}

// Requirements are the per-view access requirements.
type Requirements struct {
	RequireAuth    bool
	RequirePremium bool
}

// Policy names the redirect targets. The zero value uses the defaults.
type Policy struct {
	LoginTarget   string
	UpgradeTarget string
}

const (
	defaultLoginTarget   = "/login"
	defaultUpgradeTarget = "/pricing"
)

// Decide evaluates the requirements against a session snapshot.
func Decide(state session.State, req Requirements) Decision {
	return Policy{}.Decide(state, req)
}

// Decide evaluates the requirements against a session snapshot using the
// policy's redirect targets.
func (p Policy) Decide(state session.State, req Requirements) Decision {
	if state.Loading {
		return Decision{Kind: Pending}
	}

	if req.RequireAuth && state.User == nil {
		return Decision{
			Kind:             Redirect,
			Target:           p.loginTarget(),
			PreserveLocation: true,
		}
	}

	if req.RequirePremium && (state.User == nil || state.User.Plan != store.PlanPremium) {
		if state.User == nil {
			return Decision{
				Kind:             Redirect,
				Target:           p.loginTarget(),
				PreserveLocation: true,
			}
		}
		return Decision{Kind: Redirect, Target: p.upgradeTarget()}
	}

	return Decision{Kind: Render}
}

func (p Policy) loginTarget() string {
	if p.LoginTarget != "" {
		return p.LoginTarget
	}
	return defaultLoginTarget
}

func (p Policy) upgradeTarget() string {
	if p.UpgradeTarget != "" {
		return p.UpgradeTarget
	}
	return defaultUpgradeTarget
}
