package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

// ClientContext carries request metadata recorded with a login attempt.
type ClientContext struct {
	IPAddress string
	UserAgent string
}

// AuditTrail records login attempts best-effort. Writes are detached from
// the caller: a failed insert is logged and never fails the login itself.
type AuditTrail struct {
	attempts store.AttemptStore
	log      zerolog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewAuditTrail creates an audit trail over the given attempt store.
func NewAuditTrail(attempts store.AttemptStore, log zerolog.Logger) *AuditTrail {
	return &AuditTrail{
		attempts: attempts,
		log:      log.With().Str("component", "audit").Logger(),
		timeout:  5 * time.Second,
	}
}

// Record writes a login attempt on a detached goroutine with its own
// deadline, so the write survives cancellation of the login context and
// its failure cannot propagate to the caller.
func (t *AuditTrail) Record(email, subjectID string, success bool, client ClientContext) {
	if t == nil || t.attempts == nil {
		return
	}

	attempt := &store.LoginAttempt{
		ID:        uuid.New().String(),
		Email:     email,
		Success:   success,
		CreatedAt: time.Now().UTC(),
	}
	if subjectID != "" {
		attempt.SubjectID = &subjectID
	}
	if client.IPAddress != "" {
		attempt.IPAddress = &client.IPAddress
	}
	if client.UserAgent != "" {
		attempt.UserAgent = &client.UserAgent
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		if err := t.attempts.RecordAttempt(ctx, attempt); err != nil {
			t.log.Warn().Err(err).Str("email", email).Msg("Failed to record login attempt")
		}
	}()
}

// Flush waits for in-flight attempt writes, used at shutdown and in tests.
func (t *AuditTrail) Flush() {
	if t == nil {
		return
	}
	t.wg.Wait()
}
