// Package handler exposes the accounts service over HTTP. It is a thin
// JSON layer over the session context; all business rules live below.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tenderscope-ai/be-plt-accounts/internal/identity"
	"github.com/tenderscope-ai/be-plt-accounts/internal/metrics"
	"github.com/tenderscope-ai/be-plt-accounts/internal/session"
	"github.com/tenderscope-ai/be-plt-accounts/internal/store"
)

// URLMailbox hands the federated login URL from the authenticator's
// window callback to the HTTP request that started the flow.
type URLMailbox struct {
	ch chan string
}

// NewURLMailbox creates an empty mailbox.
func NewURLMailbox() *URLMailbox {
	return &URLMailbox{ch: make(chan string, 1)}
}

// Open satisfies the authenticator's window opener contract.
func (m *URLMailbox) Open(loginURL string) error {
	select {
	case m.ch <- loginURL:
	default:
		return errors.New("previous login window still pending")
	}
	return nil
}

func (m *URLMailbox) wait(ctx context.Context) (string, error) {
	select {
	case url := <-m.ch:
		return url, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Handler carries the dependencies of the HTTP layer.
type Handler struct {
	sessions *session.Context
	auth     *identity.Authenticator
	windows  *URLMailbox
	metrics  *metrics.Collector
	log      zerolog.Logger
}

// New creates the HTTP handler.
func New(sessions *session.Context, auth *identity.Authenticator, windows *URLMailbox, collector *metrics.Collector, log zerolog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		auth:     auth,
		windows:  windows,
		metrics:  collector,
		log:      log.With().Str("component", "http").Logger(),
	}
}

// Router builds the chi router with all routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.captureClient)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.login)
			r.Post("/register", h.register)
			r.Post("/logout", h.logout)
			r.Get("/session", h.sessionState)
			r.Post("/provider/login", h.providerLogin)
			r.Get("/provider/callback", h.providerCallback)
		})
		r.Route("/me", func(r chi.Router) {
			r.Get("/", h.me)
			r.Patch("/", h.updateMe)
			r.Get("/company", h.company)
			r.Put("/company", h.saveCompany)
		})
	})

	return r
}

// captureClient records the caller's address and agent so login
// attempts can be attributed.
func (h *Handler) captureClient(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.auth.SetClientContext(identity.ClientContext{
			IPAddress: r.RemoteAddr,
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.sessions.Login(r.Context(), req.Email, req.Password); err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.writeState(w, http.StatusOK)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.sessions.Register(r.Context(), req.Name, req.Email, req.Password); err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.writeState(w, http.StatusCreated)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context()); err != nil && !errors.Is(err, session.ErrSuperseded) {
		h.log.Error().Err(err).Msg("Logout failed")
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	h.writeState(w, http.StatusOK)
}

func (h *Handler) sessionState(w http.ResponseWriter, r *http.Request) {
	h.writeState(w, http.StatusOK)
}

// providerLogin starts the federated flow. The session login runs in
// the background until the provider calls back; the response carries
// the URL the client must open. Completion is observed by polling the
// session state.
func (h *Handler) providerLogin(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := h.sessions.LoginWithProvider(context.Background()); err != nil {
			h.log.Warn().Err(err).Msg("Federated login did not complete")
		}
	}()

	waitCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	loginURL, err := h.windows.wait(waitCtx)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "could not start federated login")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"login_url": loginURL})
}

func (h *Handler) providerCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	errorCode := r.URL.Query().Get("error")

	if err := h.auth.CompleteProviderLogin(state, code, errorCode); err != nil {
		writeError(w, http.StatusBadRequest, "unknown or expired login attempt")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<html><body>Login received. You can close this window.</body></html>"))
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	state := h.sessions.Snapshot()
	if !state.Authenticated() {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, userPayload(state.User))
}

type updateUserRequest struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
	City      *string `json:"city"`
	State     *string `json:"state"`
	ZipCode   *string `json:"zip_code"`
}

func (h *Handler) updateMe(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	patch := store.UserPatch{
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
		Phone:     req.Phone,
		Address:   req.Address,
		City:      req.City,
		State:     req.State,
		ZipCode:   req.ZipCode,
	}

	if err := h.sessions.UpdateUser(r.Context(), patch); err != nil {
		h.writeSessionError(w, err)
		return
	}

	h.writeState(w, http.StatusOK)
}

func (h *Handler) company(w http.ResponseWriter, r *http.Request) {
	state := h.sessions.Snapshot()
	if !state.Authenticated() {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if state.Company == nil {
		writeError(w, http.StatusNotFound, "no company registered")
		return
	}
	writeJSON(w, http.StatusOK, companyPayload(state.Company))
}

type saveCompanyRequest struct {
	CorporateName string  `json:"corporate_name"`
	TradeName     string  `json:"trade_name"`
	TaxID         string  `json:"tax_id"`
	Phone         string  `json:"phone"`
	Email         string  `json:"email"`
	Website       *string `json:"website"`
	Address       string  `json:"address"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	ZipCode       string  `json:"zip_code"`
}

func (h *Handler) saveCompany(w http.ResponseWriter, r *http.Request) {
	var req saveCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CorporateName == "" {
		writeError(w, http.StatusBadRequest, "corporate_name is required")
		return
	}

	company := &store.Company{
		CorporateName: req.CorporateName,
		TradeName:     req.TradeName,
		TaxID:         req.TaxID,
		Phone:         req.Phone,
		Email:         req.Email,
		Website:       req.Website,
		Address:       req.Address,
		City:          req.City,
		State:         req.State,
		ZipCode:       req.ZipCode,
	}

	if err := h.sessions.SaveCompany(r.Context(), company); err != nil {
		h.writeSessionError(w, err)
		return
	}

	h.writeState(w, http.StatusOK)
}

// statePayload is the wire form of the session snapshot.
type statePayload struct {
	User    map[string]any `json:"user"`
	Company map[string]any `json:"company"`
	Loading bool           `json:"loading"`
	Error   string         `json:"error,omitempty"`
}

func (h *Handler) writeState(w http.ResponseWriter, status int) {
	state := h.sessions.Snapshot()

	payload := statePayload{Loading: state.Loading, Error: state.LastError}
	if state.User != nil {
		payload.User = userPayload(state.User)
	}
	if state.Company != nil {
		payload.Company = companyPayload(state.Company)
	}

	writeJSON(w, status, payload)
}

func userPayload(u *store.User) map[string]any {
	return map[string]any{
		"id":          u.ID,
		"email":       u.Email,
		"name":        u.Name,
		"avatar_url":  u.AvatarURL,
		"plan":        u.Plan,
		"has_company": u.HasCompany,
		"phone":       u.Phone,
		"address":     u.Address,
		"city":        u.City,
		"state":       u.State,
		"zip_code":    u.ZipCode,
		"created_at":  u.CreatedAt,
		"updated_at":  u.UpdatedAt,
	}
}

func companyPayload(c *store.Company) map[string]any {
	return map[string]any{
		"id":             c.ID,
		"user_id":        c.UserID,
		"corporate_name": c.CorporateName,
		"trade_name":     c.TradeName,
		"tax_id":         c.TaxID,
		"phone":          c.Phone,
		"email":          c.Email,
		"website":        c.Website,
		"address":        c.Address,
		"city":           c.City,
		"state":          c.State,
		"zip_code":       c.ZipCode,
		"created_at":     c.CreatedAt,
		"updated_at":     c.UpdatedAt,
	}
}

func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrEmailUnconfirmed):
		status = http.StatusUnauthorized
	case errors.Is(err, identity.ErrEmailAlreadyUsed):
		status = http.StatusConflict
	case errors.Is(err, identity.ErrWeakPassword):
		status = http.StatusBadRequest
	case errors.Is(err, identity.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, identity.ErrLoginCancelled),
		errors.Is(err, identity.ErrPopupBlocked):
		status = http.StatusConflict
	case errors.Is(err, session.ErrSuperseded):
		// A newer call owns the session state now; report it as-is.
		h.writeState(w, http.StatusOK)
		return
	}

	writeError(w, status, identity.UserMessage(err))
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, session.ErrSuperseded):
		h.writeState(w, http.StatusOK)
	default:
		h.log.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "request failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
