package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

	// defaultFlowTimeout bounds how long an unanswered login window is
	// awaited before it is treated as abandoned.
	defaultFlowTimeout = 5 * time.Minute
)

// FederatedConfig configures the OAuth 2.0 authorization-code flow.
type FederatedConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides, used in tests.
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// FlowTimeout bounds the wait for the external window. Zero means
	// the default of five minutes.
	FlowTimeout time.Duration
}

// FederatedProvider drives a federated login: it hands out the provider
// login URL, then suspends until the callback delivers an authorization
// code, which it exchanges for the user's identity claim.
type FederatedProvider struct {
	config FederatedConfig
	httpc  *http.Client

	mu      sync.Mutex
	pending map[string]chan callbackResult
}

type callbackResult struct {
	code string
	err  error
}

// NewFederatedProvider creates a provider, filling endpoint defaults.
func NewFederatedProvider(config FederatedConfig) *FederatedProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultUserInfoURL
	}
	if config.FlowTimeout <= 0 {
		config.FlowTimeout = defaultFlowTimeout
	}
	return &FederatedProvider{
		config:  config,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		pending: make(map[string]chan callbackResult),
	}
}

// Begin registers a pending login and returns its CSRF state together
// with the provider login URL the window must open.
func (p *FederatedProvider) Begin() (state, loginURL string, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate state: %w", err)
	}
	state = hex.EncodeToString(buf)

	p.mu.Lock()
	p.pending[state] = make(chan callbackResult, 1)
	p.mu.Unlock()

	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
	}
	return state, p.config.AuthURL + "?" + params.Encode(), nil
}

// Complete delivers the callback outcome to the waiting login. errorCode
// is the OAuth error parameter, empty on success. Unknown state means the
// flow already settled or never existed.
func (p *FederatedProvider) Complete(state, code, errorCode string) error {
	p.mu.Lock()
	ch, ok := p.pending[state]
	p.mu.Unlock()

	if !ok {
		return errors.New("unknown or expired login state")
	}

	var result callbackResult
	switch errorCode {
	case "":
		result = callbackResult{code: code}
	case "access_denied":
		result = callbackResult{err: ErrLoginCancelled}
	case "account_selection_required", "account_exists":
		result = callbackResult{err: ErrAccountConflict}
	default:
		result = callbackResult{err: fmt.Errorf("provider returned %q", errorCode)}
	}

	// The waiting login owns the map entry; only deliver once.
	select {
	case ch <- result:
		return nil
	default:
		return errors.New("login already completed")
	}
}

// Await suspends until the callback for state arrives, the context is
// cancelled, or the flow times out. Cancellation and abandonment are
// normal terminal outcomes surfacing as ErrLoginCancelled.
func (p *FederatedProvider) Await(ctx context.Context, state string) (*Claim, error) {
	p.mu.Lock()
	ch, ok := p.pending[state]
	p.mu.Unlock()
	if !ok {
		return nil, errors.New("unknown login state")
	}

	defer func() {
		p.mu.Lock()
		delete(p.pending, state)
		p.mu.Unlock()
	}()

	timer := time.NewTimer(p.config.FlowTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ErrLoginCancelled
	case <-timer.C:
		return nil, ErrLoginCancelled
	case result := <-ch:
		if result.err != nil {
			return nil, result.err
		}
		return p.exchangeCode(ctx, result.code)
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type userInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// exchangeCode trades the authorization code for an access token and
// fetches the user's identity attributes.
func (p *FederatedProvider) exchangeCode(ctx context.Context, code string) (*Claim, error) {
	token, err := p.fetchToken(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	info, err := p.fetchUserInfo(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}

	return &Claim{
		SubjectID:   info.Sub,
		Email:       info.Email,
		DisplayName: info.Name,
		AvatarURL:   info.Picture,
	}, nil
}

func (p *FederatedProvider) fetchToken(ctx context.Context, code string) (*tokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("empty access token in response")
	}

	return &token, nil
}

func (p *FederatedProvider) fetchUserInfo(ctx context.Context, accessToken string) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}
	if info.Sub == "" {
		return nil, errors.New("empty sub in user info response")
	}

	return &info, nil
}
