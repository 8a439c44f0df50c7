// Package auth implements the OAuth client-side token lifecycle and
// request authentication against the shared credential cache.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/osouza/fiscalgate/internal/cache"
	"github.com/osouza/fiscalgate/internal/errs"
	"github.com/osouza/fiscalgate/internal/upstream"
	"go.uber.org/zap"
)

const (
	// stateTTL bounds how long an authorization redirect stays valid.
	stateTTL = 10 * time.Minute

	// defaultExpiresIn applies when the token endpoint omits expires_in.
	defaultExpiresIn = 3600

	oauthScope = "openid profile email offline_access"
)

// Credential is a cached token pair or API-key record. It is stored as
// JSON in the shared cache under a TTL matching its expiry; ExpiresAt
// additionally guards against a cache that outlives the token.
type Credential struct {
	SubjectID    string   `json:"subjectId"`
	AccessToken  string   `json:"accessToken,omitempty"`
	RefreshToken string   `json:"refreshToken,omitempty"`
	TokenType    string   `json:"tokenType,omitempty"`
	ExpiresAt    int64    `json:"expiresAt"` // epoch milliseconds, 0 = no expiry
	Permissions  []string `json:"permissions,omitempty"`
}

// Principal is a normalized authenticated identity.
type Principal struct {
	SubjectID   string
	Permissions []string
	// AccessToken is the upstream OAuth access token, empty for API-key
	// principals.
	AccessToken string
}

// TokenPair is the result of a refresh exchange.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// tokenResponse is the wire shape of the upstream token endpoint.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Manager orchestrates authorization-code exchange, refresh, and
// credential resolution. All state lives in the cache store; a Manager
// itself is stateless and safe for concurrent use.
type Manager struct {
	Store        cache.Store
	AuthClient   *upstream.Client // base URL of the authorization server
	ClientID     string
	ClientSecret string
	Audience     string

	// RetainStateOnFailure keeps the anti-forgery state entry when a
	// code exchange fails, so the callback can be retried.
	RetainStateOnFailure bool

	Logger *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewManager returns a Manager backed by the given store and
// authorization-server client.
func NewManager(store cache.Store, authClient *upstream.Client) *Manager {
	return &Manager{
		Store:      store,
		AuthClient: authClient,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func (m *Manager) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

func (m *Manager) generateID() string {
	if m.newID != nil {
		return m.newID()
	}
	return uuid.NewString()
}

// BeginAuthorization generates a single-use anti-forgery state value,
// stores it for ten minutes, and returns the authorization redirect URL.
func (m *Manager) BeginAuthorization(ctx context.Context, redirectURI string) (string, error) {
	state := m.generateID()
	if err := m.Store.Put(ctx, cache.StateKey(state), "valid", stateTTL); err != nil {
		return "", errs.Wrap(errs.Internal, "store oauth state", err)
	}

	q := url.Values{}
	q.Set("client_id", m.ClientID)
	q.Set("response_type", "code")
	q.Set("audience", m.Audience)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", oauthScope)
	q.Set("state", state)

	return m.AuthClient.BaseURL + "/authorize?" + q.Encode(), nil
}

// CompleteAuthorization verifies the state value and exchanges the
// authorization code for tokens. A missing state entry covers both
// forgery and expiry; the two are indistinguishable by design. On
// success the token pair is cached under a fresh opaque handle, the
// state entry is consumed, and the handle is returned with the token
// lifetime in seconds.
func (m *Manager) CompleteAuthorization(ctx context.Context, code, state, redirectURI string) (string, int, error) {
	_, ok, err := m.Store.Get(ctx, cache.StateKey(state))
	if err != nil {
		return "", 0, errs.Wrap(errs.Internal, "read oauth state", err)
	}
	if !ok {
		return "", 0, errs.New(errs.Auth, "invalid or expired state")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", m.ClientID)
	form.Set("client_secret", m.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)

	tokens, err := m.postTokenForm(ctx, form)
	if err != nil {
		if !m.RetainStateOnFailure {
			_ = m.Store.Delete(ctx, cache.StateKey(state))
		}
		return "", 0, errs.Wrap(errs.Upstream, "token exchange failed", err)
	}

	expiresIn := tokens.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	tokenType := tokens.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	cred := Credential{
		SubjectID:    "default",
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    m.clock().Add(time.Duration(expiresIn) * time.Second).UnixMilli(),
	}

	handle := m.generateID()
	payload, err := json.Marshal(cred)
	if err != nil {
		return "", 0, errs.Wrap(errs.Internal, "encode credential", err)
	}
	if err := m.Store.Put(ctx, cache.TokenKey(handle), string(payload), time.Duration(expiresIn)*time.Second); err != nil {
		return "", 0, errs.Wrap(errs.Internal, "store credential", err)
	}

	_ = m.Store.Delete(ctx, cache.StateKey(state))

	if m.Logger != nil {
		m.Logger.Info("authorization completed", zap.Int("expires_in", expiresIn))
	}

	return handle, expiresIn, nil
}

// Refresh exchanges a refresh token for a new token pair. The previous
// refresh token is reused when the upstream omits a replacement.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, errs.New(errs.Validation, "missing refresh token")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", m.ClientID)
	form.Set("client_secret", m.ClientSecret)
	form.Set("refresh_token", refreshToken)

	tokens, err := m.postTokenForm(ctx, form)
	if err != nil {
		return nil, errs.Wrap(errs.Upstream, "token refresh failed", err)
	}

	newRefresh := tokens.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	return &TokenPair{
		AccessToken:  tokens.AccessToken,
		RefreshToken: newRefresh,
		ExpiresIn:    tokens.ExpiresIn,
	}, nil
}

func (m *Manager) postTokenForm(ctx context.Context, form url.Values) (*tokenResponse, error) {
	resp, err := m.AuthClient.Do(ctx, upstream.Request{
		Method:      http.MethodPost,
		Path:        "/oauth/token",
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, errs.Newf(errs.Upstream, "token endpoint returned status %d", resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(resp.Body, &tokens); err != nil {
		return nil, errs.Wrap(errs.Upstream, "decode token response", err)
	}
	return &tokens, nil
}

// HashAPIKey returns the hex SHA-256 of a raw API key. Only the hash
// ever reaches the cache or the logs.
func HashAPIKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// ProvisionAPIKey stores an API-key record for the given raw key. The
// raw key is hashed before storage and never kept.
func (m *Manager) ProvisionAPIKey(ctx context.Context, rawKey, userID string, permissions []string, ttl time.Duration) error {
	if rawKey == "" {
		return errs.New(errs.Validation, "empty API key")
	}
	if len(permissions) == 0 {
		permissions = []string{"read", "write"}
	}

	cred := Credential{
		SubjectID:   userID,
		Permissions: permissions,
	}
	if ttl > 0 {
		cred.ExpiresAt = m.clock().Add(ttl).UnixMilli()
	}

	payload, err := json.Marshal(cred)
	if err != nil {
		return errs.Wrap(errs.Internal, "encode API key record", err)
	}
	return m.Store.Put(ctx, cache.APIKeyKey(HashAPIKey(rawKey)), string(payload), ttl)
}

// Authenticate resolves the caller's credentials. The X-API-Key header
// is tried first, then a bearer handle; exactly one path runs. A request
// carrying neither fails with an Auth-kind error.
func (m *Manager) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return m.authenticateAPIKey(ctx, apiKey)
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return m.authenticateBearer(ctx, strings.TrimPrefix(authHeader, "Bearer "))
	}

	return nil, errs.New(errs.Auth, "missing authentication, use Authorization header or X-API-Key")
}

func (m *Manager) authenticateAPIKey(ctx context.Context, apiKey string) (*Principal, error) {
	key := cache.APIKeyKey(HashAPIKey(apiKey))

	value, ok, err := m.Store.Get(ctx, key)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "credential lookup failed", err)
	}
	if !ok {
		return nil, errs.New(errs.Auth, "invalid API key")
	}

	var cred Credential
	if err := json.Unmarshal([]byte(value), &cred); err != nil {
		return nil, errs.Wrap(errs.Internal, "decode API key record", err)
	}

	if m.expired(cred) {
		_ = m.Store.Delete(ctx, key)
		return nil, errs.New(errs.Auth, "API key expired")
	}

	return &Principal{
		SubjectID:   cred.SubjectID,
		Permissions: cred.Permissions,
	}, nil
}

func (m *Manager) authenticateBearer(ctx context.Context, handle string) (*Principal, error) {
	key := cache.TokenKey(handle)

	value, ok, err := m.Store.Get(ctx, key)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "credential lookup failed", err)
	}
	if !ok {
		return nil, errs.New(errs.Auth, "invalid or expired token")
	}

	var cred Credential
	if err := json.Unmarshal([]byte(value), &cred); err != nil {
		return nil, errs.Wrap(errs.Internal, "decode credential", err)
	}

	if m.expired(cred) {
		_ = m.Store.Delete(ctx, key)
		return nil, errs.New(errs.Auth, "token expired")
	}

	subject := cred.SubjectID
	if subject == "" {
		subject = "default"
	}

	return &Principal{
		SubjectID:   subject,
		Permissions: cred.Permissions,
		AccessToken: cred.AccessToken,
	}, nil
}

// expired reports whether the credential has passed its own expiry,
// independent of the cache TTL.
func (m *Manager) expired(cred Credential) bool {
	return cred.ExpiresAt != 0 && m.clock().UnixMilli() > cred.ExpiresAt
}
