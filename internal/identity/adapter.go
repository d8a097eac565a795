package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kinber/kinber/internal/config"
	"github.com/kinber/kinber/internal/logging"
	auth "github.com/supabase-community/auth-go"
	"github.com/supabase-community/auth-go/types"
)

// Adapter talks to the identity service and owns the current session.
type Adapter struct {
	baseURL string
	anonKey string
	http    *http.Client
	store   SessionStore
	now     func() time.Time

	mu sync.Mutex // serializes refresh so one refresh token is spent once
}

var _ SessionSource = (*Adapter)(nil)

// Option customizes an Adapter.
type Option func(*Adapter)

// WithHTTPClient sets the HTTP client used for identity calls.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.http = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// New builds an adapter. Missing service URL or anon key is a configuration
// error and callers should treat it as fatal.
func New(cfg config.IdentityConfig, store SessionStore, opts ...Option) (*Adapter, error) {
	var missing []string
	if strings.TrimSpace(cfg.URL) == "" {
		missing = append(missing, "identity.url")
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		missing = append(missing, "identity.anon_key")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("identity: missing configuration: %s", strings.Join(missing, ", "))
	}
	if store == nil {
		store = &MemoryStore{}
	}
	a := &Adapter{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		anonKey: cfg.AnonKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   store,
		now:     time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// StatusError is a non-2xx answer from the identity service.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// rejected reports whether the service refused the request itself, as opposed
// to failing to serve it.
func (e *StatusError) rejected() bool {
	return e.Status >= 400 && e.Status < 500
}

func toUser(u types.User) User {
	user := User{Email: u.Email}
	if u.ID != uuid.Nil {
		user.ID = u.ID.String()
	}
	user.Name = metaString(u.UserMetadata, "full_name", "name")
	user.AvatarURL = metaString(u.UserMetadata, "avatar_url", "picture")
	return user
}

// metaString returns the first non-empty string among keys.
func metaString(meta map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := meta[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (a *Adapter) toSession(t types.Session) *Session {
	s := &Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		User:         toUser(t.User),
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = a.now().Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	return s
}

// callTransport carries ctx into the auth client, whose methods take none,
// and keeps the status of the last response.
type callTransport struct {
	ctx    context.Context
	base   http.RoundTripper
	apiKey string
	status int
}

func (t *callTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(t.ctx)
	if r.Header.Get("apikey") == "" {
		r.Header.Set("apikey", t.apiKey)
	}
	resp, err := t.base.RoundTrip(r)
	if resp != nil {
		t.status = resp.StatusCode
	}
	return resp, err
}

// client returns an auth client bound to ctx for a single call.
func (a *Adapter) client(ctx context.Context, bearer string) (auth.Client, *callTransport) {
	base := a.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	ct := &callTransport{ctx: ctx, base: base, apiKey: a.anonKey}
	c := auth.New("", a.anonKey).
		WithCustomAuthURL(a.baseURL + "/auth/v1").
		WithClient(http.Client{Transport: ct, Timeout: a.http.Timeout})
	if bearer != "" {
		c = c.WithToken(bearer)
	}
	return c, ct
}

// callError turns an auth client failure into a *StatusError when the service
// answered with a non-2xx status.
func callError(op string, ct *callTransport, err error) error {
	if ct.status != 0 && (ct.status < 200 || ct.status >= 300) {
		body := strings.TrimPrefix(err.Error(), fmt.Sprintf("response status code %d", ct.status))
		return &StatusError{Op: op, Status: ct.status, Body: strings.TrimSpace(strings.TrimPrefix(body, ":"))}
	}
	return fmt.Errorf("identity: %s: %w", op, err)
}

// CurrentSession returns the stored session, refreshing it first when it has
// expired. A refresh the service rejects clears the session and reports nobody
// signed in.
func (a *Adapter) CurrentSession(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.store.Load(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	if !s.Expired(a.now()) {
		return s, nil
	}
	return a.refreshLocked(ctx, s)
}

// Refresh exchanges the stored refresh token for a new session regardless of
// expiry. It returns nil, nil when nobody is signed in.
func (a *Adapter) Refresh(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.store.Load(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	return a.refreshLocked(ctx, s)
}

func (a *Adapter) refreshLocked(ctx context.Context, s *Session) (*Session, error) {
	log := logging.For("identity")
	if s.RefreshToken == "" {
		log.Info().Msg("session expired without refresh token, signing out locally")
		return nil, a.store.Clear(ctx)
	}

	c, ct := a.client(ctx, "")
	tok, err := c.RefreshToken(s.RefreshToken)
	if err != nil {
		err = callError("refresh", ct, err)
		var se *StatusError
		if errors.As(err, &se) && se.rejected() {
			log.Info().Int("status", se.Status).Msg("refresh rejected, signing out locally")
			return nil, a.store.Clear(ctx)
		}
		return nil, err
	}

	fresh := a.toSession(tok.Session)
	if fresh.User.ID == "" {
		fresh.User = s.User
	}
	if err := a.store.Save(ctx, fresh); err != nil {
		return nil, err
	}
	log.Debug().Str("user", fresh.User.ID).Time("expires_at", fresh.ExpiresAt).Msg("session refreshed")
	return fresh, nil
}

// CurrentUser returns the signed-in user or nil.
func (a *Adapter) CurrentUser(ctx context.Context) (*User, error) {
	s, err := a.CurrentSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	u := s.User
	return &u, nil
}

// FetchUser asks the service for the user behind the current access token.
func (a *Adapter) FetchUser(ctx context.Context) (*User, error) {
	s, err := a.CurrentSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	c, ct := a.client(ctx, s.AccessToken)
	resp, err := c.GetUser()
	if err != nil {
		return nil, callError("user", ct, err)
	}
	user := toUser(resp.User)
	return &user, nil
}

// DisplayName is for non-critical reads such as the sidebar greeting. Any
// failure reads as "not logged in" and yields an empty string.
func (a *Adapter) DisplayName(ctx context.Context) string {
	u, err := a.CurrentUser(ctx)
	if err != nil {
		log := logging.For("identity")
		log.Debug().Err(err).Msg("display name unavailable")
		return ""
	}
	if u == nil {
		return ""
	}
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// SignInWithIDToken exchanges a provider-issued ID token for a session and
// stores it.
func (a *Adapter) SignInWithIDToken(ctx context.Context, provider, idToken string) (*Session, error) {
	if provider == "" || idToken == "" {
		return nil, fmt.Errorf("identity: sign in: provider and id token are required")
	}
	// The auth client only speaks the password, refresh_token and pkce
	// grants.
	var tok types.TokenResponse
	body := map[string]string{"provider": provider, "id_token": idToken}
	if err := a.post(ctx, "sign in", "/auth/v1/token?grant_type=id_token", body, &tok); err != nil {
		return nil, err
	}
	return a.signedIn(ctx, tok.Session)
}

// SignInWithPassword signs in with email and password.
func (a *Adapter) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("identity: sign in: email and password are required")
	}
	c, ct := a.client(ctx, "")
	tok, err := c.SignInWithEmailPassword(email, password)
	if err != nil {
		return nil, callError("sign in", ct, err)
	}
	return a.signedIn(ctx, tok.Session)
}

func (a *Adapter) signedIn(ctx context.Context, tok types.Session) (*Session, error) {
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("identity: sign in: response carried no access token")
	}
	s := a.toSession(tok)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.store.Save(ctx, s); err != nil {
		return nil, err
	}
	log := logging.For("identity")
	log.Info().Str("user", s.User.ID).Msg("signed in")
	return s, nil
}

// SignOut revokes the session remotely when possible and always clears it
// locally.
func (a *Adapter) SignOut(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, err := a.store.Load(ctx)
	if err == nil && s != nil {
		c, ct := a.client(ctx, s.AccessToken)
		if err := c.Logout(); err != nil {
			log := logging.For("identity")
			log.Warn().Err(callError("logout", ct, err)).Msg("remote sign out failed, clearing local session")
		}
	}
	return a.store.Clear(ctx)
}

func (a *Adapter) post(ctx context.Context, op, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("identity: %s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("identity: %s: %w", op, err)
	}
	req.Header.Set("apikey", a.anonKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("identity: %s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("identity: %s: decode: %w", op, err)
	}
	return nil
}
