package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/MrEthical07/authguard/internal/secure"
)

type memRepo struct {
	mu    sync.Mutex
	links map[string]LinkedAccount
}

func (r *memRepo) SaveLinkedAccount(_ context.Context, la *LinkedAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := la.Provider + "|" + la.ProviderUserID
	if cur, ok := r.links[k]; ok && cur.UserID != la.UserID {
		return ErrAlreadyLinked
	}
	r.links[k] = *la
	return nil
}

func (r *memRepo) GetLinkedAccount(_ context.Context, provider, providerUserID string) (*LinkedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	la, ok := r.links[provider+"|"+providerUserID]
	if !ok {
		return nil, ErrNotLinked
	}
	return &la, nil
}

func (r *memRepo) ListLinkedAccounts(_ context.Context, userID string) ([]LinkedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LinkedAccount
	for _, la := range r.links {
		if la.UserID == userID {
			out = append(out, la)
		}
	}
	return out, nil
}

func (r *memRepo) DeleteLinkedAccount(_ context.Context, userID, provider string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := false
	for k, la := range r.links {
		if la.UserID == userID && la.Provider == provider {
			delete(r.links, k)
			removed = true
		}
	}
	return removed, nil
}

// fakeProvider serves token, user info and e-mail endpoints. The token
// endpoint enforces PKCE against the challenge seen at authorization.
type fakeProvider struct {
	mu        sync.Mutex
	challenge string
	exchanges int
}

func (f *fakeProvider) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		f.mu.Lock()
		f.exchanges++
		want := f.challenge
		f.mu.Unlock()
		if base64.RawURLEncoding.EncodeToString(sum[:]) != want || r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-1","token_type":"bearer","refresh_token":"rt-1","expires_in":3600}`)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"id": 4242, "login": "octo", "name": "", "email": "public@example.com"}`)
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"email":"other@example.com","primary":false,"verified":true},{"email":"Octo@Example.com","primary":true,"verified":true}]`)
	})
	return mux
}

func newTestManager(t *testing.T) (*Manager, *fakeProvider, *memRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fp := &fakeProvider{}
	srv := httptest.NewServer(fp.handler(t))
	t.Cleanup(srv.Close)

	p := GitHub("client", "secret", "https://app.example.com/cb")
	p.Config.Endpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/authorize",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	p.UserInfoURL = srv.URL + "/user"
	p.EmailsURL = srv.URL + "/user/emails"

	box, err := secure.NewSecretBox([]byte("0123456789abcdef0123456789abcdef"), nil)
	if err != nil {
		t.Fatalf("secret box: %v", err)
	}
	repo := &memRepo{links: map[string]LinkedAccount{}}
	cfg := DefaultConfig()
	cfg.HTTPClient = srv.Client()
	m, err := NewManager(rdb, repo, box, cfg, secure.NewManualClock(time.Unix(1767225600, 0)), nil, p)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, fp, repo, mr
}

func begin(t *testing.T, m *Manager, fp *fakeProvider, linkUser string) string {
	t.Helper()
	start, err := m.Begin(context.Background(), "github", linkUser, "/settings")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	u, err := url.Parse(start.URL)
	if err != nil {
		t.Fatalf("parse consent url: %v", err)
	}
	q := u.Query()
	if q.Get("state") != start.State || q.Get("code_challenge_method") != "S256" {
		t.Fatalf("consent url missing state or PKCE: %s", start.URL)
	}
	fp.mu.Lock()
	fp.challenge = q.Get("code_challenge")
	fp.mu.Unlock()
	return start.State
}

func TestCompleteFetchesVerifiedIdentity(t *testing.T) {
	m, fp, _, _ := newTestManager(t)
	state := begin(t, m, fp, "")

	c, err := m.Complete(context.Background(), "github", state, "good-code")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.Identity.ProviderUserID != "4242" || c.Identity.Name != "octo" {
		t.Fatalf("unexpected identity %+v", c.Identity)
	}
	if c.Identity.Email != "octo@example.com" || !c.Identity.EmailVerified {
		t.Fatalf("expected verified primary email, got %+v", c.Identity)
	}
	if c.RedirectURL != "/settings" || c.LinkUserID != "" {
		t.Fatalf("state payload not carried: %+v", c)
	}
}

func TestStateIsSingleUse(t *testing.T) {
	m, fp, _, _ := newTestManager(t)
	state := begin(t, m, fp, "")

	if _, err := m.Complete(context.Background(), "github", state, "bad-code"); !errors.Is(err, ErrExchangeFailed) {
		t.Fatalf("expected ErrExchangeFailed, got %v", err)
	}
	if _, err := m.Complete(context.Background(), "github", state, "good-code"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("state must be consumed by the first attempt, got %v", err)
	}
}

func TestStateExpires(t *testing.T) {
	m, fp, _, mr := newTestManager(t)
	state := begin(t, m, fp, "")
	mr.FastForward(11 * time.Minute)

	if _, err := m.Complete(context.Background(), "github", state, "good-code"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if fp.exchanges != 0 {
		t.Fatal("no exchange must happen for an expired state")
	}
}

func TestStateBoundToProvider(t *testing.T) {
	m, fp, _, _ := newTestManager(t)
	state := begin(t, m, fp, "")
	if _, err := m.Complete(context.Background(), "google", state, "good-code"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestBeginUnknownProvider(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if _, err := m.Begin(context.Background(), "myspace", "", ""); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestLinkSealsTokens(t *testing.T) {
	m, fp, repo, _ := newTestManager(t)
	state := begin(t, m, fp, "user-1")
	c, err := m.Complete(context.Background(), "github", state, "good-code")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.LinkUserID != "user-1" {
		t.Fatalf("expected link user, got %q", c.LinkUserID)
	}

	la, err := m.Link(context.Background(), "user-1", c)
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if string(la.SealedAccessToken) == "at-1" {
		t.Fatal("access token stored in plaintext")
	}

	got, err := m.Lookup(context.Background(), "github", "4242")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	tok, err := m.Token(got)
	if err != nil {
		t.Fatalf("open token: %v", err)
	}
	if tok.AccessToken != "at-1" || tok.RefreshToken != "rt-1" {
		t.Fatalf("unexpected token %+v", tok)
	}

	// A row moved to another user does not open.
	moved := *got
	moved.UserID = "user-2"
	if _, err := m.Token(&moved); err == nil {
		t.Fatal("tokens must be bound to the owning user")
	}

	if _, err := m.Link(context.Background(), "user-2", c); !errors.Is(err, ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked, got %v", err)
	}

	if err := m.Unlink(context.Background(), "user-1", "github"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := m.Unlink(context.Background(), "user-1", "github"); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("expected ErrNotLinked, got %v", err)
	}
	if len(repo.links) != 0 {
		t.Fatalf("expected no links, have %d", len(repo.links))
	}
}

func TestDecodeGoogleUser(t *testing.T) {
	id, err := DecodeGoogleUser([]byte(`{"sub":"1080","email":" Ann@Example.com ","email_verified":true,"name":"Ann"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if id.ProviderUserID != "1080" || id.Email != "ann@example.com" || !id.EmailVerified {
		t.Fatalf("unexpected identity %+v", id)
	}
	if _, err := DecodeGoogleUser([]byte(`{"email":"x@example.com"}`)); err == nil {
		t.Fatal("missing sub must fail")
	}
}
