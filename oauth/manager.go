package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/MrEthical07/authguard/internal/secure"
)

var (
	ErrUnknownProvider  = errors.New("unknown oauth provider")
	ErrInvalidState     = errors.New("oauth state invalid or expired")
	ErrExchangeFailed   = errors.New("oauth code exchange failed")
	ErrNotLinked        = errors.New("oauth identity not linked")
	ErrAlreadyLinked    = errors.New("oauth identity linked to another user")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// maxUserInfoBytes caps provider responses.
const maxUserInfoBytes = 1 << 20

// LinkedAccount ties a provider identity to a local user.
type LinkedAccount struct {
	UserID             string
	Provider           string
	ProviderUserID     string
	Email              string
	SealedAccessToken  []byte
	SealedRefreshToken []byte
	TokenExpiry        time.Time
	CreatedAt          time.Time
}

// Repository persists linked accounts.
type Repository interface {
	// SaveLinkedAccount inserts the link or refreshes its tokens. It returns
	// ErrAlreadyLinked when the identity belongs to a different user.
	SaveLinkedAccount(ctx context.Context, la *LinkedAccount) error
	// GetLinkedAccount returns ErrNotLinked when absent.
	GetLinkedAccount(ctx context.Context, provider, providerUserID string) (*LinkedAccount, error)
	ListLinkedAccounts(ctx context.Context, userID string) ([]LinkedAccount, error)
	DeleteLinkedAccount(ctx context.Context, userID, provider string) (bool, error)
}

// Config tunes the state store.
type Config struct {
	StateTTL time.Duration
	Prefix   string
	// HTTPClient is used for the token exchange and user info calls.
	HTTPClient *http.Client
}

// DefaultConfig keeps state for ten minutes.
func DefaultConfig() Config {
	return Config{
		StateTTL:   10 * time.Minute,
		Prefix:     "oauth",
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Start is the outcome of Begin.
type Start struct {
	URL   string
	State string
}

// Completion is a verified provider identity and the tokens it came with.
type Completion struct {
	Provider    string
	Identity    Identity
	Token       *oauth2.Token
	LinkUserID  string
	RedirectURL string
}

// Manager runs the authorization code flow and owns the token vault.
type Manager struct {
	providers map[string]Provider
	states    *stateStore
	repo      Repository
	box       *secure.SecretBox
	config    Config
	clock     secure.Clock
	rand      io.Reader
}

// NewManager registers providers by name.
func NewManager(redisClient redis.UniversalClient, repo Repository, box *secure.SecretBox, cfg Config, clock secure.Clock, rnd io.Reader, providers ...Provider) (*Manager, error) {
	if box == nil {
		return nil, errors.New("oauth: secret box is required")
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultConfig().StateTTL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = DefaultConfig().HTTPClient
	}
	m := &Manager{
		providers: make(map[string]Provider, len(providers)),
		states:    &stateStore{redis: redisClient, prefix: cfg.Prefix, ttl: cfg.StateTTL},
		repo:      repo,
		box:       box,
		config:    cfg,
		clock:     secure.ClockOrSystem(clock),
		rand:      secure.ReaderOrDefault(rnd),
	}
	for _, p := range providers {
		if p.Name == "" || p.Decode == nil {
			return nil, fmt.Errorf("oauth: provider %q is incomplete", p.Name)
		}
		m.providers[p.Name] = p
	}
	return m, nil
}

// Providers lists configured provider names.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for n := range m.providers {
		names = append(names, n)
	}
	return names
}

// Begin creates a state entry and returns the consent URL. linkUserID is
// set when a signed-in user is attaching a provider to their account.
func (m *Manager) Begin(ctx context.Context, provider, linkUserID, redirectURL string) (*Start, error) {
	p, ok := m.providers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	state, err := secure.RandomToken(m.rand, 32)
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()

	if err := m.states.put(ctx, state, pendingState{
		Provider:    provider,
		Verifier:    verifier,
		LinkUserID:  linkUserID,
		RedirectURL: redirectURL,
		IssuedAt:    m.clock.Now().UnixMilli(),
	}); err != nil {
		return nil, err
	}

	return &Start{
		URL:   p.Config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier)),
		State: state,
	}, nil
}

// Complete consumes state and exchanges code. The state is gone even when
// the exchange fails.
func (m *Manager) Complete(ctx context.Context, provider, state, code string) (*Completion, error) {
	if state == "" || code == "" {
		return nil, ErrInvalidState
	}
	pending, err := m.states.take(ctx, state)
	if err != nil {
		return nil, err
	}
	if pending.Provider != provider {
		return nil, ErrInvalidState
	}
	p, ok := m.providers[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.config.HTTPClient)
	tok, err := p.Config.Exchange(ctx, code, oauth2.VerifierOption(pending.Verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	id, err := m.fetchIdentity(ctx, p, tok)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	return &Completion{
		Provider:    provider,
		Identity:    *id,
		Token:       tok,
		LinkUserID:  pending.LinkUserID,
		RedirectURL: pending.RedirectURL,
	}, nil
}

func (m *Manager) fetchIdentity(ctx context.Context, p Provider, tok *oauth2.Token) (*Identity, error) {
	client := p.Config.Client(ctx, tok)

	body, err := getBody(ctx, client, p.UserInfoURL)
	if err != nil {
		return nil, err
	}
	id, err := p.Decode(body)
	if err != nil {
		return nil, err
	}
	if p.EmailsURL != "" {
		body, err := getBody(ctx, client, p.EmailsURL)
		if err != nil {
			return nil, err
		}
		email, verified, err := primaryVerified(body)
		if err != nil {
			return nil, err
		}
		if verified {
			id.Email, id.EmailVerified = email, true
		}
	}
	return id, nil
}

func getBody(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
}

func tokenAD(userID, provider string) []byte {
	return secure.AssociatedData(secure.PurposeOAuthToken, userID+"|"+provider)
}

// Link attaches the completed identity to userID, sealing its tokens.
func (m *Manager) Link(ctx context.Context, userID string, c *Completion) (*LinkedAccount, error) {
	la := &LinkedAccount{
		UserID:         userID,
		Provider:       c.Provider,
		ProviderUserID: c.Identity.ProviderUserID,
		Email:          c.Identity.Email,
		CreatedAt:      m.clock.Now().UTC().Truncate(time.Millisecond),
	}
	if c.Token != nil {
		ad := tokenAD(userID, c.Provider)
		var err error
		if la.SealedAccessToken, err = m.box.Seal([]byte(c.Token.AccessToken), ad); err != nil {
			return nil, err
		}
		if c.Token.RefreshToken != "" {
			if la.SealedRefreshToken, err = m.box.Seal([]byte(c.Token.RefreshToken), ad); err != nil {
				return nil, err
			}
		}
		la.TokenExpiry = c.Token.Expiry
	}
	if err := m.repo.SaveLinkedAccount(ctx, la); err != nil {
		return nil, err
	}
	return la, nil
}

// Lookup finds the local link for a provider identity.
func (m *Manager) Lookup(ctx context.Context, provider, providerUserID string) (*LinkedAccount, error) {
	return m.repo.GetLinkedAccount(ctx, provider, providerUserID)
}

// Linked lists a user's providers.
func (m *Manager) Linked(ctx context.Context, userID string) ([]LinkedAccount, error) {
	return m.repo.ListLinkedAccounts(ctx, userID)
}

// Unlink removes the provider from userID.
func (m *Manager) Unlink(ctx context.Context, userID, provider string) error {
	removed, err := m.repo.DeleteLinkedAccount(ctx, userID, provider)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotLinked
	}
	return nil
}

// Token opens the sealed provider tokens of la.
func (m *Manager) Token(la *LinkedAccount) (*oauth2.Token, error) {
	if len(la.SealedAccessToken) == 0 {
		return nil, ErrNotLinked
	}
	ad := tokenAD(la.UserID, la.Provider)
	access, err := m.box.Open(la.SealedAccessToken, ad)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{AccessToken: string(access), TokenType: "Bearer", Expiry: la.TokenExpiry}
	if len(la.SealedRefreshToken) > 0 {
		refresh, err := m.box.Open(la.SealedRefreshToken, ad)
		if err != nil {
			return nil, err
		}
		tok.RefreshToken = string(refresh)
	}
	return tok, nil
}
