package challenge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authguard/internal/secure"
)

// Purpose is the only accepted value of the purpose claim.
const Purpose = "2fa"

var (
	// ErrInvalid covers bad signature, wrong purpose, expiry and a consumed
	// or unknown ledger entry.
	ErrInvalid = errors.New("two-factor challenge invalid")
	// ErrExhausted is returned by Fail once the attempt budget is spent; the
	// challenge is deleted.
	ErrExhausted = errors.New("two-factor challenge attempts exhausted")
	// ErrRedisUnavailable wraps ledger transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Config tunes the issuer.
type Config struct {
	TTL         time.Duration
	MaxAttempts int
	Issuer      string
	Prefix      string
}

// DefaultConfig is ten minutes and five failed attempts.
func DefaultConfig() Config {
	return Config{TTL: 10 * time.Minute, MaxAttempts: 5, Issuer: "authguard", Prefix: "p2fa"}
}

// Claims is the signed payload.
type Claims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Pending is a verified, still-live challenge.
type Pending struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
}

// failScript bumps the failure count and deletes the entry at the limit.
//
// KEYS[1] ledger hash; ARGV[1] max attempts
// returns -1 missing, 0 still live, 1 exhausted
const failScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local fails = redis.call("HINCRBY", KEYS[1], "fails", 1)
if fails >= tonumber(ARGV[1]) then
  redis.call("DEL", KEYS[1])
  return 1
end
return 0
`

var failLua = redis.NewScript(failScript)

// Issuer signs challenges and owns their ledger.
type Issuer struct {
	redis  redis.UniversalClient
	key    []byte
	config Config
	clock  secure.Clock
	rand   io.Reader
}

// NewIssuer validates cfg. key is the HMAC signing key.
func NewIssuer(redisClient redis.UniversalClient, key []byte, cfg Config, clock secure.Clock, rnd io.Reader) (*Issuer, error) {
	if len(key) < 32 {
		return nil, errors.New("challenge: signing key must be at least 32 bytes")
	}
	if cfg.TTL <= 0 || cfg.MaxAttempts <= 0 {
		return nil, errors.New("challenge: ttl and max attempts must be positive")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "p2fa"
	}
	return &Issuer{
		redis:  redisClient,
		key:    append([]byte(nil), key...),
		config: cfg,
		clock:  secure.ClockOrSystem(clock),
		rand:   secure.ReaderOrDefault(rnd),
	}, nil
}

func (i *Issuer) ledgerKey(jti string) string {
	return i.config.Prefix + ":" + jti
}

// Issue creates a challenge for userID and records it in the ledger.
func (i *Issuer) Issue(ctx context.Context, userID string) (string, *Pending, error) {
	jti, err := secure.NewID(i.rand)
	if err != nil {
		return "", nil, err
	}
	now := i.clock.Now()
	exp := now.Add(i.config.TTL)

	claims := Claims{
		Purpose: Purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", nil, err
	}

	if err := i.redis.HSet(ctx, i.ledgerKey(jti), "uid", userID, "fails", 0).Err(); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if err := i.redis.Expire(ctx, i.ledgerKey(jti), i.config.TTL).Err(); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return signed, &Pending{ID: jti, UserID: userID, ExpiresAt: exp}, nil
}

// Verify checks signature, purpose, expiry and that the ledger entry is
// still present for the same user. It does not consume the challenge.
func (i *Issuer) Verify(ctx context.Context, token string) (*Pending, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return i.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.clock.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(i.config.Issuer),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.Purpose != Purpose || claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalid
	}

	uid, err := i.redis.HGet(ctx, i.ledgerKey(claims.ID), "uid").Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !secure.Equal([]byte(uid), []byte(claims.Subject)) {
		return nil, ErrInvalid
	}

	return &Pending{ID: claims.ID, UserID: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Consume deletes the ledger entry. Exactly one concurrent caller succeeds;
// the rest get ErrInvalid.
func (i *Issuer) Consume(ctx context.Context, p *Pending) error {
	n, err := i.redis.Del(ctx, i.ledgerKey(p.ID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n == 0 {
		return ErrInvalid
	}
	return nil
}

// Fail records one wrong code. It returns ErrExhausted when the budget is
// spent and ErrInvalid when the challenge is already gone.
func (i *Issuer) Fail(ctx context.Context, p *Pending) error {
	res, err := failLua.Run(ctx, i.redis, []string{i.ledgerKey(p.ID)}, i.config.MaxAttempts).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch res {
	case -1:
		return ErrInvalid
	case 1:
		return ErrExhausted
	}
	return nil
}
