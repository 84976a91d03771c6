package credential

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/authguard/internal/secure"
	"github.com/MrEthical07/authguard/password"
)

type row struct {
	hash         string
	verifyHash   string
	resetHash    string
	resetExpires time.Time
	verified     bool
}

type memRepo struct {
	mu   sync.Mutex
	rows map[string]*row
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]*row{}} }

func (r *memRepo) get(userID string) *row {
	if r.rows[userID] == nil {
		r.rows[userID] = &row{}
	}
	return r.rows[userID]
}

func (r *memRepo) GetPasswordHash(_ context.Context, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw, ok := r.rows[userID]
	if !ok || rw.hash == "" {
		return "", ErrNoCredential
	}
	return rw.hash, nil
}

func (r *memRepo) SetPasswordHash(_ context.Context, userID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw := r.get(userID)
	rw.hash = hash
	rw.resetHash = ""
	return nil
}

func (r *memRepo) SetVerificationToken(_ context.Context, userID, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(userID).verifyHash = tokenHash
	return nil
}

func (r *memRepo) ConsumeVerificationToken(_ context.Context, tokenHash string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rw := range r.rows {
		if rw.verifyHash != "" && rw.verifyHash == tokenHash {
			rw.verifyHash = ""
			rw.verified = true
			return id, nil
		}
	}
	return "", ErrTokenNotFound
}

func (r *memRepo) SetResetToken(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rw := r.get(userID)
	rw.resetHash = tokenHash
	rw.resetExpires = expiresAt
	return nil
}

func (r *memRepo) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time, newHash string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rw := range r.rows {
		if rw.resetHash != "" && rw.resetHash == tokenHash && rw.resetExpires.After(now) {
			rw.resetHash = ""
			rw.hash = newHash
			return id, nil
		}
	}
	return "", ErrTokenNotFound
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingInvalidator) RevokeAll(_ context.Context, userID, except string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userID+"|"+except)
	return 1, nil
}

func fastHasher(t *testing.T) *password.Hasher {
	t.Helper()
	h, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}, nil)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func newManager(t *testing.T) (*Manager, *memRepo, *recordingInvalidator, *secure.ManualClock) {
	t.Helper()
	repo := newMemRepo()
	inv := &recordingInvalidator{}
	clock := secure.NewManualClock(time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC))
	m := NewManager(repo, fastHasher(t), Config{}, Options{Invalidator: inv, Clock: clock})
	return m, repo, inv, clock
}

func TestSetAndVerifyPassword(t *testing.T) {
	m, repo, inv, _ := newManager(t)
	ctx := context.Background()

	if err := m.SetPassword(ctx, "u-1", "Sn0wman!2024", SetOptions{Registration: true}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if strings.Contains(repo.rows["u-1"].hash, "Sn0wman") || !strings.HasPrefix(repo.rows["u-1"].hash, "$argon2id$") {
		t.Fatalf("expected argon2id hash, got %q", repo.rows["u-1"].hash)
	}
	if len(inv.calls) != 0 {
		t.Fatal("registration must not revoke sessions")
	}

	cases := []struct {
		user, pw string
		want     bool
	}{
		{"u-1", "Sn0wman!2024", true},
		{"u-1", "wrong", false},
		{"u-404", "Sn0wman!2024", false},
	}
	for _, tc := range cases {
		got, err := m.VerifyPassword(ctx, tc.user, tc.pw)
		if err != nil {
			t.Fatalf("verify(%s,%s): %v", tc.user, tc.pw, err)
		}
		if got != tc.want {
			t.Fatalf("verify(%s,%s) = %v, want %v", tc.user, tc.pw, got, tc.want)
		}
	}
}

func TestSetPasswordPolicyAndInvalidation(t *testing.T) {
	m, _, inv, _ := newManager(t)
	ctx := context.Background()

	if err := m.SetPassword(ctx, "u-1", "short", SetOptions{}); !errors.Is(err, ErrWeakCredential) {
		t.Fatalf("expected ErrWeakCredential, got %v", err)
	}
	if err := m.SetPassword(ctx, "u-1", "long-enough-pw", SetOptions{KeepSessionToken: "tok"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if len(inv.calls) != 1 || inv.calls[0] != "u-1|tok" {
		t.Fatalf("expected one invalidation keeping tok, got %v", inv.calls)
	}
}

func TestVerifyUpgradesLegacyBcrypt(t *testing.T) {
	m, repo, _, _ := newManager(t)
	ctx := context.Background()

	legacy, _ := bcrypt.GenerateFromPassword([]byte("old-password"), bcrypt.MinCost)
	repo.rows["u-1"] = &row{hash: string(legacy)}

	ok, err := m.VerifyPassword(ctx, "u-1", "old-password")
	if err != nil || !ok {
		t.Fatalf("expected bcrypt match, ok=%v err=%v", ok, err)
	}
	if !strings.HasPrefix(repo.rows["u-1"].hash, "$argon2id$") {
		t.Fatalf("expected upgrade to argon2id, got %q", repo.rows["u-1"].hash)
	}
	if ok, _ := m.VerifyPassword(ctx, "u-1", "old-password"); !ok {
		t.Fatal("upgraded hash must still verify")
	}
}

func TestHashNewAppliesPolicy(t *testing.T) {
	m, repo, _, _ := newManager(t)
	if _, err := m.HashNew("short"); !errors.Is(err, ErrWeakCredential) {
		t.Fatalf("expected ErrWeakCredential, got %v", err)
	}
	hash, err := m.HashNew("Sn0wman!2024")
	if err != nil || !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("hash: %q %v", hash, err)
	}
	if len(repo.rows) != 0 {
		t.Fatal("HashNew must not write to the repository")
	}
}

func TestVerifyFalsePathsCostComparable(t *testing.T) {
	m, _, _, _ := newManager(t)
	ctx := context.Background()
	_ = m.SetPassword(ctx, "u-1", "Sn0wman!2024", SetOptions{Registration: true})

	// Alternate the two paths so scheduler noise lands on both equally.
	var wrongSamples, missingSamples []time.Duration
	for i := 0; i < 15; i++ {
		start := time.Now()
		_, _ = m.VerifyPassword(ctx, "u-1", "wrong-password")
		wrongSamples = append(wrongSamples, time.Since(start))

		start = time.Now()
		_, _ = m.VerifyPassword(ctx, "u-404", "wrong-password")
		missingSamples = append(missingSamples, time.Since(start))
	}
	median := func(samples []time.Duration) time.Duration {
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		return samples[len(samples)/2]
	}
	wrong, missing := median(wrongSamples), median(missingSamples)

	diff := wrong - missing
	if diff < 0 {
		diff = -diff
	}
	if diff > 10*time.Millisecond {
		t.Fatalf("false paths diverge by %v: wrong=%v missing=%v", diff, wrong, missing)
	}
}

func TestVerificationTokenSingleUse(t *testing.T) {
	m, repo, _, _ := newManager(t)
	ctx := context.Background()

	first, err := m.IssueVerificationToken(ctx, "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	second, _ := m.IssueVerificationToken(ctx, "u-1")
	if first == second || len(second) != 43 {
		t.Fatalf("expected distinct 256-bit tokens, got %q %q", first, second)
	}
	if repo.rows["u-1"].verifyHash == second {
		t.Fatal("plaintext token must not be stored")
	}

	if _, err := m.ConsumeVerificationToken(ctx, first); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("replaced token must be dead, got %v", err)
	}
	uid, err := m.ConsumeVerificationToken(ctx, second)
	if err != nil || uid != "u-1" {
		t.Fatalf("consume: uid=%q err=%v", uid, err)
	}
	if _, err := m.ConsumeVerificationToken(ctx, second); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("token must be single use, got %v", err)
	}
}

func TestResetTokenLifecycle(t *testing.T) {
	m, _, inv, clock := newManager(t)
	ctx := context.Background()
	_ = m.SetPassword(ctx, "u-1", "original-pass", SetOptions{Registration: true})

	token, expiresAt, err := m.IssueResetToken(ctx, "u-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) != 86 {
		t.Fatalf("expected 512-bit token (86 chars), got %d", len(token))
	}
	if want := clock.Now().Add(15 * time.Minute); !expiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, expiresAt)
	}

	if _, err := m.ConsumeResetToken(ctx, token, "weak"); !errors.Is(err, ErrWeakCredential) {
		t.Fatalf("expected ErrWeakCredential, got %v", err)
	}

	uid, err := m.ConsumeResetToken(ctx, token, "brand-new-pass")
	if err != nil || uid != "u-1" {
		t.Fatalf("consume: uid=%q err=%v", uid, err)
	}
	if _, err := m.ConsumeResetToken(ctx, token, "another-new-pass"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("second consume must fail, got %v", err)
	}
	if ok, _ := m.VerifyPassword(ctx, "u-1", "brand-new-pass"); !ok {
		t.Fatal("new password must verify")
	}
	if len(inv.calls) != 1 || inv.calls[0] != "u-1|" {
		t.Fatalf("expected full session invalidation, got %v", inv.calls)
	}
}

func TestResetTokenExpires(t *testing.T) {
	m, _, _, clock := newManager(t)
	ctx := context.Background()

	token, _, _ := m.IssueResetToken(ctx, "u-1")
	clock.Advance(16 * time.Minute)
	if _, err := m.ConsumeResetToken(ctx, token, "brand-new-pass"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken after 16m, got %v", err)
	}
}

func TestIssueResetTokenReplacesPrior(t *testing.T) {
	m, _, _, _ := newManager(t)
	ctx := context.Background()

	old, _, _ := m.IssueResetToken(ctx, "u-1")
	fresh, _, _ := m.IssueResetToken(ctx, "u-1")
	if _, err := m.ConsumeResetToken(ctx, old, "brand-new-pass"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("old token must be invalid, got %v", err)
	}
	if _, err := m.ConsumeResetToken(ctx, fresh, "brand-new-pass"); err != nil {
		t.Fatalf("fresh token: %v", err)
	}
}
