package authguard

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/internal/secure"
	"github.com/MrEthical07/authguard/password"
	"github.com/MrEthical07/authguard/session"
	"github.com/MrEthical07/authguard/store/sqlstore"
)

// t0 is 2026-01-01T00:00:00Z, aligned to a 30s TOTP step.
const t0 = 1767225600

const (
	testIP    = "203.0.113.7"
	testAgent = "authguard-test/1.0"
	goodPass  = "correct horse battery"
)

type mail struct {
	kind      string
	to        string
	token     string
	expiresAt time.Time
}

// mailbox records notifications. Delivery is asynchronous, so readers
// wait on the channel.
type mailbox struct {
	ch chan mail
}

func newMailbox() *mailbox { return &mailbox{ch: make(chan mail, 64)} }

func (m *mailbox) SendVerificationEmail(_ context.Context, to, token string) error {
	m.ch <- mail{kind: "verification", to: to, token: token}
	return nil
}

func (m *mailbox) SendPasswordResetEmail(_ context.Context, to, token string, expiresAt time.Time) error {
	m.ch <- mail{kind: "password_reset", to: to, token: token, expiresAt: expiresAt}
	return nil
}

func (m *mailbox) SendPasswordChangeConfirmation(_ context.Context, to string) error {
	m.ch <- mail{kind: "password_changed", to: to}
	return nil
}

// next returns the next notification of kind, skipping others.
func (m *mailbox) next(t *testing.T, kind string) mail {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-m.ch:
			if got.kind == kind {
				return got
			}
		case <-deadline:
			t.Fatalf("no %s notification delivered", kind)
		}
	}
}

type testEngine struct {
	*Engine
	mr    *miniredis.Miniredis
	store *sqlstore.Store
	clock *secure.ManualClock
	mail  *mailbox
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Keys.MasterSecret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.RateLimit.PenaltyBase = 0
	cfg.Maintenance.Interval = 0
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEngine {
	t.Helper()
	return newTestEngineWith(t, mutate, nil)
}

func newTestEngineWith(t *testing.T, mutate func(*Config), extra func(*Builder)) *testEngine {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	st, err := sqlstore.Open(context.Background(), sqlstore.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := secure.NewManualClock(time.Unix(t0, 0))
	box := newMailbox()

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStore(st).
		WithNotifier(box).
		WithClock(clock).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if extra != nil {
		extra(b)
	}
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(e.Close)
	return &testEngine{Engine: e, mr: mr, store: st, clock: clock, mail: box}
}

func reqCtx() context.Context {
	ctx := WithClientIP(context.Background(), testIP)
	return WithUserAgent(ctx, testAgent)
}

// register creates an account and drains its verification mail.
func (te *testEngine) register(t *testing.T, email string) string {
	t.Helper()
	res := te.Register(reqCtx(), RegisterRequest{Email: email, Password: goodPass})
	if !res.OK() {
		t.Fatalf("register %s: %v", email, res.Err())
	}
	te.mail.next(t, "verification")
	return res.Value.UserID
}

func (te *testEngine) login(t *testing.T, email string) *session.Issued {
	t.Helper()
	res := te.Login(reqCtx(), LoginRequest{Email: email, Password: goodPass})
	if !res.OK() {
		t.Fatalf("login %s: %v", email, res.Err())
	}
	if res.Value.State != StateAuthenticated || res.Value.Session == nil {
		t.Fatalf("expected a session, got %+v", res.Value)
	}
	return res.Value.Session
}

// entries reads the audit log directly so the read itself is not audited.
func (te *testEngine) entries(t *testing.T, f audit.Filter) []audit.Entry {
	t.Helper()
	page, err := te.auditLog.Query(context.Background(), f)
	if err != nil {
		t.Fatalf("audit query: %v", err)
	}
	return page.Entries
}

func (te *testEngine) lastEntry(t *testing.T, et audit.EventType, action audit.Action) audit.Entry {
	t.Helper()
	got := te.entries(t, audit.Filter{EventType: et, Action: action, Limit: 1})
	if len(got) == 0 {
		t.Fatalf("no %s/%s audit entry", et, action)
	}
	return got[0]
}

func wantKind[T any](t *testing.T, res Result[T], kind Kind) {
	t.Helper()
	if res.OK() {
		t.Fatalf("expected %s, got success %+v", kind, res.Value)
	}
	if res.Failure.Kind != kind {
		t.Fatalf("expected %s, got %s", kind, res.Failure.Kind)
	}
}

func TestBuildRequiresRedisAndStore(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	st, err := sqlstore.Open(context.Background(), sqlstore.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithStore(st)
	e, err := b.Build()
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("second Build must fail")
	}
}

func TestBuildRejectsShortMasterSecret(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	st, err := sqlstore.Open(context.Background(), sqlstore.SQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	cfg := testConfig()
	cfg.Keys.MasterSecret = []byte("short")
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithStore(st).Build(); err == nil {
		t.Fatal("expected short master secret to be rejected")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	te := newTestEngine(t, nil)
	te.Close()
	te.Close()

	var nilEngine *Engine
	nilEngine.Close()
	if err := nilEngine.RunMaintenance(context.Background()); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
