package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authguard/account"
	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/credential"
	"github.com/MrEthical07/authguard/internal/secure"
	"github.com/MrEthical07/authguard/oauth"
	"github.com/MrEthical07/authguard/twofactor"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), SQLite, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createUser(t *testing.T, s *Store, email string) *account.User {
	t.Helper()
	u := &account.User{Email: email, DisplayName: "Test", CreatedAt: time.UnixMilli(1767225600000)}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestRebind(t *testing.T) {
	pg := New(nil, Postgres)
	if got := pg.rebind("a = ? AND b IN (?, ?)"); got != "a = $1 AND b IN ($2, $3)" {
		t.Fatalf("postgres rebind: %q", got)
	}
	lite := New(nil, SQLite)
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind must be identity: %q", got)
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in   string
		want Dialect
		ok   bool
	}{
		{"sqlite", SQLite, true},
		{"PostgreSQL", Postgres, true},
		{"pgx", Postgres, true},
		{"mysql", 0, false},
	}
	for _, tc := range tests {
		got, err := ParseDialect(tc.in)
		if (err == nil) != tc.ok || (tc.ok && got != tc.want) {
			t.Fatalf("ParseDialect(%q) = %v, %v", tc.in, got, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestUsers(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	u := createUser(t, s, "  Alice@Example.COM ")

	if u.ID == "" || u.Email != "alice@example.com" || u.Status != account.StatusActive {
		t.Fatalf("unexpected user %+v", u)
	}
	if err := s.CreateUser(ctx, &account.User{Email: "alice@example.com"}); !errors.Is(err, account.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	got, err := s.GetUserByEmail(ctx, "ALICE@example.com")
	if err != nil || got.ID != u.ID || !got.CreatedAt.Equal(u.CreatedAt) {
		t.Fatalf("get by email: %+v %v", got, err)
	}

	if err := s.MarkEmailVerified(ctx, u.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := s.SetUserStatus(ctx, u.ID, account.StatusDisabled); err != nil {
		t.Fatalf("status: %v", err)
	}
	got, _ = s.GetUserByID(ctx, u.ID)
	if !got.EmailVerified || got.Active() {
		t.Fatalf("unexpected flags %+v", got)
	}

	if _, err := s.GetUserByID(ctx, "missing"); !errors.Is(err, account.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := s.SetUserStatus(ctx, "missing", account.StatusActive); !errors.Is(err, account.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateUserWithPasswordIsAtomic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.DB().ExecContext(ctx, `CREATE TRIGGER reject_credentials BEFORE INSERT ON credentials
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	u := &account.User{Email: "bob@example.com", CreatedAt: time.UnixMilli(1767225600000)}
	if err := s.CreateUserWithPassword(ctx, u, "hash-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := s.GetUserByEmail(ctx, "bob@example.com"); !errors.Is(err, account.ErrUserNotFound) {
		t.Fatalf("user row must be rolled back, got %v", err)
	}

	if _, err := s.DB().ExecContext(ctx, `DROP TRIGGER reject_credentials`); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	u = &account.User{Email: "bob@example.com", CreatedAt: time.UnixMilli(1767225600000)}
	if err := s.CreateUserWithPassword(ctx, u, "hash-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if hash, err := s.GetPasswordHash(ctx, u.ID); err != nil || hash != "hash-1" {
		t.Fatalf("password hash: %q %v", hash, err)
	}
	if err := s.CreateUserWithPassword(ctx, &account.User{Email: "bob@example.com"}, "hash-2"); !errors.Is(err, account.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestPasswordAndResetToken(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	u := createUser(t, s, "bob@example.com")
	now := time.UnixMilli(1767225600000)

	if _, err := s.GetPasswordHash(ctx, u.ID); !errors.Is(err, credential.ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if err := s.SetPasswordHash(ctx, u.ID, "hash-1"); err != nil {
		t.Fatalf("set hash: %v", err)
	}
	if err := s.SetResetToken(ctx, u.ID, "tok-a", now.Add(15*time.Minute)); err != nil {
		t.Fatalf("set reset: %v", err)
	}
	// Reissuing overwrites the previous token.
	if err := s.SetResetToken(ctx, u.ID, "tok-b", now.Add(15*time.Minute)); err != nil {
		t.Fatalf("set reset: %v", err)
	}
	if _, err := s.ConsumeResetToken(ctx, "tok-a", now, "hash-x"); !errors.Is(err, credential.ErrTokenNotFound) {
		t.Fatalf("old token must be dead, got %v", err)
	}

	if _, err := s.ConsumeResetToken(ctx, "tok-b", now.Add(16*time.Minute), "hash-x"); !errors.Is(err, credential.ErrTokenNotFound) {
		t.Fatalf("expired token must fail, got %v", err)
	}
	id, err := s.ConsumeResetToken(ctx, "tok-b", now.Add(time.Minute), "hash-2")
	if err != nil || id != u.ID {
		t.Fatalf("consume: %q %v", id, err)
	}
	if _, err := s.ConsumeResetToken(ctx, "tok-b", now.Add(time.Minute), "hash-3"); !errors.Is(err, credential.ErrTokenNotFound) {
		t.Fatalf("token must be single use, got %v", err)
	}
	if h, _ := s.GetPasswordHash(ctx, u.ID); h != "hash-2" {
		t.Fatalf("expected hash-2, got %q", h)
	}
}

func TestSetPasswordClearsReset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	u := createUser(t, s, "carol@example.com")
	now := time.UnixMilli(1767225600000)

	_ = s.SetResetToken(ctx, u.ID, "tok", now.Add(time.Hour))
	_ = s.SetPasswordHash(ctx, u.ID, "hash")
	if _, err := s.ConsumeResetToken(ctx, "tok", now, "other"); !errors.Is(err, credential.ErrTokenNotFound) {
		t.Fatalf("password change must clear reset token, got %v", err)
	}
}

func TestVerificationToken(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	u := createUser(t, s, "dave@example.com")

	if err := s.SetVerificationToken(ctx, u.ID, "vt"); err != nil {
		t.Fatalf("set: %v", err)
	}
	id, err := s.ConsumeVerificationToken(ctx, "vt")
	if err != nil || id != u.ID {
		t.Fatalf("consume: %q %v", id, err)
	}
	if got, _ := s.GetUserByID(ctx, u.ID); !got.EmailVerified {
		t.Fatal("email must be verified")
	}
	if _, err := s.ConsumeVerificationToken(ctx, "vt"); !errors.Is(err, credential.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestTwoFactorRecord(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	u := createUser(t, s, "erin@example.com")

	if _, err := s.GetTwoFactor(ctx, u.ID); !errors.Is(err, twofactor.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
	rec := &twofactor.Record{
		UserID:       u.ID,
		SealedSecret: []byte{1, 2, 3},
		Algorithm:    "SHA1",
		LastUsedStep: -1,
		CreatedAt:    time.UnixMilli(1767225600000),
	}
	if err := s.SaveTwoFactor(ctx, rec, []string{"h1", "h2"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetTwoFactor(ctx, u.ID)
	if err != nil || got.Enabled || got.LastUsedStep != -1 || string(got.SealedSecret) != "\x01\x02\x03" {
		t.Fatalf("get: %+v %v", got, err)
	}

	ok, err := s.AdvanceTwoFactorStep(ctx, u.ID, 100, true)
	if err != nil || !ok {
		t.Fatalf("advance: %v %v", ok, err)
	}
	for _, step := range []int64{100, 99} {
		if ok, _ := s.AdvanceTwoFactorStep(ctx, u.ID, step, false); ok {
			t.Fatalf("step %d must not advance", step)
		}
	}
	got, _ = s.GetTwoFactor(ctx, u.ID)
	if !got.Enabled || got.LastUsedStep != 100 {
		t.Fatalf("unexpected record %+v", got)
	}

	if ok, _ := s.ConsumeBackupCode(ctx, u.ID, "h1"); !ok {
		t.Fatal("h1 must be consumable")
	}
	if ok, _ := s.ConsumeBackupCode(ctx, u.ID, "h1"); ok {
		t.Fatal("h1 must be single use")
	}
	if err := s.ReplaceBackupCodes(ctx, u.ID, []string{"h3", "h4", "h5"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if n, _ := s.CountBackupCodes(ctx, u.ID); n != 3 {
		t.Fatalf("expected 3 codes, got %d", n)
	}
	if ok, _ := s.ConsumeBackupCode(ctx, u.ID, "h2"); ok {
		t.Fatal("replaced code must be gone")
	}

	removed, err := s.DeleteTwoFactor(ctx, u.ID)
	if err != nil || !removed {
		t.Fatalf("delete: %v %v", removed, err)
	}
	if n, _ := s.CountBackupCodes(ctx, u.ID); n != 0 {
		t.Fatalf("codes must be deleted, have %d", n)
	}
	if removed, _ := s.DeleteTwoFactor(ctx, u.ID); removed {
		t.Fatal("second delete must report nothing removed")
	}
}

func TestLinkedAccounts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := createUser(t, s, "a@example.com")
	b := createUser(t, s, "b@example.com")

	la := &oauth.LinkedAccount{
		UserID:             a.ID,
		Provider:           "github",
		ProviderUserID:     "42",
		Email:              "a@example.com",
		SealedAccessToken:  []byte("sealed-at"),
		SealedRefreshToken: []byte("sealed-rt"),
		TokenExpiry:        time.UnixMilli(1767229200000),
		CreatedAt:          time.UnixMilli(1767225600000),
	}
	if err := s.SaveLinkedAccount(ctx, la); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Refresh without a new refresh token keeps the old one.
	refresh := *la
	refresh.SealedAccessToken = []byte("sealed-at-2")
	refresh.SealedRefreshToken = nil
	if err := s.SaveLinkedAccount(ctx, &refresh); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got, err := s.GetLinkedAccount(ctx, "github", "42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.SealedAccessToken) != "sealed-at-2" || string(got.SealedRefreshToken) != "sealed-rt" {
		t.Fatalf("unexpected tokens %+v", got)
	}

	steal := *la
	steal.UserID = b.ID
	if err := s.SaveLinkedAccount(ctx, &steal); !errors.Is(err, oauth.ErrAlreadyLinked) {
		t.Fatalf("expected ErrAlreadyLinked, got %v", err)
	}

	list, err := s.ListLinkedAccounts(ctx, a.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %v", list, err)
	}
	if removed, _ := s.DeleteLinkedAccount(ctx, a.ID, "github"); !removed {
		t.Fatal("expected delete")
	}
	if _, err := s.GetLinkedAccount(ctx, "github", "42"); !errors.Is(err, oauth.ErrNotLinked) {
		t.Fatalf("expected ErrNotLinked, got %v", err)
	}
}

func newAuditLog(t *testing.T, s *Store, clock secure.Clock) *audit.Log {
	t.Helper()
	l, err := audit.NewLog(s, []byte("audit-key-audit-key-audit-key-32"), audit.Options{Clock: clock})
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	return l
}

func TestAuditRoundTripKeepsChecksum(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	clock := secure.NewManualClock(time.Unix(1767225600, 0))
	l := newAuditLog(t, s, clock)

	_, err := l.Append(ctx, audit.Record{
		UserID:    "u-1",
		EventType: audit.EventAuthentication,
		Action:    audit.ActionLoginFailed,
		Severity:  audit.SeverityWarn,
		IPAddress: "203.0.113.9",
		EventData: map[string]any{"attempts": 3, "nested": map[string]any{"z": true, "a": "x"}},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := l.Append(ctx, audit.Record{UserID: "u-1", EventType: audit.EventAuthentication, Action: audit.ActionLogin, Success: true}); err != nil {
		t.Fatalf("append: %v", err)
	}
	clock.Advance(time.Second)
	if _, err := l.Append(ctx, audit.Record{UserID: "u-2", EventType: audit.EventSession, Action: audit.ActionSessionCreated, Success: true}); err != nil {
		t.Fatalf("append: %v", err)
	}

	failed := false
	page, err := l.Query(ctx, audit.Filter{UserID: "u-1", Success: &failed})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 1 || len(page.Entries) != 1 || page.Entries[0].Action != audit.ActionLoginFailed {
		t.Fatalf("unexpected page %+v", page)
	}
	if !l.VerifyIntegrity(&page.Entries[0]) {
		t.Fatal("stored entry must verify after a round trip")
	}

	page, err = l.Query(ctx, audit.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if page.Total != 3 || len(page.Entries) != 2 || page.Entries[0].UserID != "u-2" {
		t.Fatalf("expected newest first with total 3, got %+v", page)
	}

	report, err := audit.NewIntegrityChecker(l, 1).Run(ctx)
	if err != nil || report.Checked != 3 {
		t.Fatalf("integrity: %+v %v", report, err)
	}
}

func TestAuditTamperDetected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	l := newAuditLog(t, s, secure.NewManualClock(time.Unix(1767225600, 0)))

	e, err := l.Append(ctx, audit.Record{UserID: "u-1", EventType: audit.EventAuthentication, Action: audit.ActionLoginFailed})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `UPDATE audit_log SET success = 1 WHERE id = ?`, e.ID); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	report, err := audit.NewIntegrityChecker(l, 10).Run(ctx)
	if !errors.Is(err, audit.ErrIntegrityViolation) {
		t.Fatalf("expected ErrIntegrityViolation, got %v", err)
	}
	if report.Violation == nil || report.Violation.ID != e.ID {
		t.Fatalf("unexpected report %+v", report)
	}
	page, _ := l.Query(ctx, audit.Filter{EventType: audit.EventSecurity, Action: audit.ActionIntegrityViolation})
	if page.Total != 1 {
		t.Fatalf("expected one violation entry, got %d", page.Total)
	}
}

func TestAuditRetention(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	clock := secure.NewManualClock(time.Unix(1767225600, 0))
	l := newAuditLog(t, s, clock)

	_, _ = l.Append(ctx, audit.Record{EventType: audit.EventDataAccess, Action: audit.ActionAuditQueried, Success: true})
	_, _ = l.Append(ctx, audit.Record{EventType: audit.EventAuthentication, Action: audit.ActionLogin, Success: true})
	clock.Advance(100 * 24 * time.Hour)

	dry := audit.DefaultRetention()
	dry.DryRun = true
	report, err := l.CleanupExpired(ctx, dry)
	if err != nil || report.Total != 1 || report.Deleted[audit.EventDataAccess] != 1 {
		t.Fatalf("dry run: %+v %v", report, err)
	}
	if page, _ := l.Query(ctx, audit.Filter{}); page.Total != 2 {
		t.Fatalf("dry run must not delete, total %d", page.Total)
	}

	report, err = l.CleanupExpired(ctx, audit.DefaultRetention())
	if err != nil || report.Total != 1 {
		t.Fatalf("cleanup: %+v %v", report, err)
	}
	page, _ := l.Query(ctx, audit.Filter{})
	if page.Total != 1 || page.Entries[0].EventType != audit.EventAuthentication {
		t.Fatalf("unexpected survivors %+v", page)
	}
}
