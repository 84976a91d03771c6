package authguard

import (
	"testing"
	"time"

	"github.com/xlzd/gotp"

	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/twofactor"
)

func (te *testEngine) totp(secret string) string {
	return gotp.NewDefaultTOTP(secret).At(te.clock.Now().Unix())
}

// enableTwoFactor enrolls the session's owner and moves the clock to the
// next TOTP step so the confirmation code cannot be replayed by accident.
func (te *testEngine) enableTwoFactor(t *testing.T, token string) TwoFactorSetup {
	t.Helper()
	setup := te.SetupTwoFactor(reqCtx(), token)
	if !setup.OK() {
		t.Fatalf("setup: %v", setup.Err())
	}
	if r := te.ConfirmTwoFactor(reqCtx(), token, te.totp(setup.Value.Secret)); !r.OK() {
		t.Fatalf("confirm: %v", r.Err())
	}
	te.clock.Advance(30 * time.Second)
	return setup.Value
}

func (te *testEngine) beginTwoFactorLogin(t *testing.T, email string) LoginOutcome {
	t.Helper()
	res := te.Login(reqCtx(), LoginRequest{Email: email, Password: goodPass})
	if !res.OK() {
		t.Fatalf("login: %v", res.Err())
	}
	if res.Value.State != StatePendingTwoFactor || res.Value.PendingToken == "" || res.Value.Session != nil {
		t.Fatalf("expected pending two-factor, got %+v", res.Value)
	}
	return res.Value
}

func TestTwoFactorEnrollment(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "alice@example.com")
	s := te.login(t, "alice@example.com")

	setup := te.SetupTwoFactor(reqCtx(), s.Token)
	if !setup.OK() {
		t.Fatalf("setup: %v", setup.Err())
	}
	if setup.Value.Secret == "" || len(setup.Value.BackupCodes) != 10 || setup.Value.ProvisioningURI == "" {
		t.Fatalf("unexpected setup %+v", setup.Value)
	}

	st := te.TwoFactorStatus(reqCtx(), s.Token)
	if !st.OK() || st.Value.Status != twofactor.StatusPending {
		t.Fatalf("expected pending, got %+v", st)
	}

	// Pending enrollment does not gate login.
	te.login(t, "alice@example.com")

	wantKind(t, te.ConfirmTwoFactor(reqCtx(), s.Token, "000000"), KindInvalidTwoFactorCode)
	te.clock.Advance(time.Second)
	if r := te.ConfirmTwoFactor(reqCtx(), s.Token, te.totp(setup.Value.Secret)); !r.OK() {
		t.Fatalf("confirm: %v", r.Err())
	}

	st = te.TwoFactorStatus(reqCtx(), s.Token)
	if !st.OK() || st.Value.Status != twofactor.StatusEnabled || st.Value.RemainingBackupCodes != 10 {
		t.Fatalf("expected enabled with 10 codes, got %+v", st)
	}
	wantKind(t, te.SetupTwoFactor(reqCtx(), s.Token), KindConflict)

	e := te.lastEntry(t, audit.EventTwoFactor, audit.ActionTwoFactorEnabled)
	if !e.Success || e.SessionID != s.Session.SessionID {
		t.Fatalf("unexpected ENABLED entry %+v", e)
	}
}

func TestTwoFactorLogin(t *testing.T) {
	te := newTestEngine(t, nil)
	uid := te.register(t, "alice@example.com")
	s := te.login(t, "alice@example.com")
	setup := te.enableTwoFactor(t, s.Token)

	pending := te.beginTwoFactorLogin(t, "alice@example.com")
	if pending.UserID != uid || !pending.PendingExpiresAt.After(te.clock.Now()) {
		t.Fatalf("unexpected pending outcome %+v", pending)
	}

	wantKind(t, te.CompleteTwoFactor(reqCtx(), CompleteTwoFactorRequest{PendingToken: pending.PendingToken, Code: "123456"}), KindInvalidTwoFactorCode)

	res := te.CompleteTwoFactor(reqCtx(), CompleteTwoFactorRequest{
		PendingToken: pending.PendingToken,
		Code:         te.totp(setup.Secret),
	})
	if !res.OK() || res.Value.State != StateAuthenticated || res.Value.Session == nil {
		t.Fatalf("complete: %+v", res)
	}
	if r := te.VerifySession(reqCtx(), res.Value.Session.Token); !r.OK() {
		t.Fatalf("issued session rejected: %v", r.Err())
	}

	// The pending token is single use.
	te.clock.Advance(30 * time.Second)
	wantKind(t, te.CompleteTwoFactor(reqCtx(), CompleteTwoFactorRequest{
		PendingToken: pending.PendingToken,
		Code:         te.totp(setup.Secret),
	}), KindInvalidOrExpiredToken)

	e := te.lastEntry(t, audit.EventAuthentication, audit.ActionLogin)
	if e.EventData["secondFactor"] != string(twofactor.MethodTOTP) {
		t.Fatalf("unexpected LOGIN entry %+v", e)
	}
	if te.lastEntry(t, audit.EventAuthentication, audit.ActionTwoFactorRequired).UserID != uid {
		t.Fatal("TWO_FACTOR_REQUIRED entry missing user")
	}
}

func TestTwoFactorCodeReplayRejected(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "alice@example.com")
	s := te.login(t, "alice@example.com")
	setup := te.enableTwoFactor(t, s.Token)
	code := te.totp(setup.Secret)

	first := te.beginTwoFactorLogin(t, "alice@example.com")
	if r := te.CompleteTwoFactor(reqCtx(), CompleteTwoFactorRequest{PendingToken: first.PendingToken, Code: code}); !r.OK() {
		t.Fatalf("first use: %v", r.Err())
	}

	second := te.beginTwoFactorLogin(t, "alice@example.com")
	wantKind(t, te.CompleteTwoFactor(reqCtx(), CompleteTwoFactorRequest{PendingToken: second.PendingToken, Code: code}), KindInvalidTwoFactorCode)
}

func TestTwoFactorChallengeAttemptsExhausted(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Challenge.MaxAttempts = 2 })
	te.register(t, "alice@example.com")
	s := te.login(t, "alice@example.com")
	setup := te.enableTwoFactor(t, s.Token)

	pending := te.beginTwoFactorLogin(t, "alice@example.com")
	req := CompleteTwoFactorRequest{PendingToken: pending.PendingToken, Code: "000000"}

	wantKind(t, te.CompleteTwoFactor(reqCtx(), req), KindInvalidTwoFactorCode)
	wantKind(t, te.CompleteTwoFactor(reqCtx(), req), KindInvalidOrExpiredToken)

	req.Code = te.totp(setup.Secret)
	wantKind(t, te.CompleteTwoFactor(reqCtx(), req), KindInvalidOrExpiredToken)
	if te.MetricsSnapshot().Counters[MetricTwoFactorChallengeExhausted] != 1 {
		t.Fatal("exhaustion not counted")
	}
}

func TestTwoFactorPendingTokenExpires(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "alice@example.com")
	s := te.login(t, "alice@example.com")
	setup := te.enableTwoFactor(t, s.Token)

	pending := te.beginTwoFactorLogin(t, "alice@example.com")
	te.clock.Advance(11 * time.Minute)
	te.mr.FastForward(11 * time.Minute)

	wantKind(t, te.CompleteTwoFactor(reqCtx(), CompleteTwoFactorRequest{
		PendingToken: pending.PendingToken,
		Code:         te.totp(setup.Secret),
	}), KindInvalidOrExpiredToken)

	e := te.lastEntry(t, audit.EventSecurity, audit.ActionTokenRejected)
	if e.Resource != "pending_two_factor" {
		t.Fatalf("unexpected TOKEN_REJECTED entry %+v", e)
	}
}

func TestTwoFactorBackupCodeSingleUse(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "alice@example.com")
	s := te.login(t, "alice@example.com")
	setup := te.enableTwoFactor(t, s.Token)
	backup := setup.BackupCodes[3]

	pending := te.beginTwoFactorLogin(t, "alice@example.com")
	res := te.CompleteTwoFactor(reqCtx(), CompleteTwoFactorRequest{PendingToken: pending.PendingToken, Code: backup})
	if !res.OK() {
		t.Fatalf("backup code login: %v", res.Err())
	}
	if te.MetricsSnapshot().Counters[MetricBackupCodeUsed] != 1 {
		t.Fatal("backup code use not counted")
	}

	pending = te.beginTwoFactorLogin(t, "alice@example.com")
	wantKind(t, te.CompleteTwoFactor(reqCtx(), CompleteTwoFactorRequest{PendingToken: pending.PendingToken, Code: backup}), KindInvalidTwoFactorCode)

	st := te.TwoFactorStatus(reqCtx(), s.Token)
	if !st.OK() || st.Value.RemainingBackupCodes != 9 {
		t.Fatalf("expected 9 remaining codes, got %+v", st)
	}
}

func TestTwoFactorRateLimitedPerUser(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.RateLimit.TwoFactor = RatePolicy{Max: 2, Window: 5 * time.Minute}
	})
	te.register(t, "alice@example.com")
	s := te.login(t, "alice@example.com")
	setup := te.enableTwoFactor(t, s.Token)
	// Let the window that counted the confirmation roll over.
	te.clock.Advance(6 * time.Minute)

	pending := te.beginTwoFactorLogin(t, "alice@example.com")
	req := CompleteTwoFactorRequest{PendingToken: pending.PendingToken, Code: "000000"}
	wantKind(t, te.CompleteTwoFactor(reqCtx(), req), KindInvalidTwoFactorCode)
	wantKind(t, te.CompleteTwoFactor(reqCtx(), req), KindInvalidTwoFactorCode)

	req.Code = te.totp(setup.Secret)
	wantKind(t, te.CompleteTwoFactor(reqCtx(), req), KindRateLimited)
}

func TestDisableTwoFactor(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.RateLimit.TwoFactor.Max = 20 })
	te.register(t, "alice@example.com")
	s := te.login(t, "alice@example.com")
	setup := te.enableTwoFactor(t, s.Token)

	wantKind(t, te.DisableTwoFactor(reqCtx(), DisableTwoFactorRequest{
		SessionToken: s.Token, Password: "wrong password", Code: te.totp(setup.Secret),
	}), KindInvalidCredentials)
	wantKind(t, te.DisableTwoFactor(reqCtx(), DisableTwoFactorRequest{
		SessionToken: s.Token, Password: goodPass,
	}), KindTwoFactorRequired)
	wantKind(t, te.DisableTwoFactor(reqCtx(), DisableTwoFactorRequest{
		SessionToken: s.Token, Password: goodPass, Code: "000000",
	}), KindInvalidTwoFactorCode)

	if r := te.DisableTwoFactor(reqCtx(), DisableTwoFactorRequest{
		SessionToken: s.Token, Password: goodPass, Code: te.totp(setup.Secret),
	}); !r.OK() {
		t.Fatalf("disable: %v", r.Err())
	}

	st := te.TwoFactorStatus(reqCtx(), s.Token)
	if !st.OK() || st.Value.Status != twofactor.StatusUnenrolled {
		t.Fatalf("expected unenrolled, got %+v", st)
	}
	te.login(t, "alice@example.com")

	te.clock.Advance(time.Second)
	wantKind(t, te.DisableTwoFactor(reqCtx(), DisableTwoFactorRequest{
		SessionToken: s.Token, Password: goodPass,
	}), KindConflict)

	e := te.lastEntry(t, audit.EventTwoFactor, audit.ActionTwoFactorDisabled)
	if e.Success {
		t.Fatal("latest DISABLED entry should be the rejected retry")
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	te := newTestEngine(t, nil)
	te.register(t, "alice@example.com")
	s := te.login(t, "alice@example.com")
	setup := te.enableTwoFactor(t, s.Token)

	wantKind(t, te.RegenerateBackupCodes(reqCtx(), s.Token, ""), KindTwoFactorRequired)

	res := te.RegenerateBackupCodes(reqCtx(), s.Token, setup.BackupCodes[0])
	if !res.OK() || len(res.Value) != 10 {
		t.Fatalf("regenerate: %+v", res)
	}

	pending := te.beginTwoFactorLogin(t, "alice@example.com")
	wantKind(t, te.CompleteTwoFactor(reqCtx(), CompleteTwoFactorRequest{
		PendingToken: pending.PendingToken, Code: setup.BackupCodes[1],
	}), KindInvalidTwoFactorCode)
	if r := te.CompleteTwoFactor(reqCtx(), CompleteTwoFactorRequest{
		PendingToken: pending.PendingToken, Code: res.Value[0],
	}); !r.OK() {
		t.Fatalf("new backup code rejected: %v", r.Err())
	}
}
