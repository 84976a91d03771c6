package authguard

import (
	"context"
	"errors"

	"github.com/MrEthical07/authguard/account"
	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/internal/challenge"
	"github.com/MrEthical07/authguard/session"
	"github.com/MrEthical07/authguard/twofactor"
)

// Login verifies email and password. Users with two-factor enabled get a
// pending token instead of a session and must call CompleteTwoFactor.
//
// Unknown emails and wrong passwords are indistinguishable in both the
// result and the time taken.
func (e *Engine) Login(ctx context.Context, req LoginRequest) Result[LoginOutcome] {
	if f := e.check(req); f != nil {
		return fail[LoginOutcome](newFailure(KindInvalidCredentials))
	}
	email := account.NormalizeEmail(req.Email)
	ip := rateSubjectIP(ctx)

	if f := e.gate(ctx, e.policies.loginIP, ip); f != nil {
		return e.loginDenied(ctx, "", e.policies.loginIP.Name, f)
	}
	if f := e.gate(ctx, e.policies.loginIdentity, email); f != nil {
		return e.loginDenied(ctx, "", e.policies.loginIdentity.Name, f)
	}

	user, err := e.store.GetUserByEmail(ctx, email)
	if errors.Is(err, account.ErrUserNotFound) {
		e.credentials.VerifyUnknown(req.Password)
		return e.loginFailed(ctx, "", email, newFailure(KindInvalidCredentials))
	}
	if err != nil {
		return e.loginFailed(ctx, "", "", e.unexpected("login.lookup", err))
	}

	match, err := e.credentials.VerifyPassword(ctx, user.ID, req.Password)
	if err != nil {
		return e.loginFailed(ctx, user.ID, "", e.unexpected("login.verify", err))
	}
	if !match {
		return e.loginFailed(ctx, user.ID, email, newFailure(KindInvalidCredentials))
	}

	// The password was right; later checks may reveal account state.
	if !user.Active() {
		f := newFailure(KindAccountInactive)
		e.metricInc(MetricLoginFailure)
		e.record(ctx, failedRecord(audit.EventAccount, audit.ActionAccountDisabled, user.ID, f))
		return fail[LoginOutcome](f)
	}
	if e.config.Credential.RequireVerifiedEmail && !user.EmailVerified {
		return e.loginFailed(ctx, user.ID, "", newFailure(KindEmailNotVerified))
	}

	e.forgive(ctx, e.policies.loginIdentity, email)
	return e.afterPrimaryFactor(ctx, user.ID, req.RememberMe, audit.ActionLogin, map[string]any{"method": "password"})
}

func (e *Engine) loginDenied(ctx context.Context, userID, policy string, f *Failure) Result[LoginOutcome] {
	if f.Kind == KindRateLimited {
		e.metricInc(MetricLoginRateLimited)
		e.denyRateLimited(ctx, userID, policy, f)
		return fail[LoginOutcome](f)
	}
	return e.loginFailed(ctx, userID, "", f)
}

// loginFailed records LOGIN_FAILED. A non-empty penalizeEmail charges the
// failure to both the identity and the client IP.
func (e *Engine) loginFailed(ctx context.Context, userID, penalizeEmail string, f *Failure) Result[LoginOutcome] {
	if penalizeEmail != "" {
		e.penalize(ctx, e.policies.loginIdentity, penalizeEmail)
		e.penalize(ctx, e.policies.loginIP, rateSubjectIP(ctx))
	}
	e.metricInc(MetricLoginFailure)
	e.record(ctx, failedRecord(audit.EventAuthentication, audit.ActionLoginFailed, userID, f))
	return fail[LoginOutcome](f)
}

// afterPrimaryFactor either pauses for a second factor or issues the
// session. action is LOGIN or OAUTH_LOGIN.
func (e *Engine) afterPrimaryFactor(ctx context.Context, userID string, rememberMe bool, action audit.Action, data map[string]any) Result[LoginOutcome] {
	status, err := e.twoFactor.Status(ctx, userID)
	if err != nil {
		return e.loginFailed(ctx, userID, "", e.unexpected("login.2fa_status", err))
	}

	if status == twofactor.StatusEnabled {
		token, pending, err := e.challenges.Issue(ctx, userID)
		if err != nil {
			return e.loginFailed(ctx, userID, "", e.unexpected("login.challenge", err))
		}
		e.metricInc(MetricTwoFactorRequired)
		data["via"] = string(action)
		e.record(ctx, audit.Record{
			UserID:    userID,
			EventType: audit.EventAuthentication,
			Action:    audit.ActionTwoFactorRequired,
			Success:   true,
			EventData: data,
		})
		return ok(LoginOutcome{
			State:            StatePendingTwoFactor,
			UserID:           userID,
			PendingToken:     token,
			PendingExpiresAt: pending.ExpiresAt,
		})
	}

	issued, evicted, f := e.establish(ctx, userID, rememberMe)
	if f != nil {
		return e.loginFailed(ctx, userID, "", f)
	}
	e.metricInc(MetricLoginSuccess)
	data["evicted"] = evicted
	e.record(ctx, audit.Record{
		UserID:    userID,
		EventType: audit.EventAuthentication,
		Action:    action,
		Success:   true,
		SessionID: issued.Session.SessionID,
		EventData: data,
	})
	return ok(LoginOutcome{State: StateAuthenticated, UserID: userID, Session: issued})
}

// establish creates a session and applies the concurrency limit. It
// reports how many older sessions were evicted.
func (e *Engine) establish(ctx context.Context, userID string, rememberMe bool) (*session.Issued, int, *Failure) {
	issued, err := e.sessions.Create(ctx, userID, e.sessionLifetime(rememberMe),
		clientIPFromContext(ctx), userAgentFromContext(ctx))
	if err != nil {
		return nil, 0, e.unexpected("session.create", err)
	}
	e.metricInc(MetricSessionCreated)

	evicted := 0
	if max := e.config.Session.MaxConcurrent; max > 0 {
		n, err := e.sessions.EnforceConcurrencyLimit(ctx, userID, max, issued.Session.SessionID)
		if err != nil {
			e.logger.Warn("authguard: concurrency limit not enforced", "user_id", userID, "error", err)
		}
		for i := 0; i < n; i++ {
			e.metricInc(MetricSessionEvicted)
		}
		evicted = n
	}
	return issued, evicted, nil
}

// CompleteTwoFactor redeems a pending token with a TOTP or backup code.
// Each wrong code burns one of the challenge's attempts; the last one
// deletes it.
func (e *Engine) CompleteTwoFactor(ctx context.Context, req CompleteTwoFactorRequest) Result[LoginOutcome] {
	if f := e.check(req); f != nil {
		return fail[LoginOutcome](f)
	}

	pending, err := e.challenges.Verify(ctx, req.PendingToken)
	if err != nil {
		f := e.unexpected("2fa.challenge", err)
		if f.Kind == KindInvalidOrExpiredToken {
			e.metricInc(MetricTwoFactorFailure)
			rec := failedRecord(audit.EventSecurity, audit.ActionTokenRejected, "", f)
			rec.Resource = "pending_two_factor"
			e.record(ctx, rec)
		}
		return fail[LoginOutcome](f)
	}
	userID := pending.UserID

	if f := e.gate(ctx, e.policies.twoFactor, userID); f != nil {
		return e.loginDenied(ctx, userID, e.policies.twoFactor.Name, f)
	}

	method, err := e.twoFactor.VerifyCode(ctx, userID, req.Code)
	if err != nil {
		f := e.unexpected("2fa.verify", err)
		if f.Kind == KindInvalidTwoFactorCode {
			e.metricInc(MetricTwoFactorFailure)
			e.penalize(ctx, e.policies.twoFactor, userID)
			ferr := e.challenges.Fail(ctx, pending)
			switch {
			case errors.Is(ferr, challenge.ErrExhausted), errors.Is(ferr, challenge.ErrInvalid):
				e.metricInc(MetricTwoFactorChallengeExhausted)
				f = newFailure(KindInvalidOrExpiredToken)
			case ferr != nil:
				e.logger.Warn("authguard: challenge attempt not recorded", "user_id", userID, "error", ferr)
			}
		}
		e.record(ctx, failedRecord(audit.EventTwoFactor, audit.ActionTwoFactorFailed, userID, f))
		return fail[LoginOutcome](f)
	}

	// A concurrent request may have consumed the challenge first.
	if err := e.challenges.Consume(ctx, pending); err != nil {
		f := e.unexpected("2fa.consume", err)
		e.record(ctx, failedRecord(audit.EventTwoFactor, audit.ActionTwoFactorFailed, userID, f))
		return fail[LoginOutcome](f)
	}
	e.forgive(ctx, e.policies.twoFactor, userID)

	issued, evicted, f := e.establish(ctx, userID, req.RememberMe)
	if f != nil {
		return e.loginFailed(ctx, userID, "", f)
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.metricInc(MetricLoginSuccess)
	if method == twofactor.MethodBackupCode {
		e.metricInc(MetricBackupCodeUsed)
	}
	e.record(ctx, audit.Record{
		UserID:    userID,
		EventType: audit.EventAuthentication,
		Action:    audit.ActionLogin,
		Success:   true,
		SessionID: issued.Session.SessionID,
		EventData: map[string]any{
			"secondFactor": string(method),
			"evicted":      evicted,
		},
	})
	return ok(LoginOutcome{State: StateAuthenticated, UserID: userID, Session: issued})
}
