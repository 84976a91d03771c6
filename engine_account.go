package authguard

import (
	"context"
	"errors"

	"github.com/MrEthical07/authguard/account"
	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/credential"
	"github.com/MrEthical07/authguard/notify"
)

// Register creates an active, unverified account with a password and
// emails a verification token. It does not sign the user in.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) Result[RegisterOutcome] {
	if f := e.check(req); f != nil {
		return fail[RegisterOutcome](f)
	}
	if f := e.gate(ctx, e.policies.register, rateSubjectIP(ctx)); f != nil {
		if f.Kind == KindRateLimited {
			e.denyRateLimited(ctx, "", e.policies.register.Name, f)
		}
		return fail[RegisterOutcome](f)
	}
	hash, err := e.credentials.HashNew(req.Password)
	if err != nil {
		f := e.unexpected("register.password", err)
		e.record(ctx, failedRecord(audit.EventAccount, audit.ActionRegistered, "", f))
		return fail[RegisterOutcome](f)
	}

	user := &account.User{
		Email:       account.NormalizeEmail(req.Email),
		DisplayName: req.DisplayName,
		Status:      account.StatusActive,
		CreatedAt:   e.clock.Now().UTC(),
	}
	if err := e.store.CreateUserWithPassword(ctx, user, hash); err != nil {
		f := e.unexpected("register.create", err)
		if errors.Is(err, account.ErrEmailTaken) {
			e.metricInc(MetricRegisterConflict)
		}
		e.record(ctx, failedRecord(audit.EventAccount, audit.ActionRegistered, "", f))
		return fail[RegisterOutcome](f)
	}

	token, err := e.credentials.IssueVerificationToken(ctx, user.ID)
	if err != nil {
		// The account exists; the user can ask for a new token later.
		e.logger.Warn("authguard: verification token not issued", "user_id", user.ID, "error", err)
	} else {
		to := user.Email
		e.send("verification", func(ctx context.Context, n notify.Notifier) error {
			return n.SendVerificationEmail(ctx, to, token)
		})
	}

	e.metricInc(MetricRegisterSuccess)
	e.record(ctx, audit.Record{
		UserID:    user.ID,
		EventType: audit.EventAccount,
		Action:    audit.ActionRegistered,
		Success:   true,
		EventData: map[string]any{"method": "password"},
	})
	return ok(RegisterOutcome{UserID: user.ID, VerificationRequired: true})
}

// VerifyEmail redeems a verification token. Tokens are single use.
func (e *Engine) VerifyEmail(ctx context.Context, token string) Result[string] {
	ip := rateSubjectIP(ctx)
	if f := e.gate(ctx, e.policies.verifyEmail, ip); f != nil {
		if f.Kind == KindRateLimited {
			e.denyRateLimited(ctx, "", e.policies.verifyEmail.Name, f)
		}
		return fail[string](f)
	}

	userID, err := e.credentials.ConsumeVerificationToken(ctx, token)
	if err != nil {
		f := e.unexpected("verify_email", err)
		if f.Kind == KindInvalidOrExpiredToken {
			e.metricInc(MetricEmailVerificationFailure)
			e.penalize(ctx, e.policies.verifyEmail, ip)
		}
		e.record(ctx, failedRecord(audit.EventAccount, audit.ActionEmailVerified, "", f))
		return fail[string](f)
	}

	e.metricInc(MetricEmailVerified)
	e.record(ctx, audit.Record{
		UserID:    userID,
		EventType: audit.EventAccount,
		Action:    audit.ActionEmailVerified,
		Success:   true,
	})
	return ok(userID)
}

// ResendVerification issues a fresh verification token for an unverified
// signed-in user. Any earlier token stops working.
func (e *Engine) ResendVerification(ctx context.Context, sessionToken string) Result[struct{}] {
	sc, f := e.authenticate(ctx, sessionToken)
	if f != nil {
		return fail[struct{}](f)
	}
	if f := e.gate(ctx, e.policies.verifyEmail, sc.UserID); f != nil {
		if f.Kind == KindRateLimited {
			e.denyRateLimited(ctx, sc.UserID, e.policies.verifyEmail.Name, f)
		} else {
			e.record(ctx, failedRecord(audit.EventAccount, audit.ActionVerificationSent, sc.UserID, f))
		}
		return fail[struct{}](f)
	}
	user, err := e.store.GetUserByID(ctx, sc.UserID)
	if err != nil {
		return e.resendFailed(ctx, sc.UserID, e.unexpected("resend_verification", err))
	}
	if user.EmailVerified {
		return e.resendFailed(ctx, sc.UserID, newFailure(KindConflict))
	}
	token, err := e.credentials.IssueVerificationToken(ctx, user.ID)
	if err != nil {
		return e.resendFailed(ctx, sc.UserID, e.unexpected("resend_verification", err))
	}
	to := user.Email
	e.send("verification", func(ctx context.Context, n notify.Notifier) error {
		return n.SendVerificationEmail(ctx, to, token)
	})
	e.record(ctx, audit.Record{
		UserID:    user.ID,
		EventType: audit.EventAccount,
		Action:    audit.ActionVerificationSent,
		Success:   true,
		SessionID: sc.SessionID,
	})
	return ok(struct{}{})
}

func (e *Engine) resendFailed(ctx context.Context, userID string, f *Failure) Result[struct{}] {
	e.record(ctx, failedRecord(audit.EventAccount, audit.ActionVerificationSent, userID, f))
	return fail[struct{}](f)
}
