package authguard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authguard/account"
	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/credential"
	"github.com/MrEthical07/authguard/notify"
)

// RequestPasswordReset emails a reset token when email belongs to an
// active account. The result is the same whether or not it does.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) Result[struct{}] {
	email = account.NormalizeEmail(email)
	if email == "" {
		return fail[struct{}](newFailure(KindInvalidRequest))
	}
	if f := e.gate(ctx, e.policies.resetIP, rateSubjectIP(ctx)); f != nil {
		return e.resetDenied(ctx, e.policies.resetIP.Name, f)
	}
	if f := e.gate(ctx, e.policies.resetAccount, email); f != nil {
		return e.resetDenied(ctx, e.policies.resetAccount.Name, f)
	}
	e.metricInc(MetricPasswordResetRequest)

	user, err := e.store.GetUserByEmail(ctx, email)
	if errors.Is(err, account.ErrUserNotFound) || (err == nil && !user.Active()) {
		userID := ""
		if user != nil {
			userID = user.ID
		}
		e.record(ctx, audit.Record{
			UserID:    userID,
			EventType: audit.EventPassword,
			Action:    audit.ActionResetRequested,
			Success:   false,
			EventData: map[string]any{"error": "no_eligible_account"},
		})
		return ok(struct{}{})
	}
	if err != nil {
		f := e.unexpected("reset.lookup", err)
		e.record(ctx, failedRecord(audit.EventPassword, audit.ActionResetRequested, "", f))
		return fail[struct{}](f)
	}

	token, expiresAt, err := e.credentials.IssueResetToken(ctx, user.ID)
	if err != nil {
		f := e.unexpected("reset.issue", err)
		e.record(ctx, failedRecord(audit.EventPassword, audit.ActionResetRequested, user.ID, f))
		return fail[struct{}](f)
	}
	to := user.Email
	e.send("password_reset", func(ctx context.Context, n notify.Notifier) error {
		return n.SendPasswordResetEmail(ctx, to, token, expiresAt)
	})

	e.record(ctx, audit.Record{
		UserID:    user.ID,
		EventType: audit.EventPassword,
		Action:    audit.ActionResetRequested,
		Success:   true,
		EventData: map[string]any{"expiresAt": expiresAt.UTC().Format(time.RFC3339)},
	})
	return ok(struct{}{})
}

func (e *Engine) resetDenied(ctx context.Context, policy string, f *Failure) Result[struct{}] {
	if f.Kind == KindRateLimited {
		e.denyRateLimited(ctx, "", policy, f)
	}
	return fail[struct{}](f)
}

// ResetPassword sets a new password using an emailed token and revokes
// every session of the account. A weak password leaves the token usable.
func (e *Engine) ResetPassword(ctx context.Context, req ResetPasswordRequest) Result[struct{}] {
	if f := e.check(req); f != nil {
		return fail[struct{}](f)
	}
	ip := rateSubjectIP(ctx)
	if f := e.gate(ctx, e.policies.resetIP, ip); f != nil {
		return e.resetDenied(ctx, e.policies.resetIP.Name, f)
	}

	userID, err := e.credentials.ConsumeResetToken(ctx, req.Token, req.NewPassword)
	if err != nil && userID == "" {
		f := e.unexpected("reset.consume", err)
		if f.Kind == KindInvalidOrExpiredToken {
			e.metricInc(MetricPasswordResetFailure)
			e.penalize(ctx, e.policies.resetIP, ip)
		}
		e.record(ctx, failedRecord(audit.EventPassword, audit.ActionPasswordReset, "", f))
		return fail[struct{}](f)
	}
	if err != nil {
		// The password changed but some sessions may have survived.
		e.logger.Error("authguard: sessions not revoked after reset", "user_id", userID, "error", err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.record(ctx, audit.Record{
		UserID:    userID,
		EventType: audit.EventPassword,
		Action:    audit.ActionPasswordReset,
		Success:   true,
		Severity:  audit.SeverityWarn,
	})
	e.confirmPasswordChange(ctx, userID)
	return ok(struct{}{})
}

// ChangePassword replaces the password after re-checking the current one.
// The session making the request survives; every other one is revoked.
func (e *Engine) ChangePassword(ctx context.Context, req ChangePasswordRequest) Result[struct{}] {
	if f := e.check(req); f != nil {
		return fail[struct{}](f)
	}
	sc, f := e.authenticate(ctx, req.SessionToken)
	if f != nil {
		return fail[struct{}](f)
	}
	if f := e.gate(ctx, e.policies.loginIdentity, sc.UserID); f != nil {
		if f.Kind == KindRateLimited {
			e.denyRateLimited(ctx, sc.UserID, e.policies.loginIdentity.Name, f)
		}
		return fail[struct{}](f)
	}

	match, err := e.credentials.VerifyPassword(ctx, sc.UserID, req.CurrentPassword)
	if err != nil {
		f := e.unexpected("change_password.verify", err)
		e.record(ctx, failedRecord(audit.EventPassword, audit.ActionPasswordChanged, sc.UserID, f))
		return fail[struct{}](f)
	}
	if !match {
		f := newFailure(KindInvalidCredentials)
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.penalize(ctx, e.policies.loginIdentity, sc.UserID)
		e.record(ctx, failedRecord(audit.EventPassword, audit.ActionPasswordChanged, sc.UserID, f))
		return fail[struct{}](f)
	}

	err = e.credentials.SetPassword(ctx, sc.UserID, req.NewPassword, credential.SetOptions{KeepSessionToken: req.SessionToken})
	if err != nil && !errors.Is(err, credential.ErrSessionRevocation) {
		f := e.unexpected("change_password.set", err)
		e.record(ctx, failedRecord(audit.EventPassword, audit.ActionPasswordChanged, sc.UserID, f))
		return fail[struct{}](f)
	}
	if err != nil {
		e.logger.Error("authguard: sessions not revoked after password change", "user_id", sc.UserID, "error", err)
	}

	e.forgive(ctx, e.policies.loginIdentity, sc.UserID)
	e.metricInc(MetricPasswordChangeSuccess)
	e.record(ctx, audit.Record{
		UserID:    sc.UserID,
		EventType: audit.EventPassword,
		Action:    audit.ActionPasswordChanged,
		Success:   true,
		SessionID: sc.SessionID,
	})
	e.confirmPasswordChange(ctx, sc.UserID)
	return ok(struct{}{})
}

func (e *Engine) confirmPasswordChange(ctx context.Context, userID string) {
	user, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		e.logger.Warn("authguard: password change confirmation skipped", "user_id", userID, "error", err)
		return
	}
	to := user.Email
	e.send("password_changed", func(ctx context.Context, n notify.Notifier) error {
		return n.SendPasswordChangeConfirmation(ctx, to)
	})
}
