package authguard

import (
	"context"

	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/twofactor"
)

// TwoFactorState summarizes a user's enrollment.
type TwoFactorState struct {
	Status               twofactor.Status
	RemainingBackupCodes int
}

// SetupTwoFactor starts (or restarts) enrollment for the session's owner.
// The secret and backup codes in the result are never retrievable again.
func (e *Engine) SetupTwoFactor(ctx context.Context, sessionToken string) Result[TwoFactorSetup] {
	sc, f := e.authenticate(ctx, sessionToken)
	if f != nil {
		return fail[TwoFactorSetup](f)
	}
	user, err := e.store.GetUserByID(ctx, sc.UserID)
	if err != nil {
		return fail[TwoFactorSetup](e.unexpected("2fa.setup", err))
	}

	enrollment, err := e.twoFactor.BeginEnrollment(ctx, sc.UserID, user.Email)
	if err != nil {
		f := e.unexpected("2fa.setup", err)
		e.record(ctx, failedRecord(audit.EventTwoFactor, audit.ActionTwoFactorSetup, sc.UserID, f))
		return fail[TwoFactorSetup](f)
	}
	e.record(ctx, audit.Record{
		UserID:    sc.UserID,
		EventType: audit.EventTwoFactor,
		Action:    audit.ActionTwoFactorSetup,
		Success:   true,
		SessionID: sc.SessionID,
	})
	return ok(TwoFactorSetup{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		BackupCodes:     enrollment.BackupCodes,
	})
}

// ConfirmTwoFactor enables a pending enrollment once the user proves the
// authenticator works.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, sessionToken, code string) Result[struct{}] {
	sc, f := e.authenticate(ctx, sessionToken)
	if f != nil {
		return fail[struct{}](f)
	}
	if f := e.gate(ctx, e.policies.twoFactor, sc.UserID); f != nil {
		if f.Kind == KindRateLimited {
			e.denyRateLimited(ctx, sc.UserID, e.policies.twoFactor.Name, f)
		}
		return fail[struct{}](f)
	}

	if err := e.twoFactor.ConfirmEnrollment(ctx, sc.UserID, code); err != nil {
		f := e.unexpected("2fa.confirm", err)
		if f.Kind == KindInvalidTwoFactorCode {
			e.metricInc(MetricTwoFactorFailure)
			e.penalize(ctx, e.policies.twoFactor, sc.UserID)
		}
		e.record(ctx, failedRecord(audit.EventTwoFactor, audit.ActionTwoFactorEnabled, sc.UserID, f))
		return fail[struct{}](f)
	}

	e.forgive(ctx, e.policies.twoFactor, sc.UserID)
	e.metricInc(MetricTwoFactorEnabled)
	e.record(ctx, audit.Record{
		UserID:    sc.UserID,
		EventType: audit.EventTwoFactor,
		Action:    audit.ActionTwoFactorEnabled,
		Success:   true,
		SessionID: sc.SessionID,
	})
	return ok(struct{}{})
}

// DisableTwoFactor removes the enrollment and every backup code. It needs
// the password and, for an enabled enrollment, a current code.
func (e *Engine) DisableTwoFactor(ctx context.Context, req DisableTwoFactorRequest) Result[struct{}] {
	if f := e.check(req); f != nil {
		return fail[struct{}](f)
	}
	sc, f := e.authenticate(ctx, req.SessionToken)
	if f != nil {
		return fail[struct{}](f)
	}
	if f := e.gate(ctx, e.policies.twoFactor, sc.UserID); f != nil {
		if f.Kind == KindRateLimited {
			e.denyRateLimited(ctx, sc.UserID, e.policies.twoFactor.Name, f)
		}
		return fail[struct{}](f)
	}

	failed := func(f *Failure) Result[struct{}] {
		e.record(ctx, failedRecord(audit.EventTwoFactor, audit.ActionTwoFactorDisabled, sc.UserID, f))
		return fail[struct{}](f)
	}

	match, err := e.credentials.VerifyPassword(ctx, sc.UserID, req.Password)
	if err != nil {
		return failed(e.unexpected("2fa.disable", err))
	}
	if !match {
		e.penalize(ctx, e.policies.twoFactor, sc.UserID)
		return failed(newFailure(KindInvalidCredentials))
	}

	status, err := e.twoFactor.Status(ctx, sc.UserID)
	if err != nil {
		return failed(e.unexpected("2fa.disable", err))
	}
	switch status {
	case twofactor.StatusUnenrolled:
		return failed(newFailure(KindConflict))
	case twofactor.StatusEnabled:
		if req.Code == "" {
			return failed(newFailure(KindTwoFactorRequired))
		}
		if _, err := e.twoFactor.VerifyCode(ctx, sc.UserID, req.Code); err != nil {
			f := e.unexpected("2fa.disable", err)
			if f.Kind == KindInvalidTwoFactorCode {
				e.metricInc(MetricTwoFactorFailure)
				e.penalize(ctx, e.policies.twoFactor, sc.UserID)
			}
			return failed(f)
		}
	}

	if err := e.twoFactor.Disable(ctx, sc.UserID); err != nil {
		return failed(e.unexpected("2fa.disable", err))
	}
	e.forgive(ctx, e.policies.twoFactor, sc.UserID)
	e.metricInc(MetricTwoFactorDisabled)
	e.record(ctx, audit.Record{
		UserID:    sc.UserID,
		EventType: audit.EventTwoFactor,
		Action:    audit.ActionTwoFactorDisabled,
		Success:   true,
		Severity:  audit.SeverityWarn,
		SessionID: sc.SessionID,
	})
	return ok(struct{}{})
}

// RegenerateBackupCodes replaces every backup code after checking a
// current TOTP or backup code. Old codes stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, sessionToken, code string) Result[[]string] {
	sc, f := e.authenticate(ctx, sessionToken)
	if f != nil {
		return fail[[]string](f)
	}
	if code == "" {
		return fail[[]string](newFailure(KindTwoFactorRequired))
	}
	if f := e.gate(ctx, e.policies.twoFactor, sc.UserID); f != nil {
		if f.Kind == KindRateLimited {
			e.denyRateLimited(ctx, sc.UserID, e.policies.twoFactor.Name, f)
		}
		return fail[[]string](f)
	}

	failed := func(f *Failure) Result[[]string] {
		e.record(ctx, failedRecord(audit.EventTwoFactor, audit.ActionBackupCodesRotated, sc.UserID, f))
		return fail[[]string](f)
	}
	if _, err := e.twoFactor.VerifyCode(ctx, sc.UserID, code); err != nil {
		f := e.unexpected("2fa.regenerate", err)
		if f.Kind == KindInvalidTwoFactorCode {
			e.metricInc(MetricTwoFactorFailure)
			e.penalize(ctx, e.policies.twoFactor, sc.UserID)
		}
		return failed(f)
	}
	codes, err := e.twoFactor.RegenerateBackupCodes(ctx, sc.UserID)
	if err != nil {
		return failed(e.unexpected("2fa.regenerate", err))
	}

	e.forgive(ctx, e.policies.twoFactor, sc.UserID)
	e.metricInc(MetricBackupCodeRegenerated)
	e.record(ctx, audit.Record{
		UserID:    sc.UserID,
		EventType: audit.EventTwoFactor,
		Action:    audit.ActionBackupCodesRotated,
		Success:   true,
		SessionID: sc.SessionID,
		EventData: map[string]any{"count": len(codes)},
	})
	return ok(codes)
}

// TwoFactorStatus reports enrollment state and unused backup codes.
func (e *Engine) TwoFactorStatus(ctx context.Context, sessionToken string) Result[TwoFactorState] {
	sc, f := e.authenticate(ctx, sessionToken)
	if f != nil {
		return fail[TwoFactorState](f)
	}
	status, err := e.twoFactor.Status(ctx, sc.UserID)
	if err != nil {
		return fail[TwoFactorState](e.unexpected("2fa.status", err))
	}
	state := TwoFactorState{Status: status}
	if status == twofactor.StatusEnabled {
		if state.RemainingBackupCodes, err = e.twoFactor.RemainingBackupCodes(ctx, sc.UserID); err != nil {
			return fail[TwoFactorState](e.unexpected("2fa.status", err))
		}
	}
	return ok(state)
}
