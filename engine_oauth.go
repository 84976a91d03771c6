package authguard

import (
	"context"
	"errors"

	"github.com/MrEthical07/authguard/account"
	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/credential"
	"github.com/MrEthical07/authguard/oauth"
)

// BeginOAuth returns the provider consent URL. With a non-empty
// sessionToken the flow links the provider to that session's user instead
// of signing in.
func (e *Engine) BeginOAuth(ctx context.Context, provider, sessionToken, redirectURL string) Result[OAuthStart] {
	if e.oauth == nil {
		return fail[OAuthStart](newFailure(KindInvalidRequest))
	}
	linkUserID := ""
	if sessionToken != "" {
		sc, f := e.authenticate(ctx, sessionToken)
		if f != nil {
			return fail[OAuthStart](f)
		}
		linkUserID = sc.UserID
	}
	start, err := e.oauth.Begin(ctx, provider, linkUserID, redirectURL)
	if err != nil {
		return fail[OAuthStart](e.unexpected("oauth.begin", err))
	}
	return ok(OAuthStart{URL: start.URL, State: start.State})
}

// CompleteOAuth handles the provider callback.
//
// A state created by a signed-in user links the identity and returns
// StateLinked. Otherwise the linked user signs in. An unlinked identity is
// attached to an existing account only when both sides have verified the
// same email; with no such account a new one is created.
func (e *Engine) CompleteOAuth(ctx context.Context, provider, state, code string) Result[LoginOutcome] {
	if e.oauth == nil {
		return fail[LoginOutcome](newFailure(KindInvalidRequest))
	}
	ip := rateSubjectIP(ctx)
	if f := e.gate(ctx, e.policies.loginIP, ip); f != nil {
		return e.loginDenied(ctx, "", e.policies.loginIP.Name, f)
	}

	c, err := e.oauth.Complete(ctx, provider, state, code)
	if err != nil {
		f := e.unexpected("oauth.complete", err)
		e.metricInc(MetricOAuthFailure)
		if f.Kind == KindInvalidOrExpiredToken {
			e.penalize(ctx, e.policies.loginIP, ip)
		}
		rec := failedRecord(audit.EventAuthentication, audit.ActionOAuthLogin, "", f)
		rec.Resource = provider
		e.record(ctx, rec)
		return fail[LoginOutcome](f)
	}

	if c.LinkUserID != "" {
		return e.linkOAuth(ctx, c)
	}

	user, newUser, f := e.resolveOAuthUser(ctx, c)
	if f != nil {
		e.metricInc(MetricOAuthFailure)
		rec := failedRecord(audit.EventAuthentication, audit.ActionOAuthLogin, "", f)
		rec.Resource = provider
		e.record(ctx, rec)
		return fail[LoginOutcome](f)
	}
	if !user.Active() {
		f := newFailure(KindAccountInactive)
		e.record(ctx, failedRecord(audit.EventAccount, audit.ActionAccountDisabled, user.ID, f))
		return fail[LoginOutcome](f)
	}

	e.metricInc(MetricOAuthLogin)
	res := e.afterPrimaryFactor(ctx, user.ID, false, audit.ActionOAuthLogin, map[string]any{
		"provider": provider,
		"newUser":  newUser,
	})
	res.Value.NewUser = newUser
	return res
}

func (e *Engine) linkOAuth(ctx context.Context, c *oauth.Completion) Result[LoginOutcome] {
	if _, err := e.oauth.Link(ctx, c.LinkUserID, c); err != nil {
		f := e.unexpected("oauth.link", err)
		rec := failedRecord(audit.EventAccount, audit.ActionOAuthLinked, c.LinkUserID, f)
		rec.Resource = c.Provider
		e.record(ctx, rec)
		return fail[LoginOutcome](f)
	}
	e.metricInc(MetricOAuthLinked)
	e.record(ctx, audit.Record{
		UserID:    c.LinkUserID,
		EventType: audit.EventAccount,
		Action:    audit.ActionOAuthLinked,
		Success:   true,
		Resource:  c.Provider,
	})
	return ok(LoginOutcome{State: StateLinked, UserID: c.LinkUserID})
}

// resolveOAuthUser finds or creates the local user for a completed flow.
func (e *Engine) resolveOAuthUser(ctx context.Context, c *oauth.Completion) (*account.User, bool, *Failure) {
	la, err := e.oauth.Lookup(ctx, c.Provider, c.Identity.ProviderUserID)
	if err == nil {
		user, err := e.store.GetUserByID(ctx, la.UserID)
		if err != nil {
			return nil, false, e.unexpected("oauth.user", err)
		}
		// Refresh the stored provider tokens.
		if _, err := e.oauth.Link(ctx, la.UserID, c); err != nil {
			e.logger.Warn("authguard: provider tokens not refreshed", "user_id", la.UserID, "provider", c.Provider, "error", err)
		}
		return user, false, nil
	}
	if !errors.Is(err, oauth.ErrNotLinked) {
		return nil, false, e.unexpected("oauth.lookup", err)
	}

	email := account.NormalizeEmail(c.Identity.Email)
	if email == "" || !c.Identity.EmailVerified {
		return nil, false, newFailure(KindConflict)
	}

	user, err := e.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !user.EmailVerified {
			return nil, false, newFailure(KindConflict)
		}
		if _, err := e.oauth.Link(ctx, user.ID, c); err != nil {
			return nil, false, e.unexpected("oauth.link", err)
		}
		return user, false, nil

	case errors.Is(err, account.ErrUserNotFound):
		user = &account.User{
			Email:         email,
			DisplayName:   c.Identity.Name,
			Status:        account.StatusActive,
			EmailVerified: true,
			CreatedAt:     e.clock.Now().UTC(),
		}
		if err := e.store.CreateUser(ctx, user); err != nil {
			return nil, false, e.unexpected("oauth.create", err)
		}
		if _, err := e.oauth.Link(ctx, user.ID, c); err != nil {
			return nil, false, e.unexpected("oauth.link", err)
		}
		e.metricInc(MetricRegisterSuccess)
		return user, true, nil

	default:
		return nil, false, e.unexpected("oauth.lookup", err)
	}
}

// UnlinkOAuth detaches provider from the session's user. The last sign-in
// method cannot be removed.
func (e *Engine) UnlinkOAuth(ctx context.Context, sessionToken, provider string) Result[struct{}] {
	if e.oauth == nil {
		return fail[struct{}](newFailure(KindInvalidRequest))
	}
	sc, f := e.authenticate(ctx, sessionToken)
	if f != nil {
		return fail[struct{}](f)
	}
	failed := func(f *Failure) Result[struct{}] {
		rec := failedRecord(audit.EventAccount, audit.ActionOAuthUnlinked, sc.UserID, f)
		rec.Resource = provider
		e.record(ctx, rec)
		return fail[struct{}](f)
	}

	linked, err := e.oauth.Linked(ctx, sc.UserID)
	if err != nil {
		return failed(e.unexpected("oauth.unlink", err))
	}
	_, err = e.store.GetPasswordHash(ctx, sc.UserID)
	hasPassword := err == nil
	if err != nil && !errors.Is(err, credential.ErrNoCredential) {
		return failed(e.unexpected("oauth.unlink", err))
	}
	if !hasPassword && len(linked) <= 1 {
		return failed(newFailure(KindConflict))
	}

	if err := e.oauth.Unlink(ctx, sc.UserID, provider); err != nil {
		return failed(e.unexpected("oauth.unlink", err))
	}
	e.record(ctx, audit.Record{
		UserID:    sc.UserID,
		EventType: audit.EventAccount,
		Action:    audit.ActionOAuthUnlinked,
		Success:   true,
		Resource:  provider,
		SessionID: sc.SessionID,
	})
	return ok(struct{}{})
}

// LinkedProviders lists the providers attached to the session's user.
func (e *Engine) LinkedProviders(ctx context.Context, sessionToken string) Result[[]LinkedProvider] {
	sc, f := e.authenticate(ctx, sessionToken)
	if f != nil {
		return fail[[]LinkedProvider](f)
	}
	if e.oauth == nil {
		return ok([]LinkedProvider{})
	}
	linked, err := e.oauth.Linked(ctx, sc.UserID)
	if err != nil {
		return fail[[]LinkedProvider](e.unexpected("oauth.linked", err))
	}
	out := make([]LinkedProvider, 0, len(linked))
	for _, la := range linked {
		out = append(out, LinkedProvider{Provider: la.Provider, Email: la.Email, CreatedAt: la.CreatedAt})
	}
	return ok(out)
}
