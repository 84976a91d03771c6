package authguard

import (
	"context"
	"time"

	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/session"
)

// authenticate resolves a session token for the operations that act on
// the signed-in user. Invalid tokens are audited once here.
func (e *Engine) authenticate(ctx context.Context, token string) (*session.Context, *Failure) {
	if token == "" {
		return nil, newFailure(KindSessionInvalid)
	}
	start := time.Now()
	sc, err := e.sessions.Validate(ctx, token)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		f := e.unexpected("session.validate", err)
		if f.Kind == KindSessionInvalid {
			e.metricInc(MetricSessionInvalid)
			e.record(ctx, failedRecord(audit.EventSession, audit.ActionSessionInvalid, "", f))
		}
		return nil, f
	}
	return sc, nil
}

// VerifySession validates token, sliding its expiry forward when less than
// the refresh threshold of its lifetime remains.
func (e *Engine) VerifySession(ctx context.Context, token string) Result[session.Context] {
	sc, f := e.authenticate(ctx, token)
	if f != nil {
		return fail[session.Context](f)
	}
	return ok(*sc)
}

// Logout revokes the session carried by token.
func (e *Engine) Logout(ctx context.Context, token string) Result[struct{}] {
	sc, f := e.authenticate(ctx, token)
	if f != nil {
		return fail[struct{}](f)
	}
	if err := e.sessions.Revoke(ctx, token); err != nil {
		f := e.unexpected("logout", err)
		e.record(ctx, failedRecord(audit.EventAuthentication, audit.ActionLogout, sc.UserID, f))
		return fail[struct{}](f)
	}
	e.metricInc(MetricLogout)
	e.record(ctx, audit.Record{
		UserID:    sc.UserID,
		EventType: audit.EventAuthentication,
		Action:    audit.ActionLogout,
		Success:   true,
		SessionID: sc.SessionID,
	})
	return ok(struct{}{})
}

// LogoutAll revokes every session of the token's owner, the caller's own
// included. It returns how many sessions were revoked.
func (e *Engine) LogoutAll(ctx context.Context, token string) Result[int] {
	sc, f := e.authenticate(ctx, token)
	if f != nil {
		return fail[int](f)
	}
	n, err := e.sessions.RevokeAll(ctx, sc.UserID, "")
	if err != nil {
		f := e.unexpected("logout_all", err)
		e.record(ctx, failedRecord(audit.EventAuthentication, audit.ActionLogoutAll, sc.UserID, f))
		return fail[int](f)
	}
	e.metricInc(MetricLogoutAll)
	e.record(ctx, audit.Record{
		UserID:    sc.UserID,
		EventType: audit.EventAuthentication,
		Action:    audit.ActionLogoutAll,
		Success:   true,
		SessionID: sc.SessionID,
		EventData: map[string]any{"revoked": n},
	})
	return ok(n)
}

// ListSessions returns the active sessions of userID, oldest first. The
// caller must already have authenticated userID.
func (e *Engine) ListSessions(ctx context.Context, userID string) Result[[]session.Context] {
	if userID == "" {
		return fail[[]session.Context](newFailure(KindInvalidRequest))
	}
	list, err := e.sessions.List(ctx, userID)
	if err != nil {
		return fail[[]session.Context](e.unexpected("sessions.list", err))
	}
	e.record(ctx, audit.Record{
		UserID:    userID,
		EventType: audit.EventDataAccess,
		Action:    audit.ActionSessionsRead,
		Success:   true,
		Resource:  "sessions",
		EventData: map[string]any{"count": len(list)},
	})
	return ok(list)
}

// RevokeSession ends one of userID's sessions by id. Ids that are unknown
// or belong to someone else yield SessionInvalid.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) Result[struct{}] {
	if userID == "" || sessionID == "" {
		return fail[struct{}](newFailure(KindInvalidRequest))
	}
	sc, err := e.sessions.Lookup(ctx, sessionID)
	if err == nil && sc.UserID != userID {
		err = session.ErrSessionInvalid
	}
	if err == nil {
		err = e.sessions.RevokeByID(ctx, sessionID)
	}
	if err != nil {
		f := e.unexpected("sessions.revoke", err)
		rec := failedRecord(audit.EventSession, audit.ActionSessionRevoked, userID, f)
		rec.Resource = sessionID
		e.record(ctx, rec)
		return fail[struct{}](f)
	}
	e.metricInc(MetricSessionRevoked)
	e.record(ctx, audit.Record{
		UserID:    userID,
		EventType: audit.EventSession,
		Action:    audit.ActionSessionRevoked,
		Success:   true,
		SessionID: sessionID,
	})
	return ok(struct{}{})
}
