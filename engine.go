package authguard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MrEthical07/authguard/audit"
	"github.com/MrEthical07/authguard/credential"
	"github.com/MrEthical07/authguard/internal/challenge"
	"github.com/MrEthical07/authguard/internal/rate"
	"github.com/MrEthical07/authguard/internal/secure"
	"github.com/MrEthical07/authguard/notify"
	"github.com/MrEthical07/authguard/oauth"
	"github.com/MrEthical07/authguard/session"
	"github.com/MrEthical07/authguard/twofactor"
)

// ErrEngineNotReady is returned by maintenance entry points on a nil or
// closed Engine.
var ErrEngineNotReady = errors.New("engine not ready")

// Engine orchestrates every authentication flow. It is safe for concurrent
// use; build it with New().....Build().
type Engine struct {
	config   Config
	logger   *slog.Logger
	clock    secure.Clock
	rand     io.Reader
	validate *validator.Validate

	store       Store
	sessions    *session.Manager
	credentials *credential.Manager
	twoFactor   *twofactor.Manager
	challenges  *challenge.Issuer
	limiter     *rate.Limiter
	policies    policies
	auditLog    *audit.Log
	dispatcher  *audit.Dispatcher
	oauth       *oauth.Manager
	notifier    notify.Notifier
	metrics     *Metrics
	janitor     *audit.Janitor

	notifyWG  sync.WaitGroup
	closeOnce sync.Once
}

// policies are the rate.Policy values derived from RateLimitConfig.
type policies struct {
	loginIdentity rate.Policy
	loginIP       rate.Policy
	register      rate.Policy
	resetAccount  rate.Policy
	resetIP       rate.Policy
	twoFactor     rate.Policy
	verifyEmail   rate.Policy
}

func newPolicies(c RateLimitConfig) policies {
	p := func(name string, rp RatePolicy) rate.Policy {
		return rate.Policy{Name: name, Max: rp.Max, Window: rp.Window}
	}
	return policies{
		loginIdentity: p("login_id", c.LoginIdentity),
		loginIP:       p("login_ip", c.LoginIP),
		register:      p("register_ip", c.Register),
		resetAccount:  p("reset_id", c.ResetAccount),
		resetIP:       p("reset_ip", c.ResetIP),
		twoFactor:     p("2fa_user", c.TwoFactor),
		verifyEmail:   p("verify_ip", c.VerifyEmail),
	}
}

// Close stops background maintenance, waits for in-flight notifications and
// drains the audit stream.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		if e.janitor != nil {
			e.janitor.Stop()
		}
		e.notifyWG.Wait()
		if e.dispatcher != nil {
			e.dispatcher.Close()
		}
	})
}

// AuditDropped counts streamed audit copies dropped under backpressure.
// Persisted entries are never dropped.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// record appends one audit entry, filling request metadata from ctx. A
// failed append is logged and counted; it does not undo the state change
// being recorded.
func (e *Engine) record(ctx context.Context, r audit.Record) {
	if r.IPAddress == "" {
		r.IPAddress = clientIPFromContext(ctx)
	}
	if r.UserAgent == "" {
		r.UserAgent = userAgentFromContext(ctx)
	}
	if r.RequestID == "" {
		r.RequestID = requestIDFromContext(ctx)
	}
	if r.Severity == "" {
		r.Severity = audit.SeverityInfo
		if !r.Success {
			r.Severity = audit.SeverityWarn
		}
	}
	if _, err := e.auditLog.Append(ctx, r); err != nil {
		e.metricInc(MetricAuditAppendFailure)
		e.logger.Error("authguard: audit append failed",
			"event_type", string(r.EventType),
			"action", string(r.Action),
			"user_id", r.UserID,
			"error", err,
		)
	}
}

// failedRecord builds the common shape of an unsuccessful audit entry.
func failedRecord(et audit.EventType, action audit.Action, userID string, f *Failure) audit.Record {
	return audit.Record{
		UserID:    userID,
		EventType: et,
		Action:    action,
		Success:   false,
		EventData: map[string]any{"error": auditErrorCode(f)},
	}
}

// unexpected logs err and maps it to a Failure. Expected domain errors are
// passed through without logging at ERROR.
func (e *Engine) unexpected(op string, err error) *Failure {
	f := failureFromError(err)
	if f.Kind == KindStorageUnavailable {
		e.metricInc(MetricStorageUnavailable)
		e.logger.Error("authguard: operation failed", "op", op, "error", err)
	}
	return f
}

// gate applies policy p to subject. It returns nil when the request may
// proceed.
func (e *Engine) gate(ctx context.Context, p rate.Policy, subject string) *Failure {
	d, err := e.limiter.CheckPolicy(ctx, p, subject)
	if err != nil {
		return e.unexpected("rate."+p.Name, err)
	}
	if d.Allowed {
		return nil
	}
	e.metricInc(MetricRateLimitHit)
	e.logger.Warn("authguard: rate limited", "policy", p.Name, "retry_after", d.WaitTime)
	return rateLimited(d.WaitTime)
}

// denyRateLimited records the SECURITY/RATE_LIMITED entry for a denied
// request.
func (e *Engine) denyRateLimited(ctx context.Context, userID, policy string, f *Failure) {
	e.record(ctx, audit.Record{
		UserID:    userID,
		EventType: audit.EventSecurity,
		Action:    audit.ActionRateLimited,
		Success:   false,
		Severity:  audit.SeverityWarn,
		Resource:  policy,
		EventData: map[string]any{"retryAfterMs": f.RetryAfter.Milliseconds()},
	})
}

// penalize counts a failure against every subject. Redis errors are logged
// and swallowed so the caller still sees the original failure.
func (e *Engine) penalize(ctx context.Context, p rate.Policy, subjects ...string) {
	for _, s := range subjects {
		if s == "" {
			continue
		}
		if _, err := e.limiter.Penalize(ctx, p, s); err != nil {
			e.logger.Warn("authguard: penalty not recorded", "policy", p.Name, "error", err)
		}
	}
}

func (e *Engine) forgive(ctx context.Context, p rate.Policy, subject string) {
	if err := e.limiter.Forgive(ctx, p, subject); err != nil {
		e.logger.Warn("authguard: failure streak not cleared", "policy", p.Name, "error", err)
	}
}

// check runs struct validation on a request.
func (e *Engine) check(req any) *Failure {
	if err := e.validate.Struct(req); err != nil {
		return newFailure(KindInvalidRequest)
	}
	return nil
}

// send delivers a notification in the background, bounded by
// Notify.Timeout. Failures are logged and never reach the caller.
func (e *Engine) send(kind string, fn func(ctx context.Context, n notify.Notifier) error) {
	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.config.Notify.Timeout)
		defer cancel()
		if err := fn(ctx, e.notifier); err != nil {
			e.metricInc(MetricNotifyFailure)
			e.logger.Warn("authguard: notification failed", "kind", kind, "error", err)
		}
	}()
}

func (e *Engine) sessionLifetime(rememberMe bool) time.Duration {
	if rememberMe {
		return e.config.Session.RememberMeLifetime
	}
	return e.config.Session.Lifetime
}
