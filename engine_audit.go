package authguard

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authguard/audit"
)

// QueryAuditLog returns a page of entries, newest first. Every returned
// entry is checked against its checksum; one mismatch fails the whole
// query with IntegrityViolation. requestedBy is recorded as the reader.
func (e *Engine) QueryAuditLog(ctx context.Context, requestedBy string, f audit.Filter) Result[audit.Page] {
	page, err := e.auditLog.Query(ctx, f)
	if err != nil {
		return fail[audit.Page](e.unexpected("audit.query", err))
	}

	for i := range page.Entries {
		entry := &page.Entries[i]
		if e.auditLog.VerifyIntegrity(entry) {
			continue
		}
		e.metricInc(MetricIntegrityViolation)
		e.logger.Log(ctx, audit.LevelCritical, "authguard: audit entry failed integrity check",
			"entry_id", entry.ID,
			"requested_by", requestedBy,
		)
		e.record(ctx, audit.Record{
			UserID:    requestedBy,
			EventType: audit.EventSecurity,
			Action:    audit.ActionIntegrityViolation,
			Success:   false,
			Severity:  audit.SeverityCritical,
			Resource:  "audit_log",
			EventData: map[string]any{"entryId": entry.ID},
		})
		return fail[audit.Page](newFailure(KindIntegrityViolation))
	}

	e.record(ctx, audit.Record{
		UserID:    requestedBy,
		EventType: audit.EventDataAccess,
		Action:    audit.ActionAuditQueried,
		Success:   true,
		Resource:  "audit_log",
		EventData: filterSummary(f, len(page.Entries)),
	})
	return ok(page)
}

func filterSummary(f audit.Filter, returned int) map[string]any {
	data := map[string]any{"returned": returned, "offset": f.Offset}
	if f.UserID != "" {
		data["userId"] = f.UserID
	}
	if f.EventType != "" {
		data["eventType"] = string(f.EventType)
	}
	if f.Action != "" {
		data["action"] = string(f.Action)
	}
	if f.Severity != "" {
		data["severity"] = string(f.Severity)
	}
	if !f.From.IsZero() {
		data["from"] = f.From.UTC().Format(time.RFC3339)
	}
	if !f.To.IsZero() {
		data["to"] = f.To.UTC().Format(time.RFC3339)
	}
	return data
}

// CheckAuditIntegrity verifies every stored entry. The first bad entry
// halts the scan, is logged at CRITICAL and is itself recorded.
func (e *Engine) CheckAuditIntegrity(ctx context.Context) Result[audit.IntegrityReport] {
	report, err := audit.NewIntegrityChecker(e.auditLog, e.config.Audit.IntegrityPageSize).Run(ctx)
	if errors.Is(err, audit.ErrIntegrityViolation) {
		e.metricInc(MetricIntegrityViolation)
		f := newFailure(KindIntegrityViolation)
		return Result[audit.IntegrityReport]{Value: report, Failure: f}
	}
	if err != nil {
		return fail[audit.IntegrityReport](e.unexpected("audit.integrity", err))
	}
	return ok(report)
}

// CleanupAuditLog applies the configured retention windows. With dryRun
// nothing is deleted and the report holds what would be.
func (e *Engine) CleanupAuditLog(ctx context.Context, dryRun bool) Result[audit.CleanupReport] {
	policy := e.config.Audit.Retention
	policy.DryRun = dryRun
	report, err := e.auditLog.CleanupExpired(ctx, policy)
	if err != nil {
		return fail[audit.CleanupReport](e.unexpected("audit.cleanup", err))
	}
	return ok(report)
}

func (e *Engine) maintenanceJobs() []audit.Job {
	return []audit.Job{
		{Name: "session_sweep", Run: func(ctx context.Context) error {
			n, err := e.sessions.SweepExpired(ctx)
			if n > 0 {
				e.logger.Info("authguard: expired sessions removed", "count", n)
			}
			return err
		}},
		{Name: "audit_retention", Run: func(ctx context.Context) error {
			return e.CleanupAuditLog(ctx, false).Err()
		}},
		{Name: "audit_integrity", Run: func(ctx context.Context) error {
			return e.CheckAuditIntegrity(ctx).Err()
		}},
	}
}

// StartMaintenance runs the session sweep, audit retention and integrity
// scan every Maintenance.Interval until Close. A zero interval disables it.
func (e *Engine) StartMaintenance(ctx context.Context) {
	if e == nil || e.janitor == nil || e.config.Maintenance.Interval <= 0 {
		return
	}
	e.janitor.Start(ctx)
}

// RunMaintenance runs every maintenance job once and returns the first
// error.
func (e *Engine) RunMaintenance(ctx context.Context) error {
	if e == nil || e.janitor == nil {
		return ErrEngineNotReady
	}
	return e.janitor.RunOnce(ctx)
}
