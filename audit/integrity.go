package audit

import (
	"context"
	"fmt"
)

const defaultScanPage = 200

// IntegrityChecker walks the whole log verifying checksums.
type IntegrityChecker struct {
	log      *Log
	pageSize int
}

// NewIntegrityChecker returns a checker reading pageSize entries per query.
func NewIntegrityChecker(l *Log, pageSize int) *IntegrityChecker {
	if pageSize <= 0 {
		pageSize = defaultScanPage
	}
	return &IntegrityChecker{log: l, pageSize: pageSize}
}

// IntegrityReport summarizes a completed run.
type IntegrityReport struct {
	Checked int
	// Violation is set when the run halted on a bad entry.
	Violation *Entry
}

// Run verifies every entry in order. The first mismatch is logged at
// CRITICAL, recorded as a SECURITY/INTEGRITY_VIOLATION entry, and halts the
// run with ErrIntegrityViolation.
func (c *IntegrityChecker) Run(ctx context.Context) (IntegrityReport, error) {
	var (
		report IntegrityReport
		cursor Cursor
	)

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		page, err := c.log.repo.ScanAuditEntries(ctx, cursor, c.pageSize)
		if err != nil {
			return report, err
		}

		for i := range page {
			e := page[i]
			if !c.log.VerifyIntegrity(&e) {
				report.Violation = &e
				c.alert(ctx, &e)
				return report, fmt.Errorf("%w: entry %s", ErrIntegrityViolation, e.ID)
			}
			report.Checked++
		}

		if len(page) < c.pageSize {
			return report, nil
		}
		last := page[len(page)-1]
		cursor = Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

func (c *IntegrityChecker) alert(ctx context.Context, bad *Entry) {
	c.log.logger.Log(ctx, LevelCritical, "audit: integrity violation",
		"entry_id", bad.ID,
		"event_type", string(bad.EventType),
		"created_at", bad.CreatedAt,
	)

	_, err := c.log.Append(ctx, Record{
		EventType: EventSecurity,
		Action:    ActionIntegrityViolation,
		Success:   false,
		Severity:  SeverityCritical,
		Resource:  "audit_log",
		EventData: map[string]any{"entryId": bad.ID},
	})
	if err != nil {
		c.log.logger.Log(ctx, LevelCritical, "audit: failed to record integrity violation", "error", err)
	}
}
