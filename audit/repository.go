package audit

import (
	"context"
	"time"
)

// Filter selects entries for Query. Zero fields do not constrain.
type Filter struct {
	UserID    string
	EventType EventType
	Action    Action
	Success   *bool
	Severity  Severity
	IPAddress string
	From      time.Time
	To        time.Time
	Offset    int
	Limit     int
}

// Page is one slice of a Query result, newest first.
type Page struct {
	Entries []Entry
	Total   int
	Offset  int
	Limit   int
}

// Cursor positions a scan in (CreatedAt, ID) order.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Repository persists entries. Implementations never update a row.
type Repository interface {
	InsertAuditEntry(ctx context.Context, e *Entry) error
	QueryAuditEntries(ctx context.Context, f Filter) ([]Entry, int, error)
	// ScanAuditEntries returns up to limit entries strictly after cursor in
	// ascending (CreatedAt, ID) order. A zero cursor starts at the beginning.
	ScanAuditEntries(ctx context.Context, after Cursor, limit int) ([]Entry, error)
	// DeleteAuditEntriesBefore removes (or with dryRun only counts) entries
	// of eventType created strictly before cutoff.
	DeleteAuditEntriesBefore(ctx context.Context, eventType EventType, cutoff time.Time, dryRun bool) (int, error)
}
