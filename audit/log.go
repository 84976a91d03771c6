package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/authguard/internal/secure"
)

const (
	// DefaultQueryLimit applies when Filter.Limit is zero.
	DefaultQueryLimit = 50
	// MaxQueryLimit caps Filter.Limit.
	MaxQueryLimit = 500
)

var (
	// ErrActionNotAllowed marks an EventType/Action pair outside the closed
	// mapping. It is a programming error.
	ErrActionNotAllowed = errors.New("audit action not allowed for event type")
	// ErrIntegrityViolation is returned when a stored entry fails its
	// checksum.
	ErrIntegrityViolation = errors.New("audit integrity violation")
	// ErrInvalidFilter is returned for malformed query filters.
	ErrInvalidFilter = errors.New("invalid audit filter")
)

// Options configure a Log.
type Options struct {
	Clock  secure.Clock
	Rand   io.Reader
	Logger *slog.Logger
	// Sink receives a copy of each appended entry. Usually a *Dispatcher so
	// slow consumers never hold up Append.
	Sink Sink
}

// Log appends and reads checksum-protected entries.
type Log struct {
	repo     Repository
	checksum *Checksummer
	clock    secure.Clock
	rand     io.Reader
	logger   *slog.Logger
	sink     Sink
}

// NewLog builds a Log writing to repo with entries MACed under key.
func NewLog(repo Repository, key []byte, opts Options) (*Log, error) {
	if repo == nil {
		return nil, errors.New("audit: repository is required")
	}
	if len(key) < 32 {
		return nil, errors.New("audit: checksum key must be at least 32 bytes")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		repo:     repo,
		checksum: NewChecksummer(key),
		clock:    secure.ClockOrSystem(opts.Clock),
		rand:     secure.ReaderOrDefault(opts.Rand),
		logger:   logger,
		sink:     opts.Sink,
	}, nil
}

// Append validates r, stamps it and persists it. The entry is durable when
// Append returns nil.
func (l *Log) Append(ctx context.Context, r Record) (*Entry, error) {
	if !Allowed(r.EventType, r.Action) {
		l.logger.Error("audit: action not allowed for event type",
			"event_type", string(r.EventType),
			"action", string(r.Action),
		)
		return nil, fmt.Errorf("%w: %s/%s", ErrActionNotAllowed, r.EventType, r.Action)
	}
	if r.Severity == "" {
		r.Severity = SeverityInfo
	}
	if !r.Severity.valid() {
		return nil, fmt.Errorf("audit: unknown severity %q", r.Severity)
	}

	r.sanitize()
	data, err := normalizeData(r.EventData)
	if err != nil {
		return nil, fmt.Errorf("audit: event data: %w", err)
	}
	id, err := uuid.NewRandomFromReader(l.rand)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		ID:        id.String(),
		UserID:    r.UserID,
		EventType: r.EventType,
		Action:    r.Action,
		Success:   r.Success,
		Severity:  r.Severity,
		IPAddress: r.IPAddress,
		UserAgent: r.UserAgent,
		SessionID: r.SessionID,
		RequestID: r.RequestID,
		Resource:  r.Resource,
		EventData: data,
		CreatedAt: l.clock.Now().UTC().Truncate(time.Millisecond),
	}
	if e.Checksum, err = l.checksum.Sum(e); err != nil {
		return nil, err
	}

	if err := l.repo.InsertAuditEntry(ctx, e); err != nil {
		return nil, err
	}
	if l.sink != nil {
		l.sink.Emit(ctx, *e)
	}
	return e, nil
}

// VerifyIntegrity reports whether e still matches its checksum.
func (l *Log) VerifyIntegrity(e *Entry) bool {
	if e == nil {
		return false
	}
	return l.checksum.Verify(e)
}

// Query returns a page of entries matching f, newest first.
func (l *Log) Query(ctx context.Context, f Filter) (Page, error) {
	if f.Offset < 0 || f.Limit < 0 {
		return Page{}, ErrInvalidFilter
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return Page{}, ErrInvalidFilter
	}
	if f.Severity != "" && !f.Severity.valid() {
		return Page{}, ErrInvalidFilter
	}
	if f.Limit == 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}

	entries, total, err := l.repo.QueryAuditEntries(ctx, f)
	if err != nil {
		return Page{}, err
	}
	return Page{Entries: entries, Total: total, Offset: f.Offset, Limit: f.Limit}, nil
}
