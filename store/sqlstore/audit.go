package sqlstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/MrEthical07/authguard/audit"
)

var _ audit.Repository = (*Store)(nil)

const auditColumns = `id, user_id, event_type, action, success, severity, ip_address, user_agent,
	session_id, request_id, resource, event_data, checksum, created_at`

// InsertAuditEntry appends e. Rows are never updated afterwards.
func (s *Store) InsertAuditEntry(ctx context.Context, e *audit.Entry) error {
	data := e.EventData
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO audit_log (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, string(e.EventType), string(e.Action), boolInt(e.Success), string(e.Severity),
		e.IPAddress, e.UserAgent, e.SessionID, e.RequestID, e.Resource, string(raw), e.Checksum, millis(e.CreatedAt))
	return err
}

func auditWhere(f audit.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.EventType != "" {
		add("event_type = ?", string(f.EventType))
	}
	if f.Action != "" {
		add("action = ?", string(f.Action))
	}
	if f.Success != nil {
		add("success = ?", boolInt(*f.Success))
	}
	if f.Severity != "" {
		add("severity = ?", string(f.Severity))
	}
	if f.IPAddress != "" {
		add("ip_address = ?", f.IPAddress)
	}
	if !f.From.IsZero() {
		add("created_at >= ?", millis(f.From))
	}
	if !f.To.IsZero() {
		add("created_at <= ?", millis(f.To))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueryAuditEntries returns one page, newest first, and the filtered total.
func (s *Store) QueryAuditEntries(ctx context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	where, args := auditWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM audit_log`+where), args...).Scan(&total); err != nil {
		return nil, 0, unavailable(err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	pageArgs := append(append([]any(nil), args...), f.Limit, f.Offset)
	entries, err := s.queryEntries(ctx, `SELECT `+auditColumns+` FROM audit_log`+where+
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// ScanAuditEntries walks the log in (created_at, id) order.
func (s *Store) ScanAuditEntries(ctx context.Context, after audit.Cursor, limit int) ([]audit.Entry, error) {
	if after.CreatedAt.IsZero() && after.ID == "" {
		return s.queryEntries(ctx, `SELECT `+auditColumns+` FROM audit_log ORDER BY created_at, id LIMIT ?`, limit)
	}
	ms := millis(after.CreatedAt)
	return s.queryEntries(ctx, `SELECT `+auditColumns+` FROM audit_log
		WHERE created_at > ? OR (created_at = ? AND id > ?)
		ORDER BY created_at, id LIMIT ?`, ms, ms, after.ID, limit)
}

// DeleteAuditEntriesBefore removes, or counts when dryRun, entries of
// eventType older than cutoff.
func (s *Store) DeleteAuditEntriesBefore(ctx context.Context, eventType audit.EventType, cutoff time.Time, dryRun bool) (int, error) {
	if dryRun {
		var n int
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM audit_log WHERE event_type = ? AND created_at < ?`),
			string(eventType), millis(cutoff)).Scan(&n)
		if err != nil {
			return 0, unavailable(err)
		}
		return n, nil
	}
	res, err := s.exec(ctx, s.db, `DELETE FROM audit_log WHERE event_type = ? AND created_at < ?`, string(eventType), millis(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e                                    audit.Entry
			eventType, action, severity, rawData string
			success                              int
			created                              int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &eventType, &action, &success, &severity, &e.IPAddress, &e.UserAgent,
			&e.SessionID, &e.RequestID, &e.Resource, &rawData, &e.Checksum, &created); err != nil {
			return nil, unavailable(err)
		}
		e.EventType = audit.EventType(eventType)
		e.Action = audit.Action(action)
		e.Severity = audit.Severity(severity)
		e.Success = success != 0
		e.CreatedAt = fromMillis(created)
		e.EventData = map[string]any{}
		if rawData != "" {
			// A row whose data no longer parses keeps an empty map; its
			// checksum will not verify.
			_ = json.Unmarshal([]byte(rawData), &e.EventData)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}
