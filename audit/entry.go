package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// errInvalidUTF8 marks an entry whose strings JSON would silently rewrite.
var errInvalidUTF8 = errors.New("audit: entry contains invalid UTF-8")

// Entry is one immutable audit record.
type Entry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	EventType EventType      `json:"eventType"`
	Action    Action         `json:"action"`
	Success   bool           `json:"success"`
	Severity  Severity       `json:"severity"`
	IPAddress string         `json:"ipAddress,omitempty"`
	UserAgent string         `json:"userAgent,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	EventData map[string]any `json:"eventData,omitempty"`
	Checksum  string         `json:"checksum"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Record is the caller-supplied part of an entry. ID, Checksum and
// CreatedAt are assigned by Append.
type Record struct {
	UserID    string
	EventType EventType
	Action    Action
	Success   bool
	Severity  Severity
	IPAddress string
	UserAgent string
	SessionID string
	RequestID string
	Resource  string
	EventData map[string]any
}

// Checksummer computes entry MACs with a fixed key.
type Checksummer struct {
	key []byte
}

// NewChecksummer copies key.
func NewChecksummer(key []byte) *Checksummer {
	return &Checksummer{key: append([]byte(nil), key...)}
}

// Sum returns hex(HMAC-SHA256(key, canonical(e))).
func (c *Checksummer) Sum(e *Entry) (string, error) {
	payload, err := canonicalize(e)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, c.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the checksum of e and compares it in constant time.
func (c *Checksummer) Verify(e *Entry) bool {
	want, err := c.Sum(e)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(e.Checksum)
	if err != nil {
		return false
	}
	wantRaw, _ := hex.DecodeString(want)
	return hmac.Equal(got, wantRaw)
}

// canonicalize serializes every checksum-covered field. encoding/json sorts
// map keys, nested ones included, so the output is stable. Invalid UTF-8 is
// refused: encoding/json maps every bad byte to U+FFFD, which would let two
// different stored values share one checksum.
func canonicalize(e *Entry) ([]byte, error) {
	data := e.EventData
	if data == nil {
		data = map[string]any{}
	}
	for _, s := range []string{
		e.ID, e.UserID, string(e.EventType), string(e.Action), string(e.Severity),
		e.IPAddress, e.UserAgent, e.SessionID, e.RequestID, e.Resource,
	} {
		if !utf8.ValidString(s) {
			return nil, errInvalidUTF8
		}
	}
	if !validData(data) {
		return nil, errInvalidUTF8
	}
	fields := map[string]any{
		"id":        e.ID,
		"userId":    e.UserID,
		"eventType": string(e.EventType),
		"action":    string(e.Action),
		"success":   e.Success,
		"severity":  string(e.Severity),
		"ipAddress": e.IPAddress,
		"userAgent": e.UserAgent,
		"sessionId": e.SessionID,
		"requestId": e.RequestID,
		"resource":  e.Resource,
		"eventData": data,
		"createdAt": e.CreatedAt.UnixMilli(),
	}
	return json.Marshal(fields)
}

// normalizeData round-trips event data through JSON so the in-memory value
// equals what storage will hand back later.
func normalizeData(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func validData(v any) bool {
	switch t := v.(type) {
	case string:
		return utf8.ValidString(t)
	case map[string]any:
		for k, x := range t {
			if !utf8.ValidString(k) || !validData(x) {
				return false
			}
		}
	case []any:
		for _, x := range t {
			if !validData(x) {
				return false
			}
		}
	}
	return true
}

// sanitize replaces invalid UTF-8 in the caller's strings so the stored
// entry is byte-for-byte what gets MACed.
func (r *Record) sanitize() {
	for _, s := range []*string{
		&r.UserID, &r.IPAddress, &r.UserAgent, &r.SessionID, &r.RequestID, &r.Resource,
	} {
		*s = strings.ToValidUTF8(*s, "\uFFFD")
	}
}
