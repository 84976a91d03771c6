package session

import "time"

// Session is the persisted session record. Times are unix milliseconds.
type Session struct {
	ID         string
	UserID     string
	SecretHash [32]byte
	CreatedAt  int64
	ExpiresAt  int64
	// Lifetime is the original duration in ms; refresh extends by this much.
	Lifetime  int64
	Active    bool
	IPAddress string
	UserAgent string
}

// Context is the caller-facing view of a valid session.
type Context struct {
	SessionID string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	IPAddress string
	UserAgent string
	// Refreshed is true when this validation extended ExpiresAt.
	Refreshed bool
}

// Issued is returned by Create. Token is shown to the client once and never
// stored.
type Issued struct {
	Token   string
	Session Context
}

func (s *Session) context() Context {
	return Context{
		SessionID: s.ID,
		UserID:    s.UserID,
		CreatedAt: time.UnixMilli(s.CreatedAt),
		ExpiresAt: time.UnixMilli(s.ExpiresAt),
		IPAddress: s.IPAddress,
		UserAgent: s.UserAgent,
	}
}
