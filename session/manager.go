package session

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/MrEthical07/authguard/internal/secure"
)

var (
	// ErrSessionInvalid is the only validation failure callers observe.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrUserInactive is returned by Create for disabled accounts.
	ErrUserInactive = errors.New("user inactive")
)

// AccountChecker reports whether a user may hold sessions.
type AccountChecker interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

// Config tunes the Manager.
type Config struct {
	// RefreshThreshold is the fraction of lifetime remaining at or below
	// which Validate extends a session.
	RefreshThreshold float64
	// SweepGrace is how long past expiry a record is kept before SweepExpired
	// removes it.
	SweepGrace time.Duration
	// SweepBatch bounds ids examined per SweepExpired round trip.
	SweepBatch int64
}

// DefaultConfig refreshes at 25% remaining and sweeps after an hour of grace.
func DefaultConfig() Config {
	return Config{
		RefreshThreshold: 0.25,
		SweepGrace:       time.Hour,
		SweepBatch:       256,
	}
}

// Manager implements the session lifecycle on top of a Store.
type Manager struct {
	store    *Store
	accounts AccountChecker
	config   Config
	clock    secure.Clock
	rand     io.Reader
}

// NewManager wires a Manager. accounts may be nil, in which case every user
// is considered active.
func NewManager(store *Store, accounts AccountChecker, cfg Config, clock secure.Clock, rnd io.Reader) *Manager {
	if cfg.RefreshThreshold <= 0 || cfg.RefreshThreshold >= 1 {
		cfg.RefreshThreshold = 0.25
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 256
	}
	return &Manager{
		store:    store,
		accounts: accounts,
		config:   cfg,
		clock:    secure.ClockOrSystem(clock),
		rand:     secure.ReaderOrDefault(rnd),
	}
}

// Create issues a session for userID.
func (m *Manager) Create(ctx context.Context, userID string, lifetime time.Duration, ip, userAgent string) (*Issued, error) {
	if userID == "" || lifetime <= 0 {
		return nil, errors.New("session: user id and positive lifetime required")
	}
	if m.accounts != nil {
		active, err := m.accounts.IsActive(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, ErrUserInactive
		}
	}

	id, secretHash, token, err := secure.NewCompoundToken(m.rand)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UnixMilli()
	sess := &Session{
		ID:         id,
		UserID:     userID,
		SecretHash: secretHash,
		CreatedAt:  now,
		ExpiresAt:  now + lifetime.Milliseconds(),
		Lifetime:   lifetime.Milliseconds(),
		Active:     true,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
	if err := m.store.Save(ctx, sess, now); err != nil {
		return nil, err
	}
	return &Issued{Token: token, Session: sess.context()}, nil
}

// Validate resolves token to a session context. Unknown, revoked, expired
// and forged tokens all return ErrSessionInvalid. Only ErrRedisUnavailable is
// reported distinctly.
//
//	Performance: 1 GET; a refresh adds WATCH + GET + MULTI.
func (m *Manager) Validate(ctx context.Context, token string) (*Context, error) {
	id, secretHash, err := secure.SplitCompoundToken(token)
	if err != nil {
		return nil, ErrSessionInvalid
	}

	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, m.mapLookupErr(err)
	}

	now := m.clock.Now().UnixMilli()
	if !usable(sess, secretHash, now) {
		return nil, ErrSessionInvalid
	}
	if !m.needsRefresh(sess, now) {
		c := sess.context()
		return &c, nil
	}

	refreshed := false
	updated, err := m.store.Update(ctx, id, now, func(cur *Session) (bool, error) {
		// Re-check under WATCH: a revoke committed since the GET wins.
		if !usable(cur, secretHash, now) {
			return false, ErrSessionInvalid
		}
		if !m.needsRefresh(cur, now) {
			return false, nil
		}
		cur.ExpiresAt += cur.Lifetime
		refreshed = true
		return true, nil
	})
	if err != nil {
		return nil, m.mapLookupErr(err)
	}

	c := updated.context()
	c.Refreshed = refreshed
	return &c, nil
}

// Revoke deactivates the session named by token. Unknown or malformed
// tokens are ignored.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	id, secretHash, err := secure.SplitCompoundToken(token)
	if err != nil {
		return nil
	}
	now := m.clock.Now().UnixMilli()
	_, err = m.store.Update(ctx, id, now, func(cur *Session) (bool, error) {
		if !secure.Equal(cur.SecretHash[:], secretHash[:]) {
			return false, errNotFound
		}
		if !cur.Active {
			return false, nil
		}
		cur.Active = false
		return true, nil
	})
	return ignoreMissing(err)
}

// RevokeByID deactivates a session by id. It is idempotent.
func (m *Manager) RevokeByID(ctx context.Context, id string) error {
	_, err := m.revokeID(ctx, id)
	return ignoreMissing(err)
}

// Lookup returns the context of an active session by id without validating a
// token. Callers use it to check ownership before RevokeByID.
func (m *Manager) Lookup(ctx context.Context, id string) (*Context, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, m.mapLookupErr(err)
	}
	if !sess.Active || m.clock.Now().UnixMilli() >= sess.ExpiresAt {
		return nil, ErrSessionInvalid
	}
	c := sess.context()
	return &c, nil
}

func (m *Manager) revokeID(ctx context.Context, id string) (bool, error) {
	revoked := false
	_, err := m.store.Update(ctx, id, m.clock.Now().UnixMilli(), func(cur *Session) (bool, error) {
		if !cur.Active {
			return false, nil
		}
		cur.Active = false
		revoked = true
		return true, nil
	})
	return revoked, err
}

// RevokeAll deactivates every session of userID except the one carried by
// exceptToken (which may be empty). It returns how many were revoked.
func (m *Manager) RevokeAll(ctx context.Context, userID, exceptToken string) (int, error) {
	exceptID := ""
	if exceptToken != "" {
		if id, _, err := secure.SplitCompoundToken(exceptToken); err == nil {
			exceptID = id
		}
	}

	ids, err := m.store.UserSessionIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	var missing []string
	for _, id := range ids {
		if id == exceptID {
			continue
		}
		revoked, err := m.revokeID(ctx, id)
		if errors.Is(err, errNotFound) || errors.Is(err, ErrCorruptRecord) {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return count, err
		}
		if revoked {
			count++
		}
	}
	if err := m.store.Unindex(ctx, userID, missing...); err != nil {
		return count, err
	}
	return count, nil
}

// List returns userID's active, unexpired sessions, oldest first. Stale
// index members are pruned as a side effect.
func (m *Manager) List(ctx context.Context, userID string) ([]Context, error) {
	sessions, err := m.activeSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Context, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.context())
	}
	return out, nil
}

// EnforceConcurrencyLimit revokes the oldest sessions of userID until at
// most max remain. keepID, usually the session just issued, is never chosen
// even when it ties with older ones on creation time. It returns the number
// evicted.
func (m *Manager) EnforceConcurrencyLimit(ctx context.Context, userID string, max int, keepID string) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	sessions, err := m.activeSessions(ctx, userID)
	if err != nil {
		return 0, err
	}

	excess := len(sessions) - max
	candidates := make([]*Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.ID != keepID {
			candidates = append(candidates, sess)
		}
	}

	evicted := 0
	for i := 0; i < excess && i < len(candidates); i++ {
		revoked, err := m.revokeID(ctx, candidates[i].ID)
		if err != nil && !errors.Is(err, errNotFound) {
			return evicted, err
		}
		if revoked {
			evicted++
		}
	}
	return evicted, nil
}

// SweepExpired permanently removes sessions whose expiry passed more than
// the grace window ago. Each delete re-checks expiry under WATCH so a
// concurrent refresh is never undone. Safe to run on several instances.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	cutoff := m.clock.Now().Add(-m.config.SweepGrace).UnixMilli()
	total := 0
	seen := make(map[string]struct{})

	for {
		members, err := m.store.ExpiredMembers(ctx, cutoff, m.config.SweepBatch)
		if err != nil {
			return total, err
		}

		progressed := false
		for _, member := range members {
			if _, ok := seen[member]; ok {
				continue
			}
			seen[member] = struct{}{}
			progressed = true

			deleted, err := m.store.DeleteIfExpired(ctx, member, cutoff)
			if err != nil {
				return total, err
			}
			if deleted {
				total++
			}
		}
		if !progressed || int64(len(members)) < m.config.SweepBatch {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (m *Manager) activeSessions(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := m.store.UserSessionIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	sessions, missing, err := m.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now().UnixMilli()
	active := sessions[:0]
	for _, sess := range sessions {
		if sess.Active && now < sess.ExpiresAt {
			active = append(active, sess)
		}
	}
	if err := m.store.Unindex(ctx, userID, missing...); err != nil {
		return nil, err
	}
	return active, nil
}

func (m *Manager) needsRefresh(sess *Session, nowMs int64) bool {
	remaining := sess.ExpiresAt - nowMs
	return float64(remaining) <= float64(sess.Lifetime)*m.config.RefreshThreshold
}

func (m *Manager) mapLookupErr(err error) error {
	if errors.Is(err, ErrRedisUnavailable) {
		return err
	}
	return ErrSessionInvalid
}

func usable(sess *Session, secretHash [32]byte, nowMs int64) bool {
	match := secure.Equal(sess.SecretHash[:], secretHash[:])
	return match && sess.Active && nowMs < sess.ExpiresAt
}

func ignoreMissing(err error) error {
	if err == nil || errors.Is(err, errNotFound) || errors.Is(err, ErrCorruptRecord) {
		return nil
	}
	return err
}
