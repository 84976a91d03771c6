package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every Redis transport failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// errNotFound is internal; callers of Manager only ever see ErrSessionInvalid.
var errNotFound = errors.New("session not found")

// maxTxRetries bounds optimistic WATCH retries.
const maxTxRetries = 4

// Store is the Redis persistence layer for session records and their two
// indexes: a per-user ZSET scored by creation time and a global ZSET scored
// by expiry whose members are "<id>|<userID>".
type Store struct {
	redis  redis.UniversalClient
	prefix string
	// grace keeps records in Redis past ExpiresAt so sweeps can observe them.
	grace time.Duration
}

// NewStore creates a session [Store]. prefix namespaces every key.
func NewStore(redisClient redis.UniversalClient, prefix string, grace time.Duration) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{redis: redisClient, prefix: prefix, grace: grace}
}

func (s *Store) key(id string) string {
	return s.prefix + ":s:" + id
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *Store) expiryKey() string {
	return s.prefix + ":exp"
}

// expiryMember names a session in the expiry index. It carries the owner so
// a sweep can clean the user index after Redis has already evicted the
// record. Session ids are base64url and never contain '|'.
func expiryMember(sess *Session) string {
	return sess.ID + "|" + sess.UserID
}

func splitExpiryMember(member string) (id, userID string) {
	id, userID, _ = strings.Cut(member, "|")
	return id, userID
}

func (s *Store) recordTTL(sess *Session, nowMs int64) time.Duration {
	ttl := time.Duration(sess.ExpiresAt-nowMs)*time.Millisecond + s.grace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Save persists a new record and indexes it.
//
//	Performance: 1 MULTI (SET + 2 ZADD).
func (s *Store) Save(ctx context.Context, sess *Session, nowMs int64) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), data, s.recordTTL(sess, nowMs))
		pipe.ZAdd(ctx, s.userKey(sess.UserID), redis.Z{Score: float64(sess.CreatedAt), Member: sess.ID})
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(sess.ExpiresAt), Member: expiryMember(sess)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get loads a record by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Decode(data)
}

// GetMany loads records in one pipeline, skipping missing or corrupt blobs.
// The second return lists ids whose record no longer exists.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*Session, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sessions := make([]*Session, 0, len(ids))
	var missing []string
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				missing = append(missing, ids[i])
				continue
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		sess, err := Decode(data)
		if err != nil {
			missing = append(missing, ids[i])
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, missing, nil
}

// Update applies fn to the record under WATCH. fn returns whether it changed
// the record; unchanged records are not rewritten. A record deleted while
// watched yields errNotFound.
//
//	Performance: WATCH + GET + MULTI, retried on conflict.
func (s *Store) Update(ctx context.Context, id string, nowMs int64, fn func(*Session) (bool, error)) (*Session, error) {
	key := s.key(id)
	var result *Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return errNotFound
			}
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		sess, err := Decode(data)
		if err != nil {
			return err
		}

		changed, err := fn(sess)
		if err != nil {
			return callbackError{err}
		}
		result = sess
		if !changed {
			return nil
		}

		encoded, err := Encode(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.recordTTL(sess, nowMs))
			pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(sess.ExpiresAt), Member: expiryMember(sess)})
			if !sess.Active {
				pipe.ZRem(ctx, s.userKey(sess.UserID), sess.ID)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var cbErr callbackError
		if errors.As(err, &cbErr) {
			return nil, cbErr.err
		}
		if errors.Is(err, errNotFound) || errors.Is(err, ErrCorruptRecord) || errors.Is(err, ErrRedisUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil, fmt.Errorf("%w: session update conflict", ErrRedisUnavailable)
}

// UserSessionIDs returns the ids indexed for userID, oldest first.
func (s *Store) UserSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.ZRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// Unindex drops ids from the user index.
func (s *Store) Unindex(ctx context.Context, userID string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.redis.ZRem(ctx, s.userKey(userID), members...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ExpiredMembers returns up to limit expiry-index members whose expiry is at
// or before cutoffMs.
func (s *Store) ExpiredMembers(ctx context.Context, cutoffMs int64, limit int64) ([]string, error) {
	members, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoffMs, 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return members, nil
}

// DeleteIfExpired removes the session named by an expiry-index member only
// if, re-read under WATCH, it still expired before cutoffMs. A refreshed
// session survives. A record Redis already evicted by TTL still counts as
// removed once its index entries are dropped.
func (s *Store) DeleteIfExpired(ctx context.Context, member string, cutoffMs int64) (bool, error) {
	id, userID := splitExpiryMember(member)
	key := s.key(id)
	deleted := false

	txf := func(tx *redis.Tx) error {
		deleted = false
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, s.expiryKey(), member)
				if userID != "" {
					pipe.ZRem(ctx, s.userKey(userID), id)
				}
				return nil
			})
			if err == nil {
				deleted = true
			}
			return err
		}
		if err != nil {
			return err
		}

		sess, decErr := Decode(data)
		if decErr == nil && sess.ExpiresAt > cutoffMs {
			// Refreshed after it was indexed; fix the stale score.
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(sess.ExpiresAt), Member: member})
				return nil
			})
			return err
		}
		if sess != nil {
			userID = sess.UserID
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.ZRem(ctx, s.expiryKey(), member)
			if userID != "" {
				pipe.ZRem(ctx, s.userKey(userID), id)
			}
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			return deleted, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return false, fmt.Errorf("%w: sweep conflict", ErrRedisUnavailable)
}

// Ping checks Redis availability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// callbackError carries an Update callback's error out of the WATCH
// closure without being mistaken for a transport failure.
type callbackError struct{ err error }

func (e callbackError) Error() string { return e.err.Error() }
