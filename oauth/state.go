package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// pendingState is the Redis payload behind one state value.
type pendingState struct {
	Provider    string `json:"p"`
	Verifier    string `json:"v"`
	LinkUserID  string `json:"u,omitempty"`
	RedirectURL string `json:"r,omitempty"`
	IssuedAt    int64  `json:"t"`
}

type stateStore struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func (s *stateStore) key(state string) string {
	return s.prefix + ":st:" + state
}

func (s *stateStore) put(ctx context.Context, state string, p pendingState) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(state), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// take returns and deletes the entry in one command.
func (s *stateStore) take(ctx context.Context, state string) (*pendingState, error) {
	data, err := s.redis.GetDel(ctx, s.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidState
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	var p pendingState
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, ErrInvalidState
	}
	return &p, nil
}
