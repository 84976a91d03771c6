package rate

import "errors"

var (
	// ErrRateLimited is returned by Enforce when a decision denies the request.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport failures talking to Redis.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidPolicy is returned for a non-positive max or window.
	ErrInvalidPolicy = errors.New("invalid rate limit policy")
)
