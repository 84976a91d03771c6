package secure

import (
	"encoding/binary"
	"io"
	"time"
)

const (
	// MaxBackoff caps every computed delay before jitter.
	MaxBackoff = 60 * time.Second
	// BackoffJitter is the symmetric jitter fraction applied to a delay.
	BackoffJitter = 0.20
)

// Backoff returns base*2^(attempt-1), capped at MaxBackoff, with ±20% jitter
// drawn from r. attempt <= 0 or base <= 0 yields zero.
func Backoff(attempt int, base time.Duration, r io.Reader) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= MaxBackoff {
			delay = MaxBackoff
			break
		}
	}
	if delay > MaxBackoff {
		delay = MaxBackoff
	}

	// factor is uniform in [-1, 1).
	factor := unitFloat(r)*2 - 1
	jitter := time.Duration(float64(delay) * BackoffJitter * factor)
	return delay + jitter
}

// unitFloat returns a value in [0, 1). A failing reader yields 0.5, i.e. no
// jitter.
func unitFloat(r io.Reader) float64 {
	var b [8]byte
	if _, err := io.ReadFull(ReaderOrDefault(r), b[:]); err != nil {
		return 0.5
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / float64(1<<53)
}
