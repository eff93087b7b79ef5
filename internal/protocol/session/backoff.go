package session

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig spaces out a worker's dial attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Delay is the wait before retry number attempt (1-based): InitialDelay
// grown geometrically, capped at MaxDelay, then scaled by a factor in
// [0.5, 1.5) when Jitter is set and rng is non-nil.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	growth := math.Max(b.Multiplier, 1)
	steps := max(attempt-1, 0)
	d := float64(b.InitialDelay) * math.Pow(growth, float64(steps))
	if b.MaxDelay > 0 {
		d = math.Min(d, float64(b.MaxDelay))
	}
	if b.Jitter && rng != nil {
		d *= 0.5 + rng.Float64()
	}
	return time.Duration(d)
}

// DialDelay is the backoff before dial attempt+1, never longer than one
// connect timeout.
func (c Config) DialDelay(attempt int, rng *rand.Rand) time.Duration {
	c = c.WithDefaults()
	return min(c.Backoff.Delay(attempt, rng), c.ConnectTimeout)
}
