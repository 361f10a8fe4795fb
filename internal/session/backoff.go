// internal/session/backoff.go
package session

import (
	"math"
	"time"

	"github.com/jason-s-yu/roomcoord/internal/protocol"
)

// Backoff is the client reconnection schedule: Base * Multiplier^(attempt-1), for at most
// MaxAttempts attempts. Past the cap the server's grace timer decides the seat.
type Backoff struct {
	Base        time.Duration
	Multiplier  float64
	MaxAttempts int
}

// DefaultBackoff is 1s, x1.5, five attempts.
var DefaultBackoff = Backoff{Base: time.Second, Multiplier: 1.5, MaxAttempts: 5}

// Delay returns the wait before the given 1-based attempt, and false once attempts are exhausted.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > b.MaxAttempts {
		return 0, false
	}
	return time.Duration(float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1))), true
}

// Total is the sum of all delays, the longest a well-behaved client keeps retrying.
func (b Backoff) Total() time.Duration {
	var total time.Duration
	for i := 1; ; i++ {
		d, ok := b.Delay(i)
		if !ok {
			return total
		}
		total += d
	}
}

func (b Backoff) Contract() protocol.Backoff {
	return protocol.Backoff{
		BaseMs:      b.Base.Milliseconds(),
		Multiplier:  b.Multiplier,
		MaxAttempts: b.MaxAttempts,
	}
}

// FromContract rebuilds a Backoff from the advertised contract.
func FromContract(c protocol.Backoff) Backoff {
	return Backoff{
		Base:        time.Duration(c.BaseMs) * time.Millisecond,
		Multiplier:  c.Multiplier,
		MaxAttempts: c.MaxAttempts,
	}
}
