package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the Exchange Client's global rate limit (default 1200 req/min).
type Limiter struct {
	l *rate.Limiter
}

// NewLimiter constructs a Limiter allowing reqsPerMinute sustained, with a
// burst equal to the same figure divided by 60 (one second's worth),
// floored at 1.
func NewLimiter(reqsPerMinute int) *Limiter {
	if reqsPerMinute <= 0 {
		reqsPerMinute = 1200
	}
	perSecond := rate.Limit(float64(reqsPerMinute) / 60.0)
	burst := reqsPerMinute / 60
	if burst < 1 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(perSecond, burst)}
}

// Wait blocks until a request token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.l.Wait(ctx)
}

// Spacer enforces a minimum gap between successive calls on the same named
// endpoint (e.g. 200ms between OHLCV pages, 300ms between OI pages),
// layered on top of the global Limiter.
type Spacer struct {
	mu   sync.Mutex
	last map[string]time.Time
	gaps map[string]time.Duration
}

// NewSpacer constructs a Spacer with no configured gaps; call SetGap to add one.
func NewSpacer() *Spacer {
	return &Spacer{last: make(map[string]time.Time), gaps: make(map[string]time.Duration)}
}

// SetGap configures the minimum spacing for endpoint.
func (s *Spacer) SetGap(endpoint string, gap time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gaps[endpoint] = gap
}

// Wait blocks, if necessary, until the minimum gap since the last call to
// endpoint has elapsed, then records this call's time.
func (s *Spacer) Wait(ctx context.Context, endpoint string) error {
	s.mu.Lock()
	gap := s.gaps[endpoint]
	last, seen := s.last[endpoint]
	s.mu.Unlock()

	if seen && gap > 0 {
		elapsed := time.Since(last)
		if remaining := gap - elapsed; remaining > 0 {
			select {
			case <-time.After(remaining):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	s.mu.Lock()
	s.last[endpoint] = time.Now()
	s.mu.Unlock()
	return nil
}
