package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff grows the delay by one interval per attempt.
type linearBackOff struct {
	mu       sync.Mutex
	interval time.Duration
	attempt  int
}

// NextBackOff implements backoff.BackOff.
func (b *linearBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt++
	return time.Duration(b.attempt) * b.interval
}

// Reset implements backoff.BackOff.
func (b *linearBackOff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// ReconnectPolicy hands out reconnect delays of attempt × interval until the
// attempt ceiling is reached or the owning context ends.
type ReconnectPolicy struct {
	mu      sync.Mutex
	policy  backoff.BackOff
	attempt int
}

// NewReconnectPolicy builds the policy for one socket.
func NewReconnectPolicy(ctx context.Context, maxAttempts int, interval time.Duration) *ReconnectPolicy {
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if maxAttempts > 0 {
		policy = backoff.WithMaxRetries(&linearBackOff{interval: interval}, uint64(maxAttempts))
	}
	policy = backoff.WithContext(policy, ctx)
	policy.Reset()
	return &ReconnectPolicy{policy: policy}
}

// Next returns the attempt number and delay for the next reconnect, or
// ok=false once the policy is exhausted.
func (p *ReconnectPolicy) Next() (attempt int, delay time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay = p.policy.NextBackOff()
	if delay == backoff.Stop {
		return p.attempt, 0, false
	}
	p.attempt++
	return p.attempt, delay, true
}

// Reset is called after a successful open.
func (p *ReconnectPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempt = 0
	p.policy.Reset()
}

// Attempts returns how many reconnects were scheduled since the last reset.
func (p *ReconnectPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempt
}
