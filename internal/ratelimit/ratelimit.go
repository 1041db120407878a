// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit gates outbound API requests behind a process-wide
// token bucket with a minimum inter-request gap.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xeradb/evidence-harvester/pkg/types"
)

// Limiter bounds the outbound request rate. One Limiter is shared by all
// workers; it is the only synchronization point between partitions.
type Limiter struct {
	bucket *rate.Limiter

	mu     sync.Mutex
	minGap time.Duration
	next   time.Time
}

// New builds a Limiter from cfg. A zero RequestsPerSecond means two requests
// per second, the ceiling NCBI grants unkeyed clients.
func New(cfg types.RateLimitConfig) *Limiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
		minGap: cfg.MinInterval,
	}
}

// Wait blocks until issuing one more request stays within the configured
// ceiling, or until ctx is cancelled. Callers wait cooperatively; there is
// no busy loop.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}
	if l.minGap <= 0 {
		return nil
	}

	// Claim the next dispatch slot under the lock, then sleep outside it so
	// waiters queue up without serializing on the timer.
	l.mu.Lock()
	now := time.Now()
	slot := l.next
	if slot.Before(now) {
		slot = now
	}
	l.next = slot.Add(l.minGap)
	l.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
