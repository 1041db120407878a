// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeradb/evidence-harvester/pkg/types"
)

func TestWaitEnforcesMinGap(t *testing.T) {
	l := New(types.RateLimitConfig{
		RequestsPerSecond: 1000,
		Burst:             1000,
		MinInterval:       20 * time.Millisecond,
	})

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	elapsed := time.Since(start)

	// Four acquisitions with a 20ms gap need at least 60ms total.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestWaitSharedAcrossGoroutines(t *testing.T) {
	l := New(types.RateLimitConfig{
		RequestsPerSecond: 1000,
		Burst:             1000,
		MinInterval:       10 * time.Millisecond,
	})

	const n = 5
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Wait(context.Background())
		}()
	}
	wg.Wait()

	// Five concurrent callers still dispatch one at a time.
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitContextCancelled(t *testing.T) {
	l := New(types.RateLimitConfig{
		RequestsPerSecond: 1000,
		Burst:             1000,
		MinInterval:       time.Second,
	})

	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewDefaults(t *testing.T) {
	l := New(types.RateLimitConfig{})
	require.NotNil(t, l.bucket)
	assert.NoError(t, l.Wait(context.Background()))
}
