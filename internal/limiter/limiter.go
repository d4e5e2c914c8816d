// Package limiter provides fixed-budget request limiting keyed by an
// arbitrary string (an IP, a phone). Two implementations: an in-memory
// sliding window for single-node deployments, and a Redis counter for
// shared state across processes.
package limiter

import (
	"context"
	"sync"
	"time"
)

// Limiter answers whether one more request under a key fits the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory is a sliding-window limiter held in process memory.
type Memory struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	maxReqs  int
	now      func() time.Time
}

// NewMemory creates an in-memory limiter and starts its cleanup loop.
func NewMemory(window time.Duration, maxReqs int) *Memory {
	m := &Memory{
		requests: make(map[string][]time.Time),
		window:   window,
		maxReqs:  maxReqs,
		now:      time.Now,
	}
	go m.cleanup()
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.window)

	kept := m.requests[key][:0]
	for _, t := range m.requests[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= m.maxReqs {
		m.requests[key] = kept
		return false, nil
	}
	m.requests[key] = append(kept, now)
	return true, nil
}

// cleanup drops idle keys so the map does not grow without bound.
func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		cutoff := m.now().Add(-m.window)
		for key, reqs := range m.requests {
			live := false
			for _, t := range reqs {
				if t.After(cutoff) {
					live = true
					break
				}
			}
			if !live {
				delete(m.requests, key)
			}
		}
		m.mu.Unlock()
	}
}
