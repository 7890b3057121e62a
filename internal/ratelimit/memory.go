package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memorySweepThreshold is the number of tracked keys above which stale windows are dropped.
const memorySweepThreshold = 4096

type window struct {
	second int64
	used   int
}

// MemoryLimiter is a per-process fixed one-second window limiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window)}
}

// Allow counts one request for key in the second containing now.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) > memorySweepThreshold {
		l.sweep(sec)
	}
	w, ok := l.windows[key]
	if !ok || w.second != sec {
		w = &window{second: sec}
		l.windows[key] = w
	}
	if w.used >= limit {
		return Result{Allowed: false, Reset: reset}, nil
	}
	w.used++
	return Result{Allowed: true, Remaining: limit - w.used, Reset: reset}, nil
}

// sweep drops windows older than sec. Callers hold l.mu.
func (l *MemoryLimiter) sweep(sec int64) {
	for key, w := range l.windows {
		if w.second < sec {
			delete(l.windows, key)
		}
	}
}
