// Package ratelimit throttles form writes per authenticated user with a
// sliding window kept in process memory.
package ratelimit

import (
	"sync"
	"time"
)

// Result describes one limiter decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window frees a slot.
func (r Result) RetryAfter(now time.Time) int {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// SlidingWindow counts requests per key over the trailing window. Keys whose
// timestamps have all expired are dropped on the next sweep.
type SlidingWindow struct {
	mu        sync.Mutex
	buckets   map[string][]time.Time
	now       func() time.Time
	lastSweep time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{buckets: make(map[string][]time.Time), now: time.Now}
}

// Allow records a request for key when fewer than limit requests fall inside
// the window.
func (s *SlidingWindow) Allow(key string, limit int, window time.Duration) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > window {
		s.sweep(now, window)
	}

	stamps := trim(s.buckets[key], now.Add(-window))
	if len(stamps) >= limit {
		s.buckets[key] = stamps
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: stamps[0].Add(window)}
	}
	stamps = append(stamps, now)
	s.buckets[key] = stamps
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - len(stamps),
		ResetAt:   stamps[0].Add(window),
	}
}

// Count returns the requests for key inside the window.
func (s *SlidingWindow) Count(key string, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(trim(s.buckets[key], s.now().Add(-window)))
}

func (s *SlidingWindow) sweep(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	for k, stamps := range s.buckets {
		if len(trim(stamps, cutoff)) == 0 {
			delete(s.buckets, k)
		}
	}
	s.lastSweep = now
}

// trim drops timestamps at or before cutoff. stamps is ascending.
func trim(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
