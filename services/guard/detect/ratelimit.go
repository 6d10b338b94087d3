// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detect

import (
	"sync"
	"time"
)

// slidingWindowLimiter tracks request timestamps per source id.
//
// A request at the limit is rejected and NOT recorded, so an attacker
// hammering the endpoint does not extend their own penalty window.
//
// x/time/rate was considered and rejected: its token bucket smooths
// bursts, while detection semantics require an exact count over the
// trailing window.
//
// Thread Safety: Safe for concurrent use.
type slidingWindowLimiter struct {
	window      time.Duration
	maxRequests int

	mu      sync.Mutex
	sources map[string][]time.Time
}

func newSlidingWindowLimiter(window time.Duration, maxRequests int) *slidingWindowLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if maxRequests <= 0 {
		maxRequests = 100
	}
	return &slidingWindowLimiter{
		window:      window,
		maxRequests: maxRequests,
		sources:     make(map[string][]time.Time),
	}
}

// allow records the request for the source and returns true, or returns
// false without recording when the source is at its limit.
func (l *slidingWindowLimiter) allow(sourceID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	timestamps := l.sources[sourceID]

	// Drop entries older than the window. Timestamps are appended in
	// order, so the live suffix starts at the first fresh entry.
	start := 0
	for start < len(timestamps) && !timestamps[start].After(cutoff) {
		start++
	}
	timestamps = timestamps[start:]

	if len(timestamps) >= l.maxRequests {
		l.sources[sourceID] = timestamps
		return false
	}

	l.sources[sourceID] = append(timestamps, now)
	return true
}

// activeSources returns how many sources have live entries, pruning
// empty ones as a side effect.
func (l *slidingWindowLimiter) activeSources(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	active := 0
	for id, timestamps := range l.sources {
		live := false
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if live {
			active++
		} else {
			delete(l.sources, id)
		}
	}
	return active
}
