/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package ratelimit throttles test execution submissions. It enforces
// both engine-wide and per-user concurrency limits with configurable
// burst allowance for high-priority executions (spec §3 priority 1-2).
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config configures submission throttling.
type Config struct {
	// MaxConcurrentEngine is the engine-wide limit on in-flight starts.
	MaxConcurrentEngine int

	// MaxConcurrentPerUser is the per-user limit on in-flight starts.
	MaxConcurrentPerUser int

	// MaxStartsPerHourEngine is the engine-wide limit on starts per hour.
	MaxStartsPerHourEngine int

	// MaxStartsPerHourPerUser is the per-user limit on starts per hour.
	MaxStartsPerHourPerUser int

	// BurstAllowance allows this many extra starts for high-priority executions.
	BurstAllowance int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentEngine:     10,
		MaxConcurrentPerUser:    3,
		MaxStartsPerHourEngine:  200,
		MaxStartsPerHourPerUser: 30,
		BurstAllowance:          3,
	}
}

// Decision represents whether a start is allowed and why.
type Decision struct {
	Allowed bool
	Reason  string
}

// Limiter tracks submission concurrency and rates per user.
type Limiter struct {
	config Config

	mu sync.Mutex

	// concurrent tracks currently in-flight starts per user
	concurrent map[string]int // userID → count
	totalConc  int

	// history tracks recent starts for rate calculation
	history []startRecord
}

type startRecord struct {
	userID string
	time   time.Time
}

// NewLimiter creates a submission rate limiter.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		config:     cfg,
		concurrent: make(map[string]int),
	}
}

// Allow checks whether a new start for the given user is permitted.
func (l *Limiter) Allow(userID string, highPriority bool) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.pruneHistory(now)

	if l.concurrent[userID] >= l.config.MaxConcurrentPerUser {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("per-user concurrency limit reached (%d/%d)", l.concurrent[userID], l.config.MaxConcurrentPerUser),
		}
	}

	maxConc := l.config.MaxConcurrentEngine
	if highPriority {
		maxConc += l.config.BurstAllowance
	}
	if l.totalConc >= maxConc {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("engine-wide concurrency limit reached (%d/%d)", l.totalConc, maxConc),
		}
	}

	userCount := l.countUser(userID, now)
	if userCount >= l.config.MaxStartsPerHourPerUser {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("per-user rate limit reached (%d starts in last hour, max %d)", userCount, l.config.MaxStartsPerHourPerUser),
		}
	}

	totalCount := len(l.history)
	maxRate := l.config.MaxStartsPerHourEngine
	if highPriority {
		maxRate += l.config.BurstAllowance * 10
	}
	if totalCount >= maxRate {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("engine-wide rate limit reached (%d starts in last hour, max %d)", totalCount, maxRate),
		}
	}

	return Decision{Allowed: true}
}

// RecordStart marks a start as admitted.
func (l *Limiter) RecordStart(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.concurrent[userID]++
	l.totalConc++
	l.history = append(l.history, startRecord{userID: userID, time: time.Now()})
}

// RecordComplete marks a started execution as having left the queue
// (dispatched, completed, or rejected after admission).
func (l *Limiter) RecordComplete(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.concurrent[userID] > 0 {
		l.concurrent[userID]--
	}
	if l.totalConc > 0 {
		l.totalConc--
	}
}

// Stats returns current limiter state (for GET /queue/status).
type Stats struct {
	ConcurrentTotal  int
	ConcurrentByUser map[string]int
	StartsLastHour   int
}

// GetStats returns current limiter statistics.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneHistory(time.Now())

	byUser := make(map[string]int, len(l.concurrent))
	for k, v := range l.concurrent {
		byUser[k] = v
	}

	return Stats{
		ConcurrentTotal:  l.totalConc,
		ConcurrentByUser: byUser,
		StartsLastHour:   len(l.history),
	}
}

// pruneHistory removes records older than 1 hour.
func (l *Limiter) pruneHistory(now time.Time) {
	cutoff := now.Add(-1 * time.Hour)
	i := 0
	for i < len(l.history) && l.history[i].time.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.history = l.history[i:]
	}
}

// countUser counts how many starts this user has in the history window.
func (l *Limiter) countUser(userID string, now time.Time) int {
	count := 0
	cutoff := now.Add(-1 * time.Hour)
	for _, r := range l.history {
		if r.userID == userID && !r.time.Before(cutoff) {
			count++
		}
	}
	return count
}
