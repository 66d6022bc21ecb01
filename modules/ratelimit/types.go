// Package ratelimit limits how often a user or client may perform an action,
// using a sliding window kept in Redis so limits hold across processes.
package ratelimit

import (
	"time"
)

// Config holds rate limiting configuration.
type Config struct {
	// RequestsPerWindow is the maximum number of requests allowed in the window.
	RequestsPerWindow int
	// WindowSize is the duration of the sliding window.
	WindowSize time.Duration
}

// Result represents the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	// RetryAfter is only set when the request was denied.
	RetryAfter time.Duration
}

// Buckets name the actions that are limited.
const (
	BucketMessage = "message"
	BucketLogin   = "login"
)
