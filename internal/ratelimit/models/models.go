package models

import (
	"strings"
	"time"
)

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// NewIPKey builds the bucket key for a client IP on the identify endpoint.
// Colons inside IPv6 addresses are kept; the prefix alone is namespaced.
func NewIPKey(ip string) string {
	if ip = strings.TrimSpace(ip); ip == "" {
		ip = "unknown"
	}
	return "ratelimit:identify:ip:" + ip
}

// RetryAfterSeconds rounds the wait until resetAt up to whole seconds, never
// below one.
func RetryAfterSeconds(now, resetAt time.Time) int {
	wait := resetAt.Sub(now)
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
