// Package ratelimit provides the in-process rate limiting used around model
// endpoints: a token-bucket limiter keyed by provider name, and a
// minimum-interval gate for APIs that require spacing between calls.
package ratelimit

import "context"

// Limiter answers whether a call for key may proceed right now.
type Limiter interface {
	// Allow consumes one token for key. Returns true if the call should
	// proceed, false if it is rate limited.
	Allow(ctx context.Context, key string) (bool, error)
}
