// Package cache provides the shared key-value store used for credentials,
// rate counters, and status records. All cross-request state lives here;
// the gateway process itself keeps nothing between requests.
package cache

import (
	"context"
	"time"
)

// Store is a key-value cache with per-entry TTL. Implementations must
// treat an expired entry as absent on Get. Put always overwrites.
// There is no transactional guarantee across concurrent Get, Put, and
// Delete from different requests; callers tolerate those races.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache key conventions. Every component derives its keys through these
// helpers so the namespace stays in one place.

// StateKey is the key for a pending OAuth anti-forgery state value.
func StateKey(state string) string { return "oauth_state_" + state }

// TokenKey is the key for a cached OAuth token pair, addressed by the
// opaque bearer handle issued to the client.
func TokenKey(handle string) string { return "access_token_" + handle }

// APIKeyKey is the key for an API key record, addressed by the hex
// SHA-256 of the raw key. Raw key material is never stored.
func APIKeyKey(sha256hex string) string { return "api_key_" + sha256hex }

// ClientsKey is the key for a cached accounting-client listing.
func ClientsKey(userID string) string { return "clients_" + userID }

// StatusKey is the key for a cached processing-status record.
func StatusKey(protocolID string) string { return "status_" + protocolID }

// RateLimitKey is the key for a fixed-window request counter.
func RateLimitKey(identity string) string { return "rate_limit_" + identity }
