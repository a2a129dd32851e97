// Package ratelimit provides Redis-backed throttling for auto-replies using
// the INCR + EXPIRE window algorithm. Each sender gets an independent
// counter so one noisy conversation cannot starve the rest.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a throttling policy: the Redis key prefix, the maximum number
// of replies allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:reply:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleReply allows 6 auto-replies per sender per minute. Inbound messages
// above the limit still land in history; only the generated reply is
// suppressed.
var RuleReply = Rule{Key: "rl:reply:", Limit: 6, Window: 1 * time.Minute}

// Limiter performs throttle checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow checks whether the given sender is within the limit defined by rule.
// It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the reply is allowed, false if throttled. On Redis errors
// the method fails open (returns true) so a Redis outage does not mute the
// relay.
func (l *Limiter) Allow(ctx context.Context, senderID string, rule Rule) (bool, error) {
	key := rule.Key + senderID

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// The key exists but has no TTL and would throttle the sender
			// forever. Best effort: delete it.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	if int(count) > rule.Limit {
		return false, nil
	}

	return true, nil
}
