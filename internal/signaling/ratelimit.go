package signaling

import (
	"sync"
	"time"
)

// rateLimitKey identifies the event type inbound frames are bucketed by:
// "signaling:quic_offer", "signaling:quic_candidate", "session", "control",
// "heartbeat", etc. Signaling frames are keyed by their payload kind because
// quic_candidate bursts are routine while quic_offer floods are not.
type rateLimitKey string

// eventLimit defines a token bucket's burst size and refill cadence.
type eventLimit struct {
	maxBurst       int
	refillInterval time.Duration
}

// defaultEventLimits mirrors the granularity of a production signaling
// client's abuse guard: candidate hints are allowed to burst, session
// offers and relay/teardown notices are not.
func defaultEventLimits() map[rateLimitKey]eventLimit {
	return map[rateLimitKey]eventLimit{
		"signaling:quic_offer":     {maxBurst: 2, refillInterval: 5 * time.Second},
		"signaling:quic_candidate": {maxBurst: 30, refillInterval: 1 * time.Second},
		"signaling:quic_relay":     {maxBurst: 2, refillInterval: 5 * time.Second},
		"signaling:disconnect":     {maxBurst: 5, refillInterval: 10 * time.Second},
		"signaling:reject":         {maxBurst: 5, refillInterval: 10 * time.Second},
		"session":                  {maxBurst: 10, refillInterval: 10 * time.Second},
		"control":                  {maxBurst: 10, refillInterval: 10 * time.Second},
		"heartbeat":                {maxBurst: 20, refillInterval: 5 * time.Second},
	}
}

type tokenBucket struct {
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// inboundRateLimiter tracks per-event-type burst usage for inbound frames so
// abusive or compromised directory traffic can be observed. It never drops a
// well-formed frame: exhausted buckets only flip allow's return value, which
// callers use to record an observational over-limit metric.
type inboundRateLimiter struct {
	mu      sync.Mutex
	limits  map[rateLimitKey]eventLimit
	buckets map[rateLimitKey]*tokenBucket
}

func newInboundRateLimiter() *inboundRateLimiter {
	return &inboundRateLimiter{
		limits:  defaultEventLimits(),
		buckets: make(map[rateLimitKey]*tokenBucket),
	}
}

// allow reports whether an event of the given key may proceed, refilling
// its bucket based on elapsed time first.
func (r *inboundRateLimiter) allow(key rateLimitKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket, ok := r.buckets[key]
	if !ok {
		limit, known := r.limits[key]
		if !known {
			limit = eventLimit{maxBurst: 10, refillInterval: 5 * time.Second}
		}
		bucket = &tokenBucket{
			tokens:     limit.maxBurst,
			maxTokens:  limit.maxBurst,
			refillRate: limit.refillInterval,
			lastRefill: time.Now(),
		}
		r.buckets[key] = bucket
	}

	now := time.Now()
	elapsed := now.Sub(bucket.lastRefill)
	if bucket.refillRate > 0 && elapsed >= bucket.refillRate && bucket.tokens < bucket.maxTokens {
		toAdd := int(elapsed / bucket.refillRate)
		bucket.tokens += toAdd
		if bucket.tokens > bucket.maxTokens {
			bucket.tokens = bucket.maxTokens
		}
		bucket.lastRefill = now
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

func rateLimitKeyFor(parsed *ParsedEvent) rateLimitKey {
	switch parsed.Family {
	case FamilySignaling:
		return rateLimitKey("signaling:" + string(parsed.Signaling.Payload.Kind))
	default:
		return rateLimitKey(parsed.Family)
	}
}
