package transport

import (
	"sync"
	"time"

	"github.com/vaultline/srpsession/config"
)

// originalProbeWindow is how long a successful probe of the original URL
// keeps requests on it even while an unexpired alternative route exists.
const originalProbeWindow = 10 * time.Minute

type altRoute struct {
	host    string
	expires time.Time
}

// RouteCache maps an API's canonical host to its active alternative host
// plus an expiry. It is process-wide: sessions talking to the same API share
// one cache, so a route discovered by one session is visible to the next.
// Writes are serialized internally.
type RouteCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]altRoute
	lastOK  map[string]time.Time
}

// NewRouteCache creates an empty cache whose stored routes expire after ttl.
func NewRouteCache(ttl time.Duration) *RouteCache {
	return &RouteCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]altRoute),
		lastOK:  make(map[string]time.Time),
	}
}

var defaultRouteCache = NewRouteCache(config.AltRouteTTL)

// DefaultRouteCache returns the process-wide cache every Engine uses unless
// a test swaps in its own.
func DefaultRouteCache() *RouteCache { return defaultRouteCache }

// TryOriginalURL answers "may I still use the original URL?" for apiHost.
// It returns true when forceSkip is set, when alternative routing is not
// allowed, when no unexpired alternative exists, or when the original URL
// was successfully probed recently. Otherwise the unexpired alternative
// wins and the caller should route through it.
func (c *RouteCache) TryOriginalURL(apiHost string, allowAlt, forceSkip bool) bool {
	if forceSkip || !allowAlt {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[apiHost]
	if !ok {
		return true
	}
	if c.now().After(e.expires) {
		delete(c.entries, apiHost)
		return true
	}
	if t, ok := c.lastOK[apiHost]; ok && c.now().Sub(t) < originalProbeWindow {
		return true
	}
	return false
}

// StoreAlternativeRoute records altHost as the active alternative for
// apiHost with a bounded TTL. Storing a route implies the original is down,
// so any recent-probe record for it is dropped at the same time.
func (c *RouteCache) StoreAlternativeRoute(apiHost, altHost string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[apiHost] = altRoute{host: altHost, expires: c.now().Add(c.ttl)}
	delete(c.lastOK, apiHost)
}

// GetAlternativeURL returns "https://<alt-host>" for apiHost, or "" if no
// unexpired alternative is cached.
func (c *RouteCache) GetAlternativeURL(apiHost string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[apiHost]
	if !ok || c.now().After(e.expires) {
		return ""
	}
	return "https://" + e.host
}

// MarkOriginalReachable records that a request against the original URL for
// apiHost just succeeded, steering subsequent requests back onto it for the
// probe window even if an alternative is still cached.
func (c *RouteCache) MarkOriginalReachable(apiHost string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastOK[apiHost] = c.now()
}
