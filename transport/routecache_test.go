package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestCache(ttl time.Duration) (*RouteCache, *time.Time) {
	c := NewRouteCache(ttl)
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestTryOriginalURLContract(t *testing.T) {
	const host = "api.example"

	tests := []struct {
		name      string
		storeAlt  bool
		allowAlt  bool
		forceSkip bool
		want      bool
	}{
		{"force skip always wins", true, true, true, true},
		{"alt routing disabled", true, false, false, true},
		{"no alt cached", false, true, false, true},
		{"unexpired alt and allowed", true, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(time.Hour)
			if tt.storeAlt {
				c.StoreAlternativeRoute(host, "alt1.example")
			}
			assert.Equal(t, tt.want, c.TryOriginalURL(host, tt.allowAlt, tt.forceSkip))
		})
	}
}

func TestAlternativeRouteExpires(t *testing.T) {
	c, now := newTestCache(time.Hour)
	c.StoreAlternativeRoute("api.example", "alt1.example")

	assert.False(t, c.TryOriginalURL("api.example", true, false))
	assert.Equal(t, "https://alt1.example", c.GetAlternativeURL("api.example"))

	*now = now.Add(2 * time.Hour)
	assert.True(t, c.TryOriginalURL("api.example", true, false))
	assert.Empty(t, c.GetAlternativeURL("api.example"))
}

func TestRecentOriginalProbeOverridesAlt(t *testing.T) {
	c, now := newTestCache(24 * time.Hour)
	c.StoreAlternativeRoute("api.example", "alt1.example")
	assert.False(t, c.TryOriginalURL("api.example", true, false))

	c.MarkOriginalReachable("api.example")
	assert.True(t, c.TryOriginalURL("api.example", true, false))

	*now = now.Add(originalProbeWindow + time.Minute)
	assert.False(t, c.TryOriginalURL("api.example", true, false))
}

func TestStoreAlternativeRouteDropsProbeRecord(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	c.MarkOriginalReachable("api.example")
	c.StoreAlternativeRoute("api.example", "alt1.example")

	assert.False(t, c.TryOriginalURL("api.example", true, false))
}

func TestGetAlternativeURLUnknownHost(t *testing.T) {
	c, _ := newTestCache(time.Hour)
	assert.Empty(t, c.GetAlternativeURL("nothing.example"))
}
