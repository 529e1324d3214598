package tools

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	fetchCacheTTL        = 5 * time.Minute
	fetchCacheMaxEntries = 128
	fetchHostBurst       = 10
	fetchHostWindow      = 60 * time.Second
	fetchMaxAttempts     = 3
)

// checkSSRF rejects URLs that resolve to private, loopback, link-local or
// cloud-metadata addresses.
func checkSSRF(host string) error {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	if hostname == "metadata.google.internal" {
		return fmt.Errorf("metadata endpoint blocked")
	}
	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("cannot resolve host %q", hostname)
	}
	for _, ip := range ips {
		if isBlockedIP(ip) {
			return fmt.Errorf("address %s is not allowed", ip)
		}
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	// Cloud metadata services.
	return ip.Equal(net.ParseIP("169.254.169.254")) || ip.Equal(net.ParseIP("fd00:ec2::254"))
}

// hostLimiter enforces the per-host fetch budget: 10 requests per rolling
// 60-second window. A timestamp window rather than a token bucket: a bucket
// refilling mid-window would admit more than the budget inside one window.
type hostLimiter struct {
	mu   sync.Mutex
	seen map[string][]time.Time
}

func newHostLimiter() *hostLimiter {
	return &hostLimiter{seen: make(map[string][]time.Time)}
}

func (l *hostLimiter) allow(host string) bool {
	return l.allowAt(host, time.Now())
}

func (l *hostLimiter) allowAt(host string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.seen[host][:0]
	for _, t := range l.seen[host] {
		if now.Sub(t) < fetchHostWindow {
			kept = append(kept, t)
		}
	}
	if len(kept) >= fetchHostBurst {
		l.seen[host] = kept
		return false
	}
	l.seen[host] = append(kept, now)
	return true
}

// fetchCache holds rendered fetch results keyed on (url, format, section).
type fetchCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data    map[string]interface{}
	expires time.Time
}

func newFetchCache() *fetchCache {
	return &fetchCache{entries: make(map[string]cacheEntry)}
}

func cacheKey(url, format, section string) string {
	return strings.Join([]string{url, format, section}, "\x00")
}

func (c *fetchCache) get(key string) (map[string]interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.data, true
}

func (c *fetchCache) set(key string, data map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= fetchCacheMaxEntries {
		c.evictExpiredLocked()
	}
	c.entries[key] = cacheEntry{data: data, expires: time.Now().Add(fetchCacheTTL)}
}

func (c *fetchCache) evictExpiredLocked() {
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expires) {
			delete(c.entries, k)
		}
	}
	// Still full of live entries: drop arbitrary ones to make room.
	for k := range c.entries {
		if len(c.entries) < fetchCacheMaxEntries {
			break
		}
		delete(c.entries, k)
	}
}

// retryDelay is the backoff before attempt n (1-based): 1s, 2s, 4s...
func retryDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}

// sleepCtx waits d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
