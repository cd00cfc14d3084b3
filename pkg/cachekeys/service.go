package cachekeys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// apiTimestampKey is the cache entry holding the global ingest timestamp.
const apiTimestampKey = "api_timestamp"

// Service computes response-cache keys. It keeps a single monotonically
// updated api timestamp in the shared cache; the timestamp is initialized
// on first read and bumped by the pipeline driver after every ingest and by
// the change bus on out-of-ingest record changes.
type Service struct {
	mu    sync.Mutex
	cache *Cache
}

// NewService creates a Service backed by the given cache. The cache must
// not expire entries (the timestamp has no TTL of its own).
func NewService(cache *Cache) *Service {
	return &Service{cache: cache}
}

// Timestamp returns the current api timestamp in nanoseconds, initializing
// it to the current time on first read.
func (s *Service) Timestamp() int64 {
	v := s.cache.GetOrSet(apiTimestampKey, func() []byte {
		return []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	})
	ts, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		// Corrupt entry; reset it.
		return s.Bump()
	}
	return ts
}

// Bump advances the api timestamp. The new value is strictly greater than
// any previously returned one, so every response key computed before the
// bump is invalidated.
func (s *Service) Bump() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UnixNano()
	if prev, ok := s.cache.Get(apiTimestampKey); ok {
		if p, err := strconv.ParseInt(string(prev), 10, 64); err == nil && ts <= p {
			ts = p + 1
		}
	}
	s.cache.Set(apiTimestampKey, []byte(strconv.FormatInt(ts, 10)))
	return ts
}

// ResponseKey builds the cache key for an API response. It combines the
// current api timestamp, the request path, every query parameter, and the
// requesting user's identity, so a personalized response is never served
// to another user.
func (s *Service) ResponseKey(path string, query url.Values, user string) string {
	parts := make([]string, 0, len(query))
	for name, values := range query {
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		parts = append(parts, name+"="+strings.Join(sorted, ","))
	}
	sort.Strings(parts)

	raw := fmt.Sprintf("ts=%d;path=%s;query=%s;user=%s",
		s.Timestamp(), path, strings.Join(parts, "&"), user)
	sum := sha256.Sum256([]byte(raw))
	return "response:" + hex.EncodeToString(sum[:])
}
