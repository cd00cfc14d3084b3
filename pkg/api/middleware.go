package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/opencoursehub/catalog/pkg/cachekeys"
)

// cachedResponse is the stored form of a cacheable response.
type cachedResponse struct {
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// cacheResponseWriter captures the response body and status code so 200
// responses can be stored.
type cacheResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *cacheResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// CacheMiddleware caches GET responses under keys derived from the global
// ingest timestamp, the request path, every query parameter, and the
// requesting user. Bumping the timestamp after an ingest invalidates all
// entries by construction, so no explicit eviction happens here.
//
//   - Only GET requests are cached.
//   - On hit the stored body is replayed with an X-Cache: HIT header.
//   - Only 200 responses are stored.
func CacheMiddleware(keys *cachekeys.Service, cache *cachekeys.Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			user := r.Header.Get("X-User")
			key := keys.ResponseKey(r.URL.Path, r.URL.Query(), user)

			if raw, ok := cache.Get(key); ok {
				var stored cachedResponse
				if err := json.Unmarshal(raw, &stored); err == nil {
					w.Header().Set("Content-Type", stored.ContentType)
					w.Header().Set("X-Cache", "HIT")
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write(stored.Body)
					return
				}
			}

			crw := &cacheResponseWriter{ResponseWriter: w}
			crw.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(crw, r)

			if crw.statusCode == http.StatusOK {
				stored, err := json.Marshal(cachedResponse{
					ContentType: crw.Header().Get("Content-Type"),
					Body:        crw.body.Bytes(),
				})
				if err == nil {
					cache.Set(key, stored)
				}
			}
		})
	}
}
