package middleware

import "net/http"

// NoStore marks every response as uncacheable. Session and wishlist
// responses are per-visitor and change on each toggle, so neither browsers
// nor shared proxies may keep them.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
