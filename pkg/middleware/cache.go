package middleware

import "net/http"

// NoStore forbids shared and browser caches from storing responses. Use it on
// routes whose responses depend on the caller's session.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Add("Vary", "X-Session-ID")
		w.Header().Add("Vary", "X-User-ID")
		next.ServeHTTP(w, r)
	})
}
