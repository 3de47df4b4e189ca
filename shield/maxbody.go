package shield

import "net/http"

// MaxBody returns middleware that caps the request body size. Reads past
// the cap fail with http.MaxBytesError, which handlers map to 413.
func MaxBody(maxBytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
