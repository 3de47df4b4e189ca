package shield

import "net/http"

// HeadToGet converts HEAD requests to GET, so load balancers that probe
// HEAD /healthz get a 200 from handlers registered with r.Get() instead
// of a 405. net/http strips the body for HEAD responses.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
