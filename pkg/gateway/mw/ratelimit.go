package mw

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/voxgate/voxgate/pkg/gateway/apierror"
	"github.com/voxgate/voxgate/pkg/gateway/ratelimit"
)

// LoginRateLimit throttles credential attempts per remote address. Only the
// login endpoints pass through it; everything else keeps its own gating.
func LoginRateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dec := limiter.Allow(ratelimit.Key(clientKey(r)), time.Now())
		if !dec.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			apierror.WriteMessage(w, apierror.ErrQuota, "too many login attempts", reqID, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	// RemoteAddr includes the ephemeral port; strip it so one client maps to
	// one bucket.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
