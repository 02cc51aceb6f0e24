package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/upb/omnichat-gateway/services"
	"github.com/upb/omnichat-gateway/services/ratelimit"
	"github.com/upb/omnichat-gateway/utils"
)

// Limiter spends one token for a key
type Limiter interface {
	Allow(key string) ratelimit.Result
}

// RateLimitByIP throttles requests per client IP. Run it after chi's RealIP so
// proxied clients are keyed by their own address.
func RateLimitByIP(limiter Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			res := limiter.Allow(ip)
			if !res.Allowed {
				retry := int(math.Ceil(res.RetryAfter.Seconds()))
				if retry < 1 {
					retry = 1
				}
				logger.Warn("rate limit exceeded",
					zap.String("request_id", GetRequestIDFromContext(r.Context())),
					zap.String("remote_ip", ip),
					zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				_ = utils.WriteTooManyRequests(w, services.CodeChallengeRateLimited, "Too many challenge requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr when present
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
