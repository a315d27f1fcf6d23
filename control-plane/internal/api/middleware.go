package api

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/metrics"
)

const (
	headerTenantID = "X-Tenant-ID"
	headerActorID  = "X-Actor-ID"
)

func tenantID(r *http.Request) string {
	return r.Header.Get(headerTenantID)
}

func actorID(r *http.Request) string {
	return r.Header.Get(headerActorID)
}

// OperatorAuthMiddleware validates the bearer API key against the operator
// key hash. With no hash configured every request passes.
func (s *Server) OperatorAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.operatorKeyHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				s.logger.Warn("operator auth failed: missing credentials",
					"path", r.URL.Path,
					"actor_id", actorID(r),
				)
				s.writeError(w, http.StatusUnauthorized, "unauthorized: missing credentials")
				return
			}

			apiKey := strings.TrimPrefix(authHeader, "Bearer ")
			if err := bcrypt.CompareHashAndPassword([]byte(s.operatorKeyHash), []byte(apiKey)); err != nil {
				s.logger.Warn("operator auth failed: invalid API key",
					"path", r.URL.Path,
					"actor_id", actorID(r),
				)
				s.writeError(w, http.StatusUnauthorized, "unauthorized: invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requireTenant rejects requests without a tenant header.
func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenantID(r) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"X-Tenant-ID header is required"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware applies the per-tenant token bucket.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(tenantID(r)) {
			metrics.HTTPRateLimitRejectionsTotal.Inc()
			w.Header().Set("Retry-After", "1")
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tenantLimiter holds one token bucket per tenant.
type tenantLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newTenantLimiter(perSecond float64, burst int) *tenantLimiter {
	return &tenantLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *tenantLimiter) allow(tenant string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[tenant]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[tenant] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// wrapHandler converts an http.HandlerFunc to use middleware.
func wrapHandler(h http.HandlerFunc, middleware func(http.Handler) http.Handler) http.HandlerFunc {
	return middleware(h).ServeHTTP
}
