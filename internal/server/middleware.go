package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/partsledger/partsledger/internal/throttle"
)

// rateLimit enforces the per-source request budget. The identity is the
// trigger source plus the organization, so one noisy customer cannot
// starve the rest. Requests without an org header share a bucket.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		source := string(triggerSource(r))
		rule, ok := s.rules[source]
		if !ok || rule.Limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		identifier := source
		if orgID := r.Header.Get("X-Org-ID"); orgID != "" {
			identifier = source + ":" + orgID
		}

		err := s.limiter.Check(r.Context(), identifier, rule.Limit, rule.Window)
		if err != nil {
			var exceeded *throttle.RateLimitExceeded
			if errors.As(err, &exceeded) {
				retryAfter := int(exceeded.RetryAfter / time.Second)
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			zap.L().Warn("rate limit check failed, admitting request", zap.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request after it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
