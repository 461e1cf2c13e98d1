package api

import (
	"fmt"
	"time"

	"infermarket/internal/apierr"
	"infermarket/pkg/cache"
	"infermarket/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// requestIDMiddleware stamps every request with an id, reusing an
// inbound X-Request-ID so a reverse proxy's id threads through.
func requestIDMiddleware(c *gin.Context) {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.New().String()
	}
	c.Set("request_id", id)
	c.Writer.Header().Set("X-Request-ID", id)
	c.Next()
}

// loggerMiddleware logs one structured line per request.
func loggerMiddleware(c *gin.Context) {
	start := time.Now()
	path := c.Request.URL.Path
	c.Next()

	logger.Info("http request",
		zap.String("request_id", c.GetString("request_id")),
		zap.String("method", c.Request.Method),
		zap.String("path", path),
		zap.Int("status", c.Writer.Status()),
		zap.String("client_ip", c.ClientIP()),
		zap.Duration("latency", time.Since(start)),
	)
}

// localLimiter returns the in-memory token bucket for a route+identity
// pair, the fast path that rejects an obvious flood without a Redis
// round trip. Scoped to the Server instance (not a package global) so
// each Server starts with a clean set of buckets.
func (s *Server) localLimiter(key string, limitPerMinute int) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limitPerMinute)/60.0), limitPerMinute)
		s.limiters[key] = lim
	}
	return lim
}

// rateLimit builds a middleware that rejects with 429 once the caller
// has made more than limitPerMinute requests to this route within the
// current minute window. A per-identity token bucket rejects first,
// without touching Redis; a caller that passes it still has to clear
// the Redis-backed minute counter, which is what makes the limit hold
// across coordinator replicas rather than just this process. The
// Redis window key is a fixed-bucket floor on the current minute rather
// than a sliding log, so it under- rather than over-counts at the
// boundary; cheap and adequate for abuse protection rather than precise
// quota enforcement.
func (s *Server) rateLimit(route string, limitPerMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limitPerMinute <= 0 {
			c.Next()
			return
		}

		identity := userIDFromContext(c)
		if identity == "" {
			identity = c.ClientIP()
		}

		localKey := route + ":" + identity
		if !s.localLimiter(localKey, limitPerMinute).Allow() {
			apierr.RespondKind(c, apierr.RateLimited, "rate limit exceeded")
			return
		}

		bucket := time.Now().UTC().Truncate(time.Minute).Unix()
		key := fmt.Sprintf("ratelimit:%s:%s:%d", route, identity, bucket)

		count, err := cache.Incr(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.String("route", route), zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			if err := cache.Expire(c.Request.Context(), key, time.Minute); err != nil {
				logger.Warn("failed to set rate limit key ttl", zap.String("route", route), zap.Error(err))
			}
		}
		if count > int64(limitPerMinute) {
			apierr.RespondKind(c, apierr.RateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}
