package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// rateLimiter keeps one token bucket per sender. A nil or disabled limiter
// allows everything.
type rateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	senders   map[string]*senderLimiter
	lastPrune time.Time
}

type senderLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		senders: make(map[string]*senderLimiter),
	}
}

func (r *rateLimiter) allow(sender string) bool {
	if r == nil {
		return true
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastPrune) > limiterIdleTTL {
		for name, s := range r.senders {
			if now.Sub(s.lastSeen) > limiterIdleTTL {
				delete(r.senders, name)
			}
		}
		r.lastPrune = now
	}

	s, ok := r.senders[sender]
	if !ok {
		s = &senderLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.senders[sender] = s
	}
	s.lastSeen = now
	return s.limiter.AllowN(now, 1)
}

// RateLimitMiddleware rejects message writes above the per-sender rate.
func RateLimitMiddleware(limiter *rateLimiter, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sender := callerName(c)
		if sender == "" {
			sender = c.ClientIP()
		}
		if !limiter.allow(sender) {
			logger.Warn().Str("sender", sender).Str("path", c.Request.URL.Path).Msg("rate limit exceeded")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many requests"})
			return
		}
		c.Next()
	}
}
