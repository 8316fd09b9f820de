package middlewares

import (
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/yeremiapane/waiter-call/apperrors"
	"github.com/yeremiapane/waiter-call/utils"
)

// IPRateLimiter keeps a token bucket per client IP. Idle buckets expire.
type IPRateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *cache.Cache
}

// NewIPRateLimiter allows perMinute requests per IP with the given burst.
func NewIPRateLimiter(perMinute, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(max(perMinute, 1))),
		burst:    burst,
		limiters: cache.New(10*time.Minute, 5*time.Minute),
	}
}

func (rl *IPRateLimiter) limiter(ip string) *rate.Limiter {
	if l, found := rl.limiters.Get(ip); found {
		rl.limiters.SetDefault(ip, l)
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	if err := rl.limiters.Add(ip, l, cache.DefaultExpiration); err != nil {
		// another request created it first
		if existing, found := rl.limiters.Get(ip); found {
			return existing.(*rate.Limiter)
		}
	}
	return l
}

func (rl *IPRateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		l := rl.limiter(c.ClientIP())
		res := l.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			secs := int(math.Ceil(delay.Seconds()))
			utils.RespondServiceError(c, apperrors.RateLimited("too many requests, please wait before trying again").
				With(apperrors.DetailRemainingSeconds, secs))
			c.Abort()
			return
		}
		c.Next()
	}
}
