package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// checkCost is the token cost of a classification submission. Checks run
// the corrective loop and may write the ledger, so they consume several
// tokens where reads consume one.
const checkCost = 4

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware enforcing a per-IP token bucket.
// rps is the steady refill rate and burst the bucket capacity, both in
// read-equivalent tokens; POST /check debits checkCost tokens per request.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	var (
		mu      sync.Mutex
		buckets = map[string]*clientBucket{}
	)

	// Drop buckets for clients idle longer than 10 minutes.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			for ip, b := range buckets {
				if time.Since(b.lastSeen) > 10*time.Minute {
					delete(buckets, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		b, ok := buckets[ip]
		if !ok {
			b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[ip] = b
		}
		b.lastSeen = time.Now()
		mu.Unlock()

		cost := 1
		if c.Request.Method == http.MethodPost {
			cost = checkCost
		}
		if !b.limiter.AllowN(time.Now(), cost) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, slow down",
			})
			return
		}
		c.Next()
	}
}
