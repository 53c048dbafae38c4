package middlewares

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/yeremiapane/omnipay-gateway/utils"
)

// RateLimiter is a sliding window limit per client IP.
type RateLimiter struct {
	rate      int
	interval  time.Duration
	ips       map[string][]time.Time
	mu        sync.Mutex
	lastSweep time.Time
}

func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		rate:     rate,
		interval: interval,
		ips:      make(map[string][]time.Time),
	}
}

// ipLimiters hands out one token bucket per client IP. Buckets idle for longer than
// a full refill are dropped, since a fresh bucket behaves the same.
type ipLimiters struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	clients   map[string]*ipClient
	lastSweep time.Time
	now       func() time.Time
}

type ipClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiters(limit rate.Limit, burst int) *ipLimiters {
	ttl := time.Minute
	if limit > 0 {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > ttl {
			ttl = refill
		}
	}
	return &ipLimiters{
		limit:   limit,
		burst:   burst,
		idleTTL: ttl,
		clients: make(map[string]*ipClient),
		now:     time.Now,
	}
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		for key, client := range l.clients {
			if now.Sub(client.lastSeen) >= l.idleTTL {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	client, ok := l.clients[ip]
	if !ok {
		client = &ipClient{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = client
	}
	client.lastSeen = now
	return client.limiter.AllowN(now, 1)
}

func (l *ipLimiters) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *ipLimiters) handler(message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			utils.RespondJSON(c, http.StatusTooManyRequests, message, nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

// NewStrictRateLimiter guards credential endpoints: 5 attempts per minute per IP.
func NewStrictRateLimiter() gin.HandlerFunc {
	return newIPLimiters(rate.Every(12*time.Second), 5).handler("too many attempts, please wait")
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		rl.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-rl.interval)
		if now.Sub(rl.lastSweep) >= rl.interval {
			rl.sweep(cutoff)
			rl.lastSweep = now
		}
		valid := make([]time.Time, 0, len(rl.ips[ip])+1)
		for _, t := range rl.ips[ip] {
			if t.After(cutoff) {
				valid = append(valid, t)
			}
		}
		if len(valid) >= rl.rate {
			rl.ips[ip] = valid
			rl.mu.Unlock()
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		rl.ips[ip] = append(valid, now)
		rl.mu.Unlock()

		c.Next()
	}
}

// sweep drops clients with no hits after cutoff. Callers hold rl.mu.
func (rl *RateLimiter) sweep(cutoff time.Time) {
	for ip, hits := range rl.ips {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(rl.ips, ip)
		}
	}
}
