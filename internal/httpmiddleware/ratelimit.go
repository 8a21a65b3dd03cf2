package httpmiddleware

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"schoolattendance/internal/clock"
	"schoolattendance/internal/metrics"
)

// Limiter decides whether a request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// GinMiddleware enforces per-IP limits. When the limiter itself fails the
// request is let through; rate limiting is not an access control.
func GinMiddleware(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		ok, err := l.Allow(c.Request.Context(), ip)
		if err != nil {
			log.Printf("rate limiter unavailable: %v", err)
			c.Next()
			return
		}
		if !ok {
			metrics.RateLimited.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"kind": "rate_limited", "message": "too many requests"}})
			return
		}
		c.Next()
	}
}

// SimpleTokenBucket is an in-memory rate limiter for a single instance.
type SimpleTokenBucket struct {
	capacity int
	rate     int
	clock    clock.Clock
	mu       sync.Mutex
	state    map[string]*bucket
	swept    time.Time
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewSimpleTokenBucket creates limiter with capacity tokens and rate per minute.
func NewSimpleTokenBucket(capacity, perMinute int, clk clock.Clock) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	if clk == nil {
		clk = clock.Real(time.UTC)
	}
	return &SimpleTokenBucket{
		capacity: capacity,
		rate:     perMinute,
		clock:    clk,
		state:    make(map[string]*bucket),
		swept:    clk.Now(),
	}
}

// sweepInterval bounds how often Allow scans for idle buckets.
const sweepInterval = time.Minute

func (l *SimpleTokenBucket) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if now.Sub(l.swept) >= sweepInterval {
		l.sweep(now)
	}
	b, ok := l.state[key]
	if !ok {
		b = &bucket{tokens: l.capacity - 1, last: now}
		l.state[key] = b
		return true, nil
	}
	refill := l.refill(b, now)
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

func (l *SimpleTokenBucket) refill(b *bucket, now time.Time) int {
	return int(now.Sub(b.last).Minutes() * float64(l.rate))
}

// sweep drops buckets that would be full again; a new bucket starts full, so
// forgetting them changes no decision.
func (l *SimpleTokenBucket) sweep(now time.Time) {
	for key, b := range l.state {
		if b.tokens+l.refill(b, now) >= l.capacity {
			delete(l.state, key)
		}
	}
	l.swept = now
}

// RedisWindow is a fixed one-minute window counter shared by all instances.
type RedisWindow struct {
	client *redis.Client
	prefix string
	limit  int
	clock  clock.Clock
}

func NewRedisWindow(client *redis.Client, perMinute int, clk clock.Clock) *RedisWindow {
	if clk == nil {
		clk = clock.Real(time.UTC)
	}
	return &RedisWindow{client: client, prefix: "attendance:ratelimit:", limit: perMinute, clock: clk}
}

func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	window := l.clock.Now().Unix() / 60
	k := l.prefix + key + ":" + strconv.FormatInt(window, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.limit), nil
}
