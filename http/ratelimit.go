package http

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RateLimiter 按客户端地址的固定窗口限流器。客户端表由LRU限定大小，
// 被淘汰的客户端在下次请求时获得一个新窗口。
type RateLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	clients *lru.Cache[string, *rateWindow]
	now     func() time.Time
}

type rateWindow struct {
	start time.Time
	count int
}

// NewRateLimiter 创建限流器：每个客户端在window内最多limit次请求
func NewRateLimiter(limit int, window time.Duration, maxClients int) (*RateLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limit and window must be positive")
	}
	clients, err := lru.New[string, *rateWindow](maxClients)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: clients,
		now:     time.Now,
	}, nil
}

// Allow 记录一次请求；拒绝时返回距离窗口重置的时间
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.clients.Get(key)
	if !ok || now.Sub(w.start) >= l.window {
		l.clients.Add(key, &rateWindow{start: now, count: 1})
		return true, 0
	}
	if w.count >= l.limit {
		return false, w.start.Add(l.window).Sub(now)
	}
	w.count++
	return true, 0
}

// RateLimitMiddleware 速率限制中间件
func RateLimitMiddleware(limiter *RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(clientIP(r))
			if !allowed {
				seconds := int(retryAfter.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
