package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/nao1215/filterkeeper/pkg/apperr"
)

// maxLimiters は保持するクライアントごとのリミッター数の上限。超えた場合は全消去する。
const maxLimiters = 10000

// RateLimiter はクライアントIPごとにリクエスト数を制限する。
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter は1分あたりperMinute回まで許可するリミッターを生成する。
// perMinuteが0以下の場合は制限しない。
func NewRateLimiter(perMinute int) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    max(perMinute, 1),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

// Middleware は上限を超えたクライアントに429を返すGinミドルウェアを返す。
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		l := rl.limiter(c.ClientIP())
		if !l.Allow() {
			if rl.limit != rate.Inf && rl.limit > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(1/float64(rl.limit)))))
			}
			AbortWithError(c, apperr.New(apperr.KindRateLimited, "middleware.ratelimit",
				"リクエストが多すぎます。しばらくしてから再試行してください"))
			return
		}
		c.Next()
	}
}
