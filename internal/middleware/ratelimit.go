package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	redispkg "card_shop/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// 滑动窗口限流，毫秒精度，原子执行。
// KEYS[1]=限流 key；ARGV[1]=当前毫秒，ARGV[2]=窗口毫秒，ARGV[3]=上限，ARGV[4]=本次请求 member
// 返回 {allowed(1/0), 窗口内请求数, 需要等待的毫秒}
var rateLimitScript = rd.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local wait = window
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    wait = tonumber(oldest[2]) + window - now
  end
  return {0, count, wait}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, count + 1, 0}
`)

// 读取 body 时的上限，下单请求远小于此
const maxPeekBody = 64 << 10

// RedisRateLimit 按 scope 做分布式限流，rdb 为 nil 或 Redis 出错时放行。
// 限流主体依次取：已登录用户、请求 body 中的 email、客户端 IP。
func RedisRateLimit(rdb *rd.Client, scope string, limit int, window time.Duration) gin.HandlerFunc {
	if window < time.Millisecond {
		window = time.Second
	}
	return func(c *gin.Context) {
		if rdb == nil || limit <= 0 {
			c.Next()
			return
		}

		key := redispkg.RateLimitKey(scope, rateLimitSubject(c))
		now := time.Now().UnixMilli()
		res, err := rateLimitScript.Run(c.Request.Context(), rdb, []string{key},
			now, window.Milliseconds(), limit, strconv.FormatInt(now, 10)+"-"+uuid.NewString()).Int64Slice()
		if err != nil || len(res) != 3 {
			log.WithError(err).WithField("key", key).Debug("rate limit: redis unavailable, allowing request")
			c.Next()
			return
		}

		allowed, count, waitMs := res[0] == 1, res[1], res[2]
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(int64(limit)-count, 0), 10))
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(waitMs)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":   429,
				"msg":    "请求过于频繁，请稍后再试",
				"reason": "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// retryAfterSeconds 毫秒向上取整为秒，至少 1 秒。
func retryAfterSeconds(waitMs int64) int {
	if waitMs <= 0 {
		return 1
	}
	return int((waitMs + 999) / 1000)
}

func rateLimitSubject(c *gin.Context) string {
	if claims, ok := CurrentUser(c); ok {
		return "user:" + claims.UserID
	}
	if email := peekEmail(c); email != "" {
		return "email:" + strings.ToLower(email)
	}
	return "ip:" + c.ClientIP()
}

// peekEmail 读出 body 中的 email 后把 body 还原，后续 handler 可以照常绑定。
func peekEmail(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPeekBody))
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), c.Request.Body))

	var req struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(body, &req) != nil {
		return ""
	}
	return strings.TrimSpace(req.Email)
}
