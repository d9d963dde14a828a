package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaAdjustStockIfCached 仅在缓存存在时增减，结果不低于 0；缓存缺失时返回 -1，交给下一次读取回源。
const luaAdjustStockIfCached = `
local stockKey = KEYS[1]
local delta = tonumber(ARGV[1])

if redis.call('EXISTS', stockKey) == 0 then
  return -1
end
local v = redis.call('INCRBY', stockKey, delta)
if v < 0 then
  redis.call('SET', stockKey, 0, 'KEEPTTL')
  return 0
end
return v
`

// StockCache 商品可售卡密数量的展示缓存。数据库是唯一的事实来源，缓存只服务于列表展示。
type StockCache struct {
	rdb *rd.Client
	ttl time.Duration
}

func NewStockCache(rdb *rd.Client, ttl time.Duration) *StockCache {
	return &StockCache{rdb: rdb, ttl: ttl}
}

// Get 读取缓存，found=false 表示未命中。
func (c *StockCache) Get(ctx context.Context, productID uint) (int64, bool, error) {
	v, err := c.rdb.Get(ctx, StockKey(productID)).Result()
	if errors.Is(err, rd.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// Set 回源后写入缓存。
func (c *StockCache) Set(ctx context.Context, productID uint, available int64) error {
	return c.rdb.Set(ctx, StockKey(productID), available, c.ttl).Err()
}

// AdjustAvailable 下单预占（负数）或过期释放（正数）后同步调整缓存。
func (c *StockCache) AdjustAvailable(ctx context.Context, productID uint, delta int64) error {
	return c.rdb.Eval(ctx, luaAdjustStockIfCached, []string{StockKey(productID)}, delta).Err()
}

// Invalidate 删除缓存，管理端导入卡密后调用。
func (c *StockCache) Invalidate(ctx context.Context, productID uint) error {
	return c.rdb.Del(ctx, StockKey(productID)).Err()
}
