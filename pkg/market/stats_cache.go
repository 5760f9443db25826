// 文件: pkg/market/stats_cache.go
// 行情缓存 (Redis)
//
// market:stats:{good}  hash: last_price / last_qty / volume / trades / updated_at
// market:trades:{good} zset: 最近成交，score 为成交时间 (微秒)，member 为 id:price:qty
//
// updated_at 是最新一笔成交的成交时间 (微秒)，读方据此判断缓存是否落后于成交表。

package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRecentTrades 每个商品保留的最近成交数
const DefaultRecentTrades = 200

// CachedStats 缓存里的行情
type CachedStats struct {
	LastPrice int64
	LastQty   int64
	Volume    int64
	Trades    int64
	UpdatedAt int64 // 微秒
}

// RecentTrade 最近成交
type RecentTrade struct {
	TradeID  int64
	Price    int64
	Quantity int64
	At       int64 // 微秒
}

// RedisStatsCache Redis 行情缓存
type RedisStatsCache struct {
	client *redis.Client
	keep   int64
}

// NewRedisStatsCache 创建缓存
func NewRedisStatsCache(client *redis.Client) *RedisStatsCache {
	return &RedisStatsCache{client: client, keep: DefaultRecentTrades}
}

// NewRedisStatsCacheAddr 按地址连接
func NewRedisStatsCacheAddr(addr string) *RedisStatsCache {
	return NewRedisStatsCache(redis.NewClient(&redis.Options{Addr: addr}))
}

func statsKey(goodID int64) string {
	return "market:stats:" + strconv.FormatInt(goodID, 10)
}

func tradesKey(goodID int64) string {
	return "market:trades:" + strconv.FormatInt(goodID, 10)
}

// luaRecordTrade 记录一笔成交
// KEYS[1]: statsKey
// KEYS[2]: tradesKey
// ARGV[1]: member (id:price:qty)
// ARGV[2]: price
// ARGV[3]: qty
// ARGV[4]: ts (µs)
// ARGV[5]: keep
const luaRecordTrade = `
	-- 重复投递的成交直接忽略
	if redis.call('ZADD', KEYS[2], 'NX', ARGV[4], ARGV[1]) == 0 then
		return 0
	end
	redis.call('ZREMRANGEBYRANK', KEYS[2], 0, -(tonumber(ARGV[5]) + 1))

	-- 乱序到达的旧成交不覆盖最新价
	local cur = redis.call('HGET', KEYS[1], 'updated_at')
	if (not cur) or tonumber(cur) <= tonumber(ARGV[4]) then
		redis.call('HSET', KEYS[1], 'last_price', ARGV[2], 'last_qty', ARGV[3], 'updated_at', ARGV[4])
	end
	redis.call('HINCRBY', KEYS[1], 'volume', ARGV[3])
	redis.call('HINCRBY', KEYS[1], 'trades', 1)
	return 1
`

// RecordTrade 记录成交
func (c *RedisStatsCache) RecordTrade(ctx context.Context, e TradeEvent) error {
	member := fmt.Sprintf("%d:%d:%d", e.TradeID, e.PricePerUnit, e.Quantity)
	return c.client.Eval(ctx, luaRecordTrade,
		[]string{statsKey(e.GoodID), tradesKey(e.GoodID)},
		member, e.PricePerUnit, e.Quantity, e.ExecutedAt.UnixMicro(), c.keep,
	).Err()
}

// LastPrice 实现 LastPriceSource，同时返回该价格对应的成交时间
func (c *RedisStatsCache) LastPrice(ctx context.Context, goodID int64) (int64, time.Time, bool, error) {
	vals, err := c.client.HMGet(ctx, statsKey(goodID), "last_price", "updated_at").Result()
	if err != nil {
		return 0, time.Time{}, false, err
	}
	priceStr, _ := vals[0].(string)
	atStr, _ := vals[1].(string)
	if priceStr == "" || atStr == "" {
		return 0, time.Time{}, false, nil
	}
	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("parse last_price %q: %w", priceStr, err)
	}
	at, err := strconv.ParseInt(atStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("parse updated_at %q: %w", atStr, err)
	}
	return price, time.UnixMicro(at).UTC(), true, nil
}

// Snapshot 读取整张统计，不存在返回 nil
func (c *RedisStatsCache) Snapshot(ctx context.Context, goodID int64) (*CachedStats, error) {
	m, err := c.client.HGetAll(ctx, statsKey(goodID)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	parse := func(k string) int64 {
		n, _ := strconv.ParseInt(m[k], 10, 64)
		return n
	}
	return &CachedStats{
		LastPrice: parse("last_price"),
		LastQty:   parse("last_qty"),
		Volume:    parse("volume"),
		Trades:    parse("trades"),
		UpdatedAt: parse("updated_at"),
	}, nil
}

// RecentTrades 最近 n 笔成交，新的在前
func (c *RedisStatsCache) RecentTrades(ctx context.Context, goodID int64, n int64) ([]RecentTrade, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := c.client.ZRevRangeWithScores(ctx, tradesKey(goodID), 0, n-1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]RecentTrade, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		parts := strings.Split(member, ":")
		if len(parts) != 3 {
			continue
		}
		id, _ := strconv.ParseInt(parts[0], 10, 64)
		price, _ := strconv.ParseInt(parts[1], 10, 64)
		qty, _ := strconv.ParseInt(parts[2], 10, 64)
		out = append(out, RecentTrade{TradeID: id, Price: price, Quantity: qty, At: int64(z.Score)})
	}
	return out, nil
}

// Close 关闭连接
func (c *RedisStatsCache) Close() error {
	return c.client.Close()
}
