package market

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Broadcaster / StatsUpdater
// =============================================================================

type memRecorder struct {
	mu     sync.Mutex
	events []TradeEvent
}

func (m *memRecorder) RecordTrade(_ context.Context, e TradeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	require.NoError(t, b.PublishTrade(TradeEvent{TradeID: 1}))
	assert.Equal(t, int64(1), (<-s1).TradeID)
	assert.Equal(t, int64(1), (<-s2).TradeID)

	b.Close()
	_, ok := <-s1
	assert.False(t, ok)

	// 关闭后订阅拿到已关闭的 channel
	_, ok = <-b.Subscribe()
	assert.False(t, ok)
}

func TestBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewBroadcaster()
	_ = b.Subscribe()
	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, b.PublishTrade(TradeEvent{TradeID: int64(i)}))
	}
	assert.Equal(t, int64(10), b.Dropped())
}

func TestStatsUpdater_Run(t *testing.T) {
	b := NewBroadcaster()
	rec := &memRecorder{}
	u := NewStatsUpdater(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// 先订阅再发布，否则事件在没有订阅者时被丢弃
	ch := b.Subscribe()
	done := make(chan struct{})
	go func() {
		u.Run(ctx, ch)
		close(done)
	}()

	require.NoError(t, b.PublishTrade(TradeEvent{TradeID: 1}))
	require.NoError(t, b.PublishTrade(TradeEvent{TradeID: 2}))
	require.Eventually(t, func() bool { return rec.len() == 2 }, time.Second, 5*time.Millisecond)

	b.Close()
	<-done
}

func TestStatsUpdater_HandleNATS(t *testing.T) {
	rec := &memRecorder{}
	u := NewStatsUpdater(rec)

	data, err := json.Marshal(TradeEvent{TradeID: 7, GoodID: ore, PricePerUnit: 12})
	require.NoError(t, err)
	require.NoError(t, u.HandleNATS("market.trades", data))
	require.Len(t, rec.events, 1)
	assert.Equal(t, int64(12), rec.events[0].PricePerUnit)

	assert.Error(t, u.HandleNATS("market.trades", []byte("nope")))
}

func TestMultiPublisher(t *testing.T) {
	r1, r2 := &recorder{}, &recorder{}
	m := MultiPublisher{r1, NopPublisher{}, r2}
	require.NoError(t, m.PublishTrade(TradeEvent{TradeID: 1}))
	require.NoError(t, m.PublishCancel(OrderCancelledEvent{OrderID: 2}))
	assert.Len(t, r1.trades, 1)
	assert.Len(t, r2.cancels, 1)
}

// =============================================================================
// RedisStatsCache (需要本地 Redis)
// =============================================================================

func setupRedis(t *testing.T) *RedisStatsCache {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping test; redis not available: %v", err)
	}
	client.FlushDB(context.Background())
	t.Cleanup(func() { client.Close() })
	return NewRedisStatsCache(client)
}

func TestRedisStatsCache_RecordTrade(t *testing.T) {
	cache := setupRedis(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, ok, err := cache.LastPrice(ctx, ore)
	require.NoError(t, err)
	assert.False(t, ok)

	e1 := TradeEvent{TradeID: 1, GoodID: ore, Quantity: 3, PricePerUnit: 50, ExecutedAt: at}
	e2 := TradeEvent{TradeID: 2, GoodID: ore, Quantity: 2, PricePerUnit: 55, ExecutedAt: at.Add(time.Second)}
	require.NoError(t, cache.RecordTrade(ctx, e1))
	require.NoError(t, cache.RecordTrade(ctx, e2))
	// 重复投递
	require.NoError(t, cache.RecordTrade(ctx, e2))
	// 乱序到达的旧成交
	old := TradeEvent{TradeID: 0, GoodID: ore, Quantity: 1, PricePerUnit: 10, ExecutedAt: at.Add(-time.Second)}
	require.NoError(t, cache.RecordTrade(ctx, old))

	price, lastAt, ok, err := cache.LastPrice(ctx, ore)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(55), price)
	assert.True(t, lastAt.Equal(at.Add(time.Second)))

	snap, err := cache.Snapshot(ctx, ore)
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.Volume)
	assert.Equal(t, int64(3), snap.Trades)
	assert.Equal(t, at.Add(time.Second).UnixMicro(), snap.UpdatedAt)

	recent, err := cache.RecentTrades(ctx, ore, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(2), recent[0].TradeID)
	assert.Equal(t, int64(1), recent[1].TradeID)
}

func TestRedisStatsCache_TrimsRecentTrades(t *testing.T) {
	cache := setupRedis(t)
	cache.keep = 3
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, cache.RecordTrade(ctx, TradeEvent{
			TradeID: i, GoodID: ore, Quantity: 1, PricePerUnit: 10 + i, ExecutedAt: at.Add(time.Duration(i) * time.Second),
		}))
	}
	recent, err := cache.RecentTrades(ctx, ore, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(5), recent[0].TradeID)
}
