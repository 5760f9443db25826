// 文件: pkg/market/stats_updater.go
// 成交事件 -> 行情缓存
// 事件可以来自进程内 Broadcaster，也可以来自 NATS 订阅

package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// TradeRecorder 记录成交的缓存
type TradeRecorder interface {
	RecordTrade(ctx context.Context, e TradeEvent) error
}

// StatsUpdater 行情缓存更新器
type StatsUpdater struct {
	cache   TradeRecorder
	timeout time.Duration
}

// NewStatsUpdater 创建更新器
func NewStatsUpdater(cache TradeRecorder) *StatsUpdater {
	return &StatsUpdater{cache: cache, timeout: 2 * time.Second}
}

// Apply 处理一笔成交
func (u *StatsUpdater) Apply(ctx context.Context, e TradeEvent) error {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	return u.cache.RecordTrade(ctx, e)
}

// Run 消费 channel 直到关闭或 ctx 结束
func (u *StatsUpdater) Run(ctx context.Context, events <-chan TradeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := u.Apply(ctx, e); err != nil {
				log.Printf("[Market] stats cache update trade=%d: %v", e.TradeID, err)
			}
		}
	}
}

// HandleNATS 作为 nats.MessageHandler 使用
func (u *StatsUpdater) HandleNATS(subject string, data []byte) error {
	var e TradeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("decode %s: %w", subject, err)
	}
	return u.Apply(context.Background(), e)
}
