// 文件: pkg/market/broadcaster.go
// 进程内成交事件扇出
//
// 引擎提交后把成交广播给本进程的订阅者 (行情缓存等)。
// 每个订阅者一个带缓冲的 channel，满了直接丢弃，
// 慢订阅者不会拖住撮合事务之后的发布。

package market

import (
	"sync"
	"sync/atomic"
)

const subscriberBuffer = 1024

// Broadcaster 成交事件广播器，实现 EventPublisher
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers []chan TradeEvent
	closed      bool

	dropped atomic.Int64
}

// NewBroadcaster 创建广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe 订阅成交事件
func (b *Broadcaster) Subscribe() <-chan TradeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan TradeEvent, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// PublishTrade 非阻塞扇出
func (b *Broadcaster) PublishTrade(e TradeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// PublishCancel 撤单不需要进程内订阅
func (b *Broadcaster) PublishCancel(OrderCancelledEvent) error {
	return nil
}

// Dropped 因订阅者缓冲满而丢弃的事件数
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Close 关闭所有订阅 channel
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
	b.closed = true
}
