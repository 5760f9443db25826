// 文件: pkg/journal/publisher.go
// 台账流水发布器
//
// 只在事务提交成功之后调用，回滚的变更永远不会被发布。

package journal

import (
	"sync"
	"time"

	"econsim.com/pkg/kafka"
	"econsim.com/pkg/ledger"
)

// Publisher 流水发布接口
type Publisher interface {
	Publish(changes []ledger.Change) error
}

// NopPublisher 丢弃流水 (未配置 Kafka 时)
type NopPublisher struct{}

func (NopPublisher) Publish([]ledger.Change) error { return nil }

// =============================================================================
// KafkaPublisher
// =============================================================================

// KafkaPublisher 通过 Kafka 发布流水
type KafkaPublisher struct {
	producer *kafka.Producer
	now      func() time.Time
}

// NewKafkaPublisher 创建 Kafka 发布器
func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	producer, err := kafka.NewProducer(kafka.DefaultProducerConfig(brokers))
	if err != nil {
		return nil, err
	}
	return &KafkaPublisher{producer: producer, now: time.Now}, nil
}

// Publish 发布一个事务内的全部变更
func (p *KafkaPublisher) Publish(changes []ledger.Change) error {
	if len(changes) == 0 {
		return nil
	}
	at := p.now()
	msgs := make([]kafka.Message, 0, len(changes))
	for _, c := range changes {
		msgs = append(msgs, FromChange(c, at))
	}
	return p.producer.SendBatch(msgs)
}

// Stats 生产者统计
func (p *KafkaPublisher) Stats() kafka.ProducerStats {
	return p.producer.Stats()
}

// Close 关闭
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// =============================================================================
// MemoryPublisher - 本地开发/测试用
// =============================================================================

// MemoryPublisher 把流水留在内存里
type MemoryPublisher struct {
	mu      sync.Mutex
	changes []ledger.Change
}

// NewMemoryPublisher 创建内存发布器
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 追加变更
func (p *MemoryPublisher) Publish(changes []ledger.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, changes...)
	return nil
}

// Changes 已发布的变更副本
func (p *MemoryPublisher) Changes() []ledger.Change {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ledger.Change, len(p.changes))
	copy(out, p.changes)
	return out
}
