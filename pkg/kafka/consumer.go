// 文件: pkg/kafka/consumer.go
// Kafka 消费者组
//
// 处理失败只记日志并继续，offset 照常标记;
// 下游写入是幂等的 (按 event_id 去重)，重放不会重复入账。

package kafka

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	OffsetInitial int64 // sarama.OffsetNewest / sarama.OffsetOldest
	AutoCommit    bool
}

// DefaultConsumerConfig 默认配置
// 流水落库从最早的 offset 开始，新消费者组不会漏数据
func DefaultConsumerConfig(brokers []string, groupID string, topics []string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupID,
		Topics:        topics,
		OffsetInitial: sarama.OffsetOldest,
		AutoCommit:    true,
	}
}

// MessageHandler 消息处理函数
type MessageHandler func(topic string, partition int32, offset int64, key, value []byte) error

// Consumer 消费者组封装
type Consumer struct {
	client  sarama.ConsumerGroup
	config  ConsumerConfig
	handler MessageHandler

	stats consumerStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const retryBackoff = 2 * time.Second

// NewConsumer 创建消费者
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = cfg.OffsetInitial
	sc.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommit

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		client:  client,
		config:  cfg,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
	return c, nil
}

// Start 启动消费 (rebalance 后自动重新加入)
// broker 不可用时按 retryBackoff 退避，避免空转刷日志
func (c *Consumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		h := &groupHandler{handler: c.handler, stats: &c.stats}
		for {
			err := c.client.Consume(c.ctx, c.config.Topics, h)
			if c.ctx.Err() != nil {
				return
			}
			if err != nil {
				log.Printf("[Kafka] consume %v: %v", c.config.Topics, err)
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(retryBackoff):
				}
			}
		}
	}()
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// ConsumerStats 消费统计
type ConsumerStats struct {
	Handled int64
	Failed  int64
}

// Stats 统计快照
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Handled: c.stats.handled.Load(),
		Failed:  c.stats.failed.Load(),
	}
}

type consumerStats struct {
	handled atomic.Int64
	failed  atomic.Int64
}

type groupHandler struct {
	handler MessageHandler
	stats   *consumerStats
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.handle(msg)
		session.MarkMessage(msg, "")
	}
	return nil
}

func (h *groupHandler) handle(msg *sarama.ConsumerMessage) {
	if err := h.handler(msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value); err != nil {
		h.stats.failed.Add(1)
		log.Printf("[Kafka] handle %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		return
	}
	h.stats.handled.Add(1)
}
