// 文件: pkg/kafka/producer.go
// Kafka 生产者
//
// 台账流水在事务提交后批量投递:
// - 异步发送，不阻塞撮合/tick 的请求路径
// - 按 Key 分区，同一公司的流水保持顺序
// - 关闭时等待错误通道排空

package kafka

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

var ErrProducerClosed = errors.New("producer is closed")

// =============================================================================
// Message 接口
// =============================================================================

// Message 可投递的消息
type Message interface {
	Topic() string
	Key() string
	Value() ([]byte, error)
}

// =============================================================================
// 配置
// =============================================================================

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers        []string      // broker 地址
	ClientID       string        // 客户端标识
	RequiredAcks   int           // 0=不等待, 1=leader 确认, -1=全部确认
	Compression    string        // none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration // 批量刷新间隔
	FlushMessages  int           // 批量消息数
	MaxRetries     int
}

// DefaultProducerConfig 默认配置
// 流水是审计数据，默认等全部副本确认
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:        brokers,
		ClientID:       "econsim",
		RequiredAcks:   -1,
		Compression:    "snappy",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     5,
	}
}

func (cfg ProducerConfig) saramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}

	switch cfg.RequiredAcks {
	case 0:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Flush.Frequency = cfg.FlushFrequency
	sc.Producer.Flush.Messages = cfg.FlushMessages
	sc.Producer.Retry.Max = cfg.MaxRetries
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	return sc
}

// =============================================================================
// Producer
// =============================================================================

// Producer 异步生产者
type Producer struct {
	producer sarama.AsyncProducer

	sentCount  atomic.Int64
	errorCount atomic.Int64

	closed atomic.Bool
	mu     sync.RWMutex // 保护 Input() 与 Close 的竞争
	wg     sync.WaitGroup
}

// NewProducer 创建生产者
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, cfg.saramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return newProducer(producer), nil
}

func newProducer(producer sarama.AsyncProducer) *Producer {
	p := &Producer{producer: producer}
	p.wg.Add(1)
	go p.handleErrors()
	return p
}

// Send 发送单条消息
func (p *Producer) Send(msg Message) error {
	return p.SendBatch([]Message{msg})
}

// SendBatch 发送一批消息
// 先全部序列化，任意一条失败则整批不发
func (p *Producer) SendBatch(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	batch := make([]*sarama.ProducerMessage, 0, len(msgs))
	for _, msg := range msgs {
		data, err := msg.Value()
		if err != nil {
			return fmt.Errorf("serialize message: %w", err)
		}
		batch = append(batch, &sarama.ProducerMessage{
			Topic: msg.Topic(),
			Key:   sarama.StringEncoder(msg.Key()),
			Value: sarama.ByteEncoder(data),
		})
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrProducerClosed
	}
	for _, m := range batch {
		p.producer.Input() <- m
	}
	p.sentCount.Add(int64(len(batch)))
	return nil
}

func (p *Producer) handleErrors() {
	defer p.wg.Done()
	for err := range p.producer.Errors() {
		p.errorCount.Add(1)
		log.Printf("[Kafka] send error: topic=%s, err=%v", err.Msg.Topic, err.Err)
	}
}

// ProducerStats 统计
type ProducerStats struct {
	SentCount  int64
	ErrorCount int64
}

// Stats 获取统计
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		SentCount:  p.sentCount.Load(),
		ErrorCount: p.errorCount.Load(),
	}
}

// Close 关闭生产者，等待错误处理退出
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	err := p.producer.Close()
	p.wg.Wait()
	return err
}
