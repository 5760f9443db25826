// 文件: pkg/journal/db_writer.go
// 台账流水落库
//
// 消费 Kafka 流水事件，写入 ledger_journals:
// - 攒批写入提高吞吐
// - event_id 唯一索引 + ON CONFLICT DO NOTHING 保证幂等

package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"econsim.com/pkg/kafka"
)

// =============================================================================
// Repo
// =============================================================================

// Repo 流水仓库
type Repo struct {
	db *gorm.DB
}

// NewRepo 创建流水仓库
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// BatchInsert 批量插入，重复 event_id 忽略
func (r *Repo) BatchInsert(ctx context.Context, events []*JournalEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*JournalRecord, 0, len(events))
	for _, e := range events {
		records = append(records, e.record())
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		CreateInBatches(records, 100).Error
}

// ListByBiz 按业务查询流水
func (r *Repo) ListByBiz(ctx context.Context, bizType, bizID string) ([]*JournalRecord, error) {
	var records []*JournalRecord
	err := r.db.WithContext(ctx).
		Where("biz_type = ? AND biz_id = ?", bizType, bizID).
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// ListByCompany 查询公司某商品的流水
func (r *Repo) ListByCompany(ctx context.Context, companyID, goodID int64, limit int) ([]*JournalRecord, error) {
	var records []*JournalRecord
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND good_id = ?", companyID, goodID).
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

// =============================================================================
// DBWriter
// =============================================================================

// DBWriterConfig 配置
type DBWriterConfig struct {
	Brokers       []string
	GroupID       string
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultDBWriterConfig 默认配置
func DefaultDBWriterConfig(brokers []string) DBWriterConfig {
	return DBWriterConfig{
		Brokers:       brokers,
		GroupID:       "econsim_journal_writer",
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
	}
}

// DBWriterStats 写入统计
type DBWriterStats struct {
	ReceivedCount int64
	WrittenCount  int64
	ErrorCount    int64
	BatchCount    int64
}

// DBWriter 流水写入器
type DBWriter struct {
	repo     *Repo
	consumer *kafka.Consumer

	buffer    []*JournalEvent
	bufferMu  sync.Mutex
	batchSize int
	flushCh   chan struct{}

	stats   DBWriterStats
	statsMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newDBWriter(repo *Repo, batchSize int) *DBWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DBWriter{
		repo:      repo,
		buffer:    make([]*JournalEvent, 0, batchSize),
		batchSize: batchSize,
		flushCh:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// NewDBWriter 创建写入器并订阅流水 topic
func NewDBWriter(cfg DBWriterConfig, repo *Repo) (*DBWriter, error) {
	w := newDBWriter(repo, cfg.BatchSize)

	consumerCfg := kafka.DefaultConsumerConfig(cfg.Brokers, cfg.GroupID, []string{TopicLedgerJournal})
	consumer, err := kafka.NewConsumer(consumerCfg, w.handleMessage)
	if err != nil {
		w.cancel()
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	w.consumer = consumer
	return w, nil
}

// handleMessage 处理单条消息
func (w *DBWriter) handleMessage(topic string, partition int32, offset int64, key, value []byte) error {
	var event JournalEvent
	if err := json.Unmarshal(value, &event); err != nil {
		w.addStats(func(s *DBWriterStats) { s.ErrorCount++ })
		return fmt.Errorf("unmarshal journal event: %w", err)
	}
	w.addStats(func(s *DBWriterStats) { s.ReceivedCount++ })

	w.bufferMu.Lock()
	w.buffer = append(w.buffer, &event)
	full := len(w.buffer) >= w.batchSize
	w.bufferMu.Unlock()

	if full {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// flush 把缓冲写入数据库
// 失败的批次放回缓冲头部，下次重试
func (w *DBWriter) flush() {
	w.bufferMu.Lock()
	events := w.buffer
	w.buffer = make([]*JournalEvent, 0, w.batchSize)
	w.bufferMu.Unlock()

	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.repo.BatchInsert(ctx, events); err != nil {
		w.addStats(func(s *DBWriterStats) { s.ErrorCount++ })
		log.Printf("[Journal] batch insert error: %v", err)

		w.bufferMu.Lock()
		w.buffer = append(events, w.buffer...)
		w.bufferMu.Unlock()
		return
	}

	w.addStats(func(s *DBWriterStats) {
		s.WrittenCount += int64(len(events))
		s.BatchCount++
	})
}

func (w *DBWriter) addStats(fn func(s *DBWriterStats)) {
	w.statsMu.Lock()
	fn(&w.stats)
	w.statsMu.Unlock()
}

// Start 启动消费与定时刷新
func (w *DBWriter) Start(flushInterval time.Duration) {
	if w.consumer != nil {
		w.consumer.Start()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				w.flush()
				return
			case <-ticker.C:
				w.flush()
			case <-w.flushCh:
				w.flush()
			}
		}
	}()
}

// Stop 停止写入器，最后刷一次
func (w *DBWriter) Stop() error {
	w.cancel()
	w.wg.Wait()
	if w.consumer != nil {
		return w.consumer.Stop()
	}
	return nil
}

// Stats 统计快照
func (w *DBWriter) Stats() DBWriterStats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}
