// 文件: pkg/journal/model.go
// 台账流水 - 事件与表结构
//
// 每次库存变更产生一条流水，事务提交后经 Kafka 投递，
// 由 DBWriter 批量幂等落库 (ledger_journals)。

package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"econsim.com/pkg/ledger"
)

// TopicLedgerJournal Kafka topic
const TopicLedgerJournal = "econsim_ledger_journal"

// =============================================================================
// JournalEvent
// =============================================================================

// JournalEvent 流水事件
type JournalEvent struct {
	EventID string `json:"event_id"` // 幂等键

	CompanyID int64 `json:"company_id"`
	GoodID    int64 `json:"good_id"`

	ChangeType ledger.ChangeType `json:"change_type"`
	Amount     ledger.Units      `json:"amount"`

	QuantityBefore ledger.Units `json:"quantity_before"`
	QuantityAfter  ledger.Units `json:"quantity_after"`
	ReservedBefore ledger.Units `json:"reserved_before"`
	ReservedAfter  ledger.Units `json:"reserved_after"`

	BizType ledger.BizType `json:"biz_type"`
	BizID   string         `json:"biz_id"`

	CreatedAt time.Time `json:"created_at"`
}

// FromChange 由台账变更构建事件
func FromChange(c ledger.Change, at time.Time) *JournalEvent {
	return &JournalEvent{
		EventID:        c.EventID(),
		CompanyID:      c.CompanyID,
		GoodID:         c.GoodID,
		ChangeType:     c.Type,
		Amount:         c.Amount,
		QuantityBefore: c.QuantityBefore,
		QuantityAfter:  c.QuantityAfter,
		ReservedBefore: c.ReservedBefore,
		ReservedAfter:  c.ReservedAfter,
		BizType:        c.Ref.Type,
		BizID:          c.Ref.ID,
		CreatedAt:      at,
	}
}

// Topic 实现 kafka.Message
func (e *JournalEvent) Topic() string {
	return TopicLedgerJournal
}

// Key 按公司分区，保证同一公司的流水有序
func (e *JournalEvent) Key() string {
	return fmt.Sprintf("%d", e.CompanyID)
}

// Value 实现 kafka.Message
func (e *JournalEvent) Value() ([]byte, error) {
	return json.Marshal(e)
}

// =============================================================================
// 数据库模型
// =============================================================================

// JournalRecord 流水表记录
type JournalRecord struct {
	ID             int64             `gorm:"primaryKey;autoIncrement"`
	EventID        string            `gorm:"column:event_id;type:varchar(128);uniqueIndex"`
	CompanyID      int64             `gorm:"column:company_id;index:idx_journal_company_good"`
	GoodID         int64             `gorm:"column:good_id;index:idx_journal_company_good"`
	ChangeType     ledger.ChangeType `gorm:"column:change_type"`
	Amount         ledger.Units      `gorm:"column:amount"`
	QuantityBefore ledger.Units      `gorm:"column:quantity_before"`
	QuantityAfter  ledger.Units      `gorm:"column:quantity_after"`
	ReservedBefore ledger.Units      `gorm:"column:reserved_before"`
	ReservedAfter  ledger.Units      `gorm:"column:reserved_after"`
	BizType        ledger.BizType    `gorm:"column:biz_type;type:varchar(16);index:idx_journal_biz"`
	BizID          string            `gorm:"column:biz_id;type:varchar(64);index:idx_journal_biz"`
	CreatedAt      time.Time         `gorm:"column:created_at;precision:6"`
}

func (JournalRecord) TableName() string {
	return "ledger_journals"
}

func (e *JournalEvent) record() *JournalRecord {
	return &JournalRecord{
		EventID:        e.EventID,
		CompanyID:      e.CompanyID,
		GoodID:         e.GoodID,
		ChangeType:     e.ChangeType,
		Amount:         e.Amount,
		QuantityBefore: e.QuantityBefore,
		QuantityAfter:  e.QuantityAfter,
		ReservedBefore: e.ReservedBefore,
		ReservedAfter:  e.ReservedAfter,
		BizType:        e.BizType,
		BizID:          e.BizID,
		CreatedAt:      e.CreatedAt,
	}
}
