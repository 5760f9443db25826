// 文件: pkg/ledger/model.go
// 库存台账 - 数据模型与变更记录

package ledger

import (
	"fmt"
)

// =============================================================================
// 数据库模型
// =============================================================================

// Inventory 库存行 (company, good) 唯一
//
// 不变量: 0 <= Reserved <= Quantity
// Free = Quantity - Reserved 为可挂卖单的部分
type Inventory struct {
	ID        uint  `gorm:"primaryKey;autoIncrement"`
	CompanyID int64 `gorm:"column:company_id;uniqueIndex:uk_inventory_company_good"`
	GoodID    int64 `gorm:"column:good_id;uniqueIndex:uk_inventory_company_good"`
	Quantity  Units `gorm:"column:quantity"` // 总持有量
	Reserved  Units `gorm:"column:reserved"` // 被卖单锁定的部分
	UpdatedAt int64 `gorm:"column:updated_at;autoUpdateTime:milli"`
}

func (Inventory) TableName() string {
	return "inventories"
}

// Free 可用数量
func (i *Inventory) Free() Units {
	return i.Quantity - i.Reserved
}

// =============================================================================
// 变更类型
// =============================================================================

// ChangeType 台账变更类型
type ChangeType uint8

const (
	ChangeReserve ChangeType = 1 // 冻结 (挂卖单)
	ChangeRelease ChangeType = 2 // 解冻 (撤卖单)
	ChangeCredit  ChangeType = 3 // 入账 (开采/生产/买入)
	ChangeDebit   ChangeType = 4 // 出账 (卖出成交，扣冻结)
	ChangeConsume ChangeType = 5 // 消耗 (生产原料，扣可用)
)

func (t ChangeType) String() string {
	switch t {
	case ChangeReserve:
		return "RESERVE"
	case ChangeRelease:
		return "RELEASE"
	case ChangeCredit:
		return "CREDIT"
	case ChangeDebit:
		return "DEBIT"
	case ChangeConsume:
		return "CONSUME"
	default:
		return "UNKNOWN"
	}
}

// BizType 引起变更的业务
type BizType string

const (
	BizOrder      BizType = "ORDER"
	BizTrade      BizType = "TRADE"
	BizExtraction BizType = "EXTRACTION"
	BizProduction BizType = "PRODUCTION"
	BizJob        BizType = "JOB"
)

// Ref 业务引用
type Ref struct {
	Type BizType
	ID   string
}

// OrderRef 订单引用
func OrderRef(orderID int64) Ref {
	return Ref{Type: BizOrder, ID: fmt.Sprintf("%d", orderID)}
}

// TradeRef 成交引用
func TradeRef(tradeID int64) Ref {
	return Ref{Type: BizTrade, ID: fmt.Sprintf("%d", tradeID)}
}

// =============================================================================
// Change - 单次台账变更
// =============================================================================

// Change 单次台账变更 (事务提交后交给 journal 发布)
type Change struct {
	CompanyID      int64
	GoodID         int64
	Type           ChangeType
	Amount         Units
	QuantityBefore Units
	QuantityAfter  Units
	ReservedBefore Units
	ReservedAfter  Units
	Ref            Ref
}

// EventID 幂等键
// 同一业务对同一行的同类变更只会发生一次
func (c Change) EventID() string {
	return fmt.Sprintf("%s_%s_%s_%d_%d", c.Type, c.Ref.Type, c.Ref.ID, c.CompanyID, c.GoodID)
}
