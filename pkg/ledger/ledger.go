// 文件: pkg/ledger/ledger.go
// 库存台账 (InventoryLedger)
//
// 所有变更都在调用方的事务中执行:
// 1. SELECT ... FOR UPDATE 锁行，锁到事务提交/回滚
// 2. 锁后重新读取再做判断 (不能先读后锁)
// 3. 变更记录暂存在 TxLedger，提交成功后由调用方发布流水
//
// 锁不会跨 tick 持有。

package ledger

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInsufficientFreeInventory = errors.New("insufficient free inventory")
	ErrInventoryMissing          = errors.New("inventory missing")
	ErrNonPositiveAmount         = errors.New("amount must be positive")
)

// =============================================================================
// Ledger
// =============================================================================

// Ledger 库存台账
type Ledger struct {
	db *gorm.DB
}

// New 创建台账
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx 绑定到一个事务
func (l *Ledger) WithTx(tx *gorm.DB) *TxLedger {
	return &TxLedger{tx: tx}
}

// Get 查询库存 (不加锁，报表/测试用)
func (l *Ledger) Get(ctx context.Context, company, good int64) (*Inventory, error) {
	var inv Inventory
	err := l.db.WithContext(ctx).Where("company_id = ? AND good_id = ?", company, good).Take(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListByCompany 查询公司全部库存
func (l *Ledger) ListByCompany(ctx context.Context, company int64) ([]*Inventory, error) {
	var rows []*Inventory
	err := l.db.WithContext(ctx).Where("company_id = ?", company).Order("good_id ASC").Find(&rows).Error
	return rows, err
}

// =============================================================================
// TxLedger - 事务内的台账操作
// =============================================================================

// TxLedger 事务内台账
// 不是并发安全的，只在一个事务的 goroutine 内使用
type TxLedger struct {
	tx      *gorm.DB
	changes []Change
}

// Changes 本事务内累计的变更
func (t *TxLedger) Changes() []Change {
	return t.changes
}

// lock 锁定并重新读取库存行，不存在返回 nil
func (t *TxLedger) lock(company, good int64) (*Inventory, error) {
	var inv Inventory
	err := t.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND good_id = ?", company, good).
		Take(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock inventory %d/%d: %w", company, good, err)
	}
	return &inv, nil
}

// lockOrCreate 锁定库存行，不存在则先插入 (0, 0)
func (t *TxLedger) lockOrCreate(company, good int64) (*Inventory, error) {
	inv, err := t.lock(company, good)
	if err != nil || inv != nil {
		return inv, err
	}

	// 并发创建时唯一索引兜底，输的一方什么也不做
	row := &Inventory{CompanyID: company, GoodID: good}
	err = t.tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("create inventory %d/%d: %w", company, good, err)
	}

	inv, err = t.lock(company, good)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInventoryMissing
	}
	return inv, nil
}

// save 写回并记录变更
func (t *TxLedger) save(inv *Inventory, typ ChangeType, amount, qtyBefore, resBefore Units, ref Ref) error {
	err := t.tx.Model(&Inventory{}).
		Where("id = ?", inv.ID).
		Updates(map[string]any{
			"quantity": inv.Quantity,
			"reserved": inv.Reserved,
		}).Error
	if err != nil {
		return fmt.Errorf("update inventory %d/%d: %w", inv.CompanyID, inv.GoodID, err)
	}

	t.changes = append(t.changes, Change{
		CompanyID:      inv.CompanyID,
		GoodID:         inv.GoodID,
		Type:           typ,
		Amount:         amount,
		QuantityBefore: qtyBefore,
		QuantityAfter:  inv.Quantity,
		ReservedBefore: resBefore,
		ReservedAfter:  inv.Reserved,
		Ref:            ref,
	})
	return nil
}

// =============================================================================
// 台账操作
// =============================================================================

// Reserve 冻结 (挂卖单)
// 要求行存在且 Free >= qty
func (t *TxLedger) Reserve(company, good int64, qty Units, ref Ref) error {
	if qty <= 0 {
		return ErrNonPositiveAmount
	}
	inv, err := t.lock(company, good)
	if err != nil {
		return err
	}
	if inv == nil || inv.Free() < qty {
		return ErrInsufficientFreeInventory
	}

	qtyBefore, resBefore := inv.Quantity, inv.Reserved
	inv.Reserved += qty
	return t.save(inv, ChangeReserve, qty, qtyBefore, resBefore, ref)
}

// Release 解冻 (撤卖单)
// reserved 最低减到 0，调用方多释放也不会变负
func (t *TxLedger) Release(company, good int64, qty Units, ref Ref) error {
	if qty <= 0 {
		return ErrNonPositiveAmount
	}
	inv, err := t.lock(company, good)
	if err != nil {
		return err
	}
	if inv == nil {
		return ErrInventoryMissing
	}

	qtyBefore, resBefore := inv.Quantity, inv.Reserved
	inv.Reserved -= qty
	if inv.Reserved < 0 {
		inv.Reserved = 0
	}
	return t.save(inv, ChangeRelease, resBefore-inv.Reserved, qtyBefore, resBefore, ref)
}

// Credit 入账
// 行不存在时自动创建
func (t *TxLedger) Credit(company, good int64, qty Units, ref Ref) error {
	if qty <= 0 {
		return ErrNonPositiveAmount
	}
	inv, err := t.lockOrCreate(company, good)
	if err != nil {
		return err
	}

	qtyBefore, resBefore := inv.Quantity, inv.Reserved
	inv.Quantity += qty
	return t.save(inv, ChangeCredit, qty, qtyBefore, resBefore, ref)
}

// Debit 成交出账
// 卖单挂出时已冻结，所以 quantity 和 reserved 同时扣减
func (t *TxLedger) Debit(company, good int64, qty Units, ref Ref) error {
	if qty <= 0 {
		return ErrNonPositiveAmount
	}
	inv, err := t.lock(company, good)
	if err != nil {
		return err
	}
	if inv == nil {
		return ErrInventoryMissing
	}
	if inv.Reserved < qty || inv.Quantity < qty {
		return fmt.Errorf("debit %s from %d/%d: %w", qty, company, good, ErrInsufficientFreeInventory)
	}

	qtyBefore, resBefore := inv.Quantity, inv.Reserved
	inv.Quantity -= qty
	inv.Reserved -= qty
	return t.save(inv, ChangeDebit, qty, qtyBefore, resBefore, ref)
}

// Consume 消耗可用库存 (生产原料)
// 只动可用部分，已冻结的卖单库存不受影响
func (t *TxLedger) Consume(company, good int64, qty Units, ref Ref) error {
	if qty <= 0 {
		return ErrNonPositiveAmount
	}
	inv, err := t.lock(company, good)
	if err != nil {
		return err
	}
	if inv == nil {
		return ErrInventoryMissing
	}
	if inv.Free() < qty {
		return ErrInsufficientFreeInventory
	}

	qtyBefore, resBefore := inv.Quantity, inv.Reserved
	inv.Quantity -= qty
	return t.save(inv, ChangeConsume, qty, qtyBefore, resBefore, ref)
}

// Lock 锁定并返回库存行 (不存在返回 nil)
// 生产 tick 需要先看原料再决定扣多少
func (t *TxLedger) Lock(company, good int64) (*Inventory, error) {
	return t.lock(company, good)
}
