// 文件: pkg/deposit/deposit.go
// 矿藏 (ResourceDeposit)
//
// 每个 (location, good) 至多一个矿藏，开采只会让 remaining 单调减少，
// 减到 0 以后对应的开采点永久停工。

package deposit

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"econsim.com/pkg/ledger"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInvalidAmount  = errors.New("deposit amount must be positive")
	ErrDepositExists  = errors.New("deposit already exists for location and good")
	ErrDepositMissing = errors.New("deposit not found")
)

// =============================================================================
// 数据模型
// =============================================================================

// Deposit 矿藏
// 不变量: 0 <= RemainingAmount <= TotalAmount
type Deposit struct {
	ID              int64        `gorm:"primaryKey;autoIncrement"`
	LocationID      int64        `gorm:"column:location_id;uniqueIndex:uk_deposit_location_good"`
	GoodID          int64        `gorm:"column:good_id;uniqueIndex:uk_deposit_location_good"`
	TotalAmount     ledger.Units `gorm:"column:total_amount"`     // 初始储量，不可变
	RemainingAmount ledger.Units `gorm:"column:remaining_amount"` // 剩余储量
	UpdatedAt       int64        `gorm:"column:updated_at;autoUpdateTime:milli"`
}

func (Deposit) TableName() string {
	return "resource_deposits"
}

// Exhausted 是否已采空
func (d *Deposit) Exhausted() bool {
	return d.RemainingAmount <= 0
}

// =============================================================================
// Repo
// =============================================================================

// Repo 矿藏仓库
type Repo struct {
	db *gorm.DB
}

// NewRepo 创建矿藏仓库
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Create 创建矿藏 (种子数据/管理接口)
func (r *Repo) Create(ctx context.Context, locationID, goodID int64, total ledger.Units) (*Deposit, error) {
	if total <= 0 {
		return nil, ErrInvalidAmount
	}
	d := &Deposit{
		LocationID:      locationID,
		GoodID:          goodID,
		TotalAmount:     total,
		RemainingAmount: total,
	}

	var exists int64
	err := r.db.WithContext(ctx).Model(&Deposit{}).
		Where("location_id = ? AND good_id = ?", locationID, goodID).
		Count(&exists).Error
	if err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, ErrDepositExists
	}

	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}
	return d, nil
}

// Get 查询矿藏 (不加锁)
func (r *Repo) Get(ctx context.Context, locationID, goodID int64) (*Deposit, error) {
	var d Deposit
	err := r.db.WithContext(ctx).
		Where("location_id = ? AND good_id = ?", locationID, goodID).
		Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDepositMissing
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// LockForUpdate 在事务中锁定矿藏行，不存在返回 nil
func (r *Repo) LockForUpdate(tx *gorm.DB, locationID, goodID int64) (*Deposit, error) {
	var d Deposit
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("location_id = ? AND good_id = ?", locationID, goodID).
		Take(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock deposit %d/%d: %w", locationID, goodID, err)
	}
	return &d, nil
}

// Drain 从已锁定的矿藏中开采，返回实际开采量 min(want, remaining)
// 不会透支，最后一次开采只拿到剩余部分是正常结果
func (r *Repo) Drain(tx *gorm.DB, d *Deposit, want ledger.Units) (ledger.Units, error) {
	if want <= 0 || d.Exhausted() {
		return 0, nil
	}
	actual := min(want, d.RemainingAmount)

	err := tx.Model(&Deposit{}).
		Where("id = ?", d.ID).
		Update("remaining_amount", d.RemainingAmount-actual).Error
	if err != nil {
		return 0, fmt.Errorf("drain deposit %d: %w", d.ID, err)
	}
	d.RemainingAmount -= actual
	return actual, nil
}
