// 文件: pkg/company/repo.go
// 公司资金仓库 (GORM 实现)
//
// 撮合成交时在同一个事务里锁定买卖双方的公司行，
// 按 ID 升序加锁，避免两笔方向相反的成交互相等待。

package company

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrCompanyNotFound  = errors.New("company not found")
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrGoodNotFound     = errors.New("good not found")
)

// =============================================================================
// Repo
// =============================================================================

// Repo 公司仓库
type Repo struct {
	db *gorm.DB
}

// NewRepo 创建公司仓库
func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Create 创建公司
func (r *Repo) Create(ctx context.Context, c *Company) error {
	if c.Cash < 0 {
		return ErrInsufficientCash
	}
	return r.db.WithContext(ctx).Create(c).Error
}

// Get 查询公司
func (r *Repo) Get(ctx context.Context, id int64) (*Company, error) {
	var c Company
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// LockForUpdate 按 ID 升序锁定多家公司
// 重复 ID 只锁一次 (自成交时买卖方是同一家)
func (r *Repo) LockForUpdate(tx *gorm.DB, ids ...int64) (map[int64]*Company, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	locked := make(map[int64]*Company, len(sorted))
	for _, id := range sorted {
		var c Company
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("company %d: %w", id, ErrCompanyNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("lock company %d: %w", id, err)
		}
		locked[id] = &c
	}
	return locked, nil
}

// AdjustCash 调整已锁定公司的现金
// 结果为负时拒绝，调用方负责先判断
func (r *Repo) AdjustCash(tx *gorm.DB, c *Company, delta int64) error {
	if c.Cash+delta < 0 {
		return ErrInsufficientCash
	}
	err := tx.Model(&Company{}).
		Where("id = ?", c.ID).
		Update("cash", c.Cash+delta).Error
	if err != nil {
		return fmt.Errorf("adjust cash %d: %w", c.ID, err)
	}
	c.Cash += delta
	return nil
}

// =============================================================================
// 商品参考数据
// =============================================================================

// CreateGood 创建商品
func (r *Repo) CreateGood(ctx context.Context, g *Good) error {
	return r.db.WithContext(ctx).Create(g).Error
}

// GetGood 查询商品
func (r *Repo) GetGood(ctx context.Context, id int64) (*Good, error) {
	var g Good
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGoodNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGoods 列出全部商品
func (r *Repo) ListGoods(ctx context.Context) ([]*Good, error) {
	var goods []*Good
	err := r.db.WithContext(ctx).Order("id ASC").Find(&goods).Error
	return goods, err
}

// Exists 公司是否存在 (事务内，不加锁)
func (r *Repo) Exists(tx *gorm.DB, id int64) (bool, error) {
	var n int64
	if err := tx.Model(&Company{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
