// 文件: pkg/extraction/ticker.go
// 开采 tick (ExtractionTicker)
//
// 每个 tick 全量扫描活跃开采点，每个开采点一个独立事务:
//
//	锁开采点 -> 重新读取 -> 累计 -> (整数产出时) 锁矿藏 -> 开采 -> 入账
//
// 开采点之间没有全局锁，一个开采点失败只回滚它自己，
// 错误在扫描结束后合并返回。

package extraction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"econsim.com/pkg/accrual"
	"econsim.com/pkg/deposit"
	"econsim.com/pkg/journal"
	"econsim.com/pkg/ledger"
	"econsim.com/pkg/metrics"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInvalidRate = errors.New("rate per hour must be positive")
	ErrSiteExists  = errors.New("extraction site already exists for location and good")
	ErrSiteMissing = errors.New("extraction site not found")
)

// Result 一次 tick 的汇总
type Result struct {
	SitesProcessed int          // 成功提交的开采点数
	TotalProduced  ledger.Units // 本次入账总量
	Deactivated    int          // 本次停工的开采点数
}

// siteOutcome 单个开采点的处理结果
type siteOutcome struct {
	produced    ledger.Units
	deactivated bool
}

// =============================================================================
// Ticker
// =============================================================================

// Ticker 开采 tick
type Ticker struct {
	db       *gorm.DB
	ledger   *ledger.Ledger
	deposits *deposit.Repo
	journal  journal.Publisher
}

// NewTicker 创建开采 tick
func NewTicker(db *gorm.DB, l *ledger.Ledger, deposits *deposit.Repo, pub journal.Publisher) *Ticker {
	return &Ticker{db: db, ledger: l, deposits: deposits, journal: pub}
}

// CreateSite 创建开采点 (种子数据/管理接口)
// 新建的开采点处于未初始化状态，第一次 tick 只打时间戳
func (t *Ticker) CreateSite(ctx context.Context, companyID, locationID, goodID int64, ratePerHour decimal.Decimal) (*Site, error) {
	if !ratePerHour.IsPositive() {
		return nil, ErrInvalidRate
	}

	var exists int64
	err := t.db.WithContext(ctx).Model(&Site{}).
		Where("location_id = ? AND good_id = ?", locationID, goodID).
		Count(&exists).Error
	if err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, ErrSiteExists
	}

	site := &Site{
		CompanyID:        companyID,
		LocationID:       locationID,
		GoodID:           goodID,
		RatePerHour:      ratePerHour,
		Active:           true,
		ProductionBuffer: decimal.Zero,
	}
	if err := t.db.WithContext(ctx).Create(site).Error; err != nil {
		return nil, fmt.Errorf("create extraction site: %w", err)
	}
	return site, nil
}

// GetSite 查询开采点
func (t *Ticker) GetSite(ctx context.Context, id int64) (*Site, error) {
	var site Site
	err := t.db.WithContext(ctx).Where("id = ?", id).Take(&site).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSiteMissing
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// Tick 处理全部活跃开采点
// speed 为本次 tick 的速度倍率，由调用方传入
func (t *Ticker) Tick(ctx context.Context, now time.Time, speed float64) (Result, error) {
	now = accrual.Normalize(now)

	var ids []int64
	err := t.db.WithContext(ctx).Model(&Site{}).
		Where("active = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return Result{}, fmt.Errorf("scan extraction sites: %w", err)
	}

	var (
		result Result
		errs   []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		out, err := t.tickSite(ctx, id, now, speed)
		if err != nil {
			metrics.TickErrors.WithLabelValues("extraction").Inc()
			log.Printf("[Extraction] site %d failed: %v", id, err)
			errs = append(errs, fmt.Errorf("site %d: %w", id, err))
			continue
		}

		result.SitesProcessed++
		result.TotalProduced += out.produced
		if out.deactivated {
			result.Deactivated++
		}
	}

	metrics.UnitsExtracted.Add(float64(result.TotalProduced.WholeUnits()))
	metrics.SitesDeactivated.Add(float64(result.Deactivated))
	return result, errors.Join(errs...)
}

// tickSite 单个开采点的事务
func (t *Ticker) tickSite(ctx context.Context, siteID int64, now time.Time, speed float64) (siteOutcome, error) {
	var (
		out     siteOutcome
		changes []ledger.Change
	)

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁后重新读取，扫描时看到的状态可能已经过期
		var site Site
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", siteID).
			Take(&site).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock site: %w", err)
		}
		if !site.Active {
			return nil
		}

		step := accrual.Advance(site.Schedule(), now, speed, site.RatePerHour, site.ProductionBuffer)
		switch step.Kind {
		case accrual.KindInitialize:
			return t.saveSite(tx, &site, map[string]any{"last_extracted_at": now})
		case accrual.KindStale:
			return nil
		}

		if step.Whole <= 0 {
			return t.saveSite(tx, &site, map[string]any{
				"production_buffer": step.Exact.Round(accrual.BufferPlaces),
				"last_extracted_at": now,
			})
		}

		dep, err := t.deposits.LockForUpdate(tx, site.LocationID, site.GoodID)
		if err != nil {
			return err
		}
		if dep == nil || dep.Exhausted() {
			out.deactivated = true
			return t.saveSite(tx, &site, map[string]any{
				"active":            false,
				"last_extracted_at": now,
			})
		}

		actual, err := t.deposits.Drain(tx, dep, ledger.Whole(step.Whole))
		if err != nil {
			return err
		}

		tl := t.ledger.WithTx(tx)
		ref := ledger.Ref{Type: ledger.BizExtraction, ID: fmt.Sprintf("%d@%d", site.ID, now.UnixMicro())}
		if err := tl.Credit(site.CompanyID, site.GoodID, actual, ref); err != nil {
			return err
		}
		changes = tl.Changes()

		// 只保留小数部分，矿藏不足时多出来的整数单位丢弃
		updates := map[string]any{
			"production_buffer": step.Fraction(step.Whole),
			"last_extracted_at": now,
		}
		if dep.Exhausted() {
			updates["active"] = false
			out.deactivated = true
		}
		out.produced = actual
		return t.saveSite(tx, &site, updates)
	})
	if err != nil {
		return siteOutcome{}, err
	}

	if len(changes) > 0 {
		if err := t.journal.Publish(changes); err != nil {
			log.Printf("[Extraction] publish journal for site %d: %v", siteID, err)
		}
	}
	return out, nil
}

func (t *Ticker) saveSite(tx *gorm.DB, site *Site, updates map[string]any) error {
	if err := tx.Model(&Site{}).Where("id = ?", site.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update site %d: %w", site.ID, err)
	}
	return nil
}
