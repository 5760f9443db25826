// 文件: pkg/production/ticker.go
// 连续生产 tick (ProductionTicker)
//
//	hours        = elapsed / 3600 * speed
//	exact_output = hours * output_per_hour + buffer
//	max_possible = min(floor(exact_output), floor(free_input * output_per_hour / input_per_hour))
//
// 原料按产出比例扣减: max_possible * input_per_hour / output_per_hour，
// 用千分位定点数扣，不会透支 max_possible 所依据的库存。
// 原料不足时建筑空转，不算错误。

package production

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
	"econsim.com/pkg/journal"
	"econsim.com/pkg/ledger"
	"econsim.com/pkg/metrics"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInvalidRate     = errors.New("input and output rates must be positive")
	ErrBuildingMissing = errors.New("production building not found")
)

// Result 一次 tick 的汇总
type Result struct {
	BuildingsProcessed int
	TotalOutput        ledger.Units
}

// Ticker 生产 tick
type Ticker struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	journal journal.Publisher
}

// NewTicker 创建生产 tick
func NewTicker(db *gorm.DB, l *ledger.Ledger, pub journal.Publisher) *Ticker {
	return &Ticker{db: db, ledger: l, journal: pub}
}

// CreateBuilding 创建生产建筑
func (t *Ticker) CreateBuilding(ctx context.Context, b *Building) error {
	if !b.InputPerHour.IsPositive() || !b.OutputPerHour.IsPositive() {
		return ErrInvalidRate
	}
	b.Active = true
	b.ProductionBuffer = decimal.Zero
	b.LastProcessedAt = nil
	if err := t.db.WithContext(ctx).Create(b).Error; err != nil {
		return fmt.Errorf("create building: %w", err)
	}
	return nil
}

// GetBuilding 查询生产建筑
func (t *Ticker) GetBuilding(ctx context.Context, id int64) (*Building, error) {
	var b Building
	err := t.db.WithContext(ctx).Where("id = ?", id).Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBuildingMissing
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Tick 处理全部活跃建筑
func (t *Ticker) Tick(ctx context.Context, now time.Time, speed float64) (Result, error) {
	now = accrual.Normalize(now)

	var ids []int64
	err := t.db.WithContext(ctx).Model(&Building{}).
		Where("active = ?", true).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return Result{}, fmt.Errorf("scan production buildings: %w", err)
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

		produced, err := t.tickBuilding(ctx, id, now, speed)
		if err != nil {
			metrics.TickErrors.WithLabelValues("production").Inc()
			log.Printf("[Production] building %d failed: %v", id, err)
			errs = append(errs, fmt.Errorf("building %d: %w", id, err))
			continue
		}
		result.BuildingsProcessed++
		result.TotalOutput += produced
	}

	metrics.UnitsProduced.Add(float64(result.TotalOutput.WholeUnits()))
	return result, errors.Join(errs...)
}

// tickBuilding 单个建筑的事务
func (t *Ticker) tickBuilding(ctx context.Context, id int64, now time.Time, speed float64) (ledger.Units, error) {
	var (
		produced ledger.Units
		changes  []ledger.Change
	)

	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b Building
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&b).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock building: %w", err)
		}
		if !b.Active {
			return nil
		}

		step := accrual.Advance(b.Schedule(), now, speed, b.OutputPerHour, b.ProductionBuffer)
		switch step.Kind {
		case accrual.KindInitialize:
			return saveBuilding(tx, b.ID, map[string]any{"last_processed_at": now})
		case accrual.KindStale:
			return nil
		}

		exact := step.Exact.Round(accrual.BufferPlaces)
		if step.Whole <= 0 {
			return saveBuilding(tx, b.ID, map[string]any{
				"production_buffer": exact,
				"last_processed_at": now,
			})
		}

		tl := t.ledger.WithTx(tx)
		input, err := tl.Lock(b.CompanyID, b.InputGoodID)
		if err != nil {
			return err
		}
		// 原料缺失: 空转，产出累计留在 buffer
		if input == nil || input.Free() <= 0 {
			return saveBuilding(tx, b.ID, map[string]any{
				"production_buffer": exact,
				"last_processed_at": now,
			})
		}

		byInput := input.Free().Decimal().Mul(b.OutputPerHour).Div(b.InputPerHour).Floor().IntPart()
		maxPossible := min(step.Whole, byInput)
		if maxPossible <= 0 {
			return saveBuilding(tx, b.ID, map[string]any{"last_processed_at": now})
		}

		ref := ledger.Ref{Type: ledger.BizProduction, ID: fmt.Sprintf("%d@%d", b.ID, now.UnixMicro())}
		need := ledger.CeilUnits(decimal.NewFromInt(maxPossible).Mul(b.InputPerHour).Div(b.OutputPerHour))
		if need > 0 {
			if err := tl.Consume(b.CompanyID, b.InputGoodID, need, ref); err != nil {
				return err
			}
		}
		if err := tl.Credit(b.CompanyID, b.OutputGoodID, ledger.Whole(maxPossible), ref); err != nil {
			return err
		}
		changes = tl.Changes()
		produced = ledger.Whole(maxPossible)

		return saveBuilding(tx, b.ID, map[string]any{
			"production_buffer": step.Fraction(maxPossible),
			"last_processed_at": now,
		})
	})
	if err != nil {
		return 0, err
	}

	if len(changes) > 0 {
		if err := t.journal.Publish(changes); err != nil {
			log.Printf("[Production] publish journal for building %d: %v", id, err)
		}
	}
	return produced, nil
}

func saveBuilding(tx *gorm.DB, id int64, updates map[string]any) error {
	if err := tx.Model(&Building{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update building %d: %w", id, err)
	}
	return nil
}
