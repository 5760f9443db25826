// 文件: pkg/production/jobs.go
// 定时生产任务
//
// 开工: 按配方一次性扣可用原料，记录完工时间
// 完工: 每个 tick 扫描到期的 running 任务，产出入账并标记 completed

package production

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"econsim.com/pkg/accrual"
	"econsim.com/pkg/journal"
	"econsim.com/pkg/ledger"
	"econsim.com/pkg/metrics"
)

var (
	ErrRecipeNotFound = errors.New("recipe not found")
	ErrInvalidRecipe  = errors.New("recipe quantities and duration must be positive")
)

// Jobs 定时生产
type Jobs struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	journal journal.Publisher
}

// NewJobs 创建定时生产服务
func NewJobs(db *gorm.DB, l *ledger.Ledger, pub journal.Publisher) *Jobs {
	return &Jobs{db: db, ledger: l, journal: pub}
}

// CreateRecipe 创建配方
func (j *Jobs) CreateRecipe(ctx context.Context, r *Recipe) error {
	if r.InputQuantity <= 0 || r.OutputQuantity <= 0 || r.DurationSeconds <= 0 {
		return ErrInvalidRecipe
	}
	return j.db.WithContext(ctx).Create(r).Error
}

// Start 按配方开工
// 原料不足返回 ledger.ErrInsufficientFreeInventory，不创建任务
func (j *Jobs) Start(ctx context.Context, companyID, recipeID int64, now time.Time) (*Job, error) {
	now = accrual.Normalize(now)

	var (
		job     *Job
		changes []ledger.Change
	)
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Recipe
		err := tx.Where("id = ?", recipeID).Take(&r).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecipeNotFound
		}
		if err != nil {
			return err
		}

		job = &Job{
			CompanyID:      companyID,
			InputGoodID:    r.InputGoodID,
			OutputGoodID:   r.OutputGoodID,
			InputQuantity:  r.InputQuantity,
			OutputQuantity: r.OutputQuantity,
			StartedAt:      now,
			FinishesAt:     now.Add(time.Duration(r.DurationSeconds) * time.Second),
			Status:         JobRunning,
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("create job: %w", err)
		}

		tl := j.ledger.WithTx(tx)
		ref := ledger.Ref{Type: ledger.BizJob, ID: strconv.FormatInt(job.ID, 10)}
		if err := tl.Consume(companyID, r.InputGoodID, r.InputQuantity, ref); err != nil {
			if errors.Is(err, ledger.ErrInventoryMissing) {
				return ledger.ErrInsufficientFreeInventory
			}
			return err
		}
		changes = tl.Changes()
		return nil
	})
	if err != nil {
		return nil, err
	}

	j.publish(changes)
	return job, nil
}

// CompleteFinished 完成所有到期任务，返回完成数
// 一次扫描一个事务，任一任务入账失败则整体回滚
func (j *Jobs) CompleteFinished(ctx context.Context, now time.Time) (int, error) {
	now = accrual.Normalize(now)

	var (
		completed int
		changes   []ledger.Change
	)
	err := j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var jobs []*Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ? AND finishes_at <= ?", JobRunning, now).
			Order("id ASC").
			Find(&jobs).Error
		if err != nil {
			return fmt.Errorf("lock finished jobs: %w", err)
		}

		tl := j.ledger.WithTx(tx)
		for _, job := range jobs {
			ref := ledger.Ref{Type: ledger.BizJob, ID: strconv.FormatInt(job.ID, 10)}
			if err := tl.Credit(job.CompanyID, job.OutputGoodID, job.OutputQuantity, ref); err != nil {
				return fmt.Errorf("job %d: %w", job.ID, err)
			}
			err := tx.Model(&Job{}).Where("id = ?", job.ID).Update("status", JobCompleted).Error
			if err != nil {
				return fmt.Errorf("complete job %d: %w", job.ID, err)
			}
		}
		completed = len(jobs)
		changes = tl.Changes()
		return nil
	})
	if err != nil {
		return 0, err
	}

	j.publish(changes)
	metrics.JobsCompleted.Add(float64(completed))
	return completed, nil
}

// ListByCompany 查询公司的任务
func (j *Jobs) ListByCompany(ctx context.Context, companyID int64) ([]*Job, error) {
	var jobs []*Job
	err := j.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("id ASC").
		Find(&jobs).Error
	return jobs, err
}

func (j *Jobs) publish(changes []ledger.Change) {
	if len(changes) == 0 {
		return
	}
	if err := j.journal.Publish(changes); err != nil {
		log.Printf("[Production] publish job journal: %v", err)
	}
}
