// 文件: pkg/production/model.go
// 生产数据模型: 连续生产建筑、配方、定时生产任务

package production

import (
	"time"

	"github.com/shopspring/decimal"

	"econsim.com/pkg/accrual"
	"econsim.com/pkg/ledger"
)

// =============================================================================
// Building - 按小时速率连续生产
// =============================================================================

// Building 生产建筑
// 输入、输出各自按小时速率计，不是严格的配方比例
type Building struct {
	ID               int64           `gorm:"primaryKey;autoIncrement"`
	CompanyID        int64           `gorm:"column:company_id;index"`
	LocationID       int64           `gorm:"column:location_id;index"`
	InputGoodID      int64           `gorm:"column:input_good_id"`
	OutputGoodID     int64           `gorm:"column:output_good_id"`
	InputPerHour     decimal.Decimal `gorm:"column:input_per_hour;type:decimal(20,6)"`
	OutputPerHour    decimal.Decimal `gorm:"column:output_per_hour;type:decimal(20,6)"`
	Active           bool            `gorm:"column:active;index"`
	ProductionBuffer decimal.Decimal `gorm:"column:production_buffer;type:decimal(30,12)"`
	LastProcessedAt  *time.Time      `gorm:"column:last_processed_at;precision:6"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
}

func (Building) TableName() string {
	return "production_buildings"
}

// Schedule 计时状态
func (b *Building) Schedule() accrual.Schedule {
	return accrual.FromColumn(b.LastProcessedAt)
}

// =============================================================================
// Recipe / Job - 定时生产
// =============================================================================

// Recipe 配方: 开工时一次性扣原料，DurationSeconds 后产出
type Recipe struct {
	ID              int64        `gorm:"primaryKey;autoIncrement"`
	InputGoodID     int64        `gorm:"column:input_good_id;index"`
	InputQuantity   ledger.Units `gorm:"column:input_quantity"`
	OutputGoodID    int64        `gorm:"column:output_good_id;index"`
	OutputQuantity  ledger.Units `gorm:"column:output_quantity"`
	DurationSeconds int64        `gorm:"column:duration_seconds"`
}

func (Recipe) TableName() string {
	return "production_recipes"
}

// JobStatus 任务状态
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
)

// Job 定时生产任务
type Job struct {
	ID             int64        `gorm:"primaryKey;autoIncrement"`
	CompanyID      int64        `gorm:"column:company_id;index"`
	InputGoodID    int64        `gorm:"column:input_good_id"`
	OutputGoodID   int64        `gorm:"column:output_good_id"`
	InputQuantity  ledger.Units `gorm:"column:input_quantity"`
	OutputQuantity ledger.Units `gorm:"column:output_quantity"`
	StartedAt      time.Time    `gorm:"column:started_at;precision:6"`
	FinishesAt     time.Time    `gorm:"column:finishes_at;precision:6;index:idx_job_status_finish"`
	Status         JobStatus    `gorm:"column:status;type:varchar(16);index:idx_job_status_finish"`
}

func (Job) TableName() string {
	return "production_jobs"
}
