// 文件: pkg/extraction/model.go
// 开采点数据模型

package extraction

import (
	"time"

	"github.com/shopspring/decimal"

	"econsim.com/pkg/accrual"
)

// Site 开采点
//
// (location, good) 唯一: 一个矿藏只能被一个开采点开采。
// Active=false 为终态，不会再被激活。
type Site struct {
	ID               int64           `gorm:"primaryKey;autoIncrement"`
	CompanyID        int64           `gorm:"column:company_id;index"`
	LocationID       int64           `gorm:"column:location_id;uniqueIndex:uk_site_location_good"`
	GoodID           int64           `gorm:"column:good_id;uniqueIndex:uk_site_location_good"`
	RatePerHour      decimal.Decimal `gorm:"column:rate_per_hour;type:decimal(20,6)"`
	Active           bool            `gorm:"column:active;index"`
	ProductionBuffer decimal.Decimal `gorm:"column:production_buffer;type:decimal(30,12)"`
	LastExtractedAt  *time.Time      `gorm:"column:last_extracted_at;precision:6"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
}

func (Site) TableName() string {
	return "extraction_sites"
}

// Schedule 计时状态
func (s *Site) Schedule() accrual.Schedule {
	return accrual.FromColumn(s.LastExtractedAt)
}
