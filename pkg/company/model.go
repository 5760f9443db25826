// 文件: pkg/company/model.go
// 公司与商品 - 数据模型

package company

// =============================================================================
// Company
// =============================================================================

// Company 公司
// Cash 为整数货币单位，成交后永远不会为负
type Company struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	Name           string `gorm:"column:name;type:varchar(64);uniqueIndex"`
	Cash           int64  `gorm:"column:cash"`
	HomeLocationID *int64 `gorm:"column:home_location_id"`
	CreatedAt      int64  `gorm:"column:created_at;autoCreateTime:milli"`
	UpdatedAt      int64  `gorm:"column:updated_at;autoUpdateTime:milli"`
}

func (Company) TableName() string {
	return "companies"
}

// =============================================================================
// Good - 商品参考数据 (不可变)
// =============================================================================

// Category 商品分类
type Category string

const (
	CategoryRaw          Category = "raw"
	CategoryIntermediate Category = "intermediate"
	CategoryProduct      Category = "product"
)

// Rarity 稀有度
type Rarity string

const (
	RarityCommon   Rarity = "common"
	RarityUncommon Rarity = "uncommon"
	RarityRare     Rarity = "rare"
)

// Good 商品
type Good struct {
	ID       int64    `gorm:"primaryKey;autoIncrement"`
	Name     string   `gorm:"column:name;type:varchar(64);uniqueIndex"`
	Category Category `gorm:"column:category;type:varchar(16)"`
	Rarity   Rarity   `gorm:"column:rarity;type:varchar(16)"`
}

func (Good) TableName() string {
	return "goods"
}
