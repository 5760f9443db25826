// 文件: pkg/market/model.go
// 市场订单与成交 - 数据模型

package market

import "time"

// =============================================================================
// 订单方向与状态
// =============================================================================

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 对手方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status 订单状态
// open -> filled | cancelled，终态不可逆
type Status string

const (
	StatusOpen      Status = "open"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// 撤单原因
const (
	CancelByOwner          = "owner"
	CancelInsufficientCash = "insufficient_cash"
)

// =============================================================================
// Order - 市场订单
// =============================================================================

// Order 市场订单
//
// Quantity 为剩余未成交数量 (整数单位)，OriginalQuantity 为下单数量。
// 卖单挂出时按 Quantity 冻结库存，成交/撤单时按剩余量释放。
type Order struct {
	ID               int64     `gorm:"primaryKey;autoIncrement:false"` // 雪花ID
	CompanyID        int64     `gorm:"column:company_id;index"`
	GoodID           int64     `gorm:"column:good_id;index:idx_order_book,priority:1"`
	OrderType        Side      `gorm:"column:order_type;type:varchar(8);index:idx_order_book,priority:2"`
	Status           Status    `gorm:"column:status;type:varchar(16);index:idx_order_book,priority:3"`
	PricePerUnit     int64     `gorm:"column:price_per_unit;index:idx_order_book,priority:4"`
	Quantity         int64     `gorm:"column:quantity"`
	OriginalQuantity int64     `gorm:"column:original_quantity"`
	CreatedAt        time.Time `gorm:"column:created_at;precision:6"`
	UpdatedAt        time.Time `gorm:"column:updated_at;precision:6"`
}

func (Order) TableName() string {
	return "market_orders"
}

// IsOpen 是否仍在簿中
func (o *Order) IsOpen() bool {
	return o.Status == StatusOpen
}

// FilledQuantity 已成交数量
func (o *Order) FilledQuantity() int64 {
	return o.OriginalQuantity - o.Quantity
}

// =============================================================================
// Trade - 成交记录 (只追加)
// =============================================================================

// Trade 成交记录
// 成交价永远是挂单方 (maker) 的价格
type Trade struct {
	ID              int64     `gorm:"primaryKey;autoIncrement:false"`
	GoodID          int64     `gorm:"column:good_id;index:idx_trade_good_time,priority:1"`
	BuyerCompanyID  int64     `gorm:"column:buyer_company_id;index"`
	SellerCompanyID int64     `gorm:"column:seller_company_id;index"`
	BuyOrderID      int64     `gorm:"column:buy_order_id"`
	SellOrderID     int64     `gorm:"column:sell_order_id"`
	Quantity        int64     `gorm:"column:quantity"`
	PricePerUnit    int64     `gorm:"column:price_per_unit"`
	CreatedAt       time.Time `gorm:"column:created_at;precision:6;index:idx_trade_good_time,priority:2"`
}

func (Trade) TableName() string {
	return "market_trades"
}

// Total 成交金额
func (t *Trade) Total() int64 {
	return t.Quantity * t.PricePerUnit
}
