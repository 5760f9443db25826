// 文件: pkg/market/query.go
// 行情查询 (只读，不在撮合路径上)

package market

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
)

// PriceLevel 价位聚合
type PriceLevel struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// OrderBook 订单簿快照
type OrderBook struct {
	GoodID int64        `json:"good_id"`
	Bids   []PriceLevel `json:"bids"` // 价格降序
	Asks   []PriceLevel `json:"asks"` // 价格升序
}

// Stats 行情统计，未知的字段为 nil
type Stats struct {
	GoodID    int64  `json:"good_id"`
	LastPrice *int64 `json:"last_price"`
	BestBid   *int64 `json:"best_bid"`
	BestAsk   *int64 `json:"best_ask"`
	Spread    *int64 `json:"spread"`
}

// Candle 分钟 K 线
type Candle struct {
	Time   time.Time `json:"time"`
	Open   int64     `json:"open"`
	High   int64     `json:"high"`
	Low    int64     `json:"low"`
	Close  int64     `json:"close"`
	Volume int64     `json:"volume"`
}

// LastPriceSource 最新成交价缓存
// at 为该价格对应的成交时间
type LastPriceSource interface {
	LastPrice(ctx context.Context, goodID int64) (price int64, at time.Time, ok bool, err error)
}

// Query 行情查询
type Query struct {
	db    *gorm.DB
	cache LastPriceSource
}

// NewQuery 创建查询，cache 可为 nil
func NewQuery(db *gorm.DB, cache LastPriceSource) *Query {
	return &Query{db: db, cache: cache}
}

// OrderBook 按价位聚合的挂单
func (q *Query) OrderBook(ctx context.Context, goodID int64) (*OrderBook, error) {
	book := &OrderBook{GoodID: goodID, Bids: []PriceLevel{}, Asks: []PriceLevel{}}

	levels := func(side Side, order string, dst *[]PriceLevel) error {
		return q.db.WithContext(ctx).Model(&Order{}).
			Select("price_per_unit AS price, SUM(quantity) AS quantity").
			Where("good_id = ? AND order_type = ? AND status = ?", goodID, side, StatusOpen).
			Group("price_per_unit").
			Order(order).
			Scan(dst).Error
	}
	if err := levels(SideBuy, "price_per_unit DESC", &book.Bids); err != nil {
		return nil, err
	}
	if err := levels(SideSell, "price_per_unit ASC", &book.Asks); err != nil {
		return nil, err
	}
	return book, nil
}

// Stats 最新价、买一、卖一、价差
func (q *Query) Stats(ctx context.Context, goodID int64) (*Stats, error) {
	stats := &Stats{GoodID: goodID}

	last, err := q.lastPrice(ctx, goodID)
	if err != nil {
		return nil, err
	}
	stats.LastPrice = last

	bestPrice := func(side Side, agg string) (*int64, error) {
		var v sql.NullInt64
		err := q.db.WithContext(ctx).Model(&Order{}).
			Select(agg+"(price_per_unit)").
			Where("good_id = ? AND order_type = ? AND status = ?", goodID, side, StatusOpen).
			Row().Scan(&v)
		if err != nil || !v.Valid {
			return nil, err
		}
		return &v.Int64, nil
	}
	if stats.BestBid, err = bestPrice(SideBuy, "MAX"); err != nil {
		return nil, err
	}
	if stats.BestAsk, err = bestPrice(SideSell, "MIN"); err != nil {
		return nil, err
	}
	if stats.BestBid != nil && stats.BestAsk != nil {
		spread := *stats.BestAsk - *stats.BestBid
		stats.Spread = &spread
	}
	return stats, nil
}

// lastPrice 先查缓存，未命中、出错或落后于成交表时回落到成交表
//
// 缓存靠事件更新，事件可能丢 (广播订阅者过慢时丢弃)，
// 所以只有成交表里没有比缓存更新的成交时才信缓存。
func (q *Query) lastPrice(ctx context.Context, goodID int64) (*int64, error) {
	if q.cache != nil {
		price, at, ok, err := q.cache.LastPrice(ctx, goodID)
		if err != nil {
			log.Printf("[Market] stats cache read good=%d: %v", goodID, err)
		} else if ok {
			fresh, err := q.noTradeAfter(ctx, goodID, at)
			if err != nil {
				return nil, err
			}
			if fresh {
				return &price, nil
			}
		}
	}

	var t Trade
	err := q.db.WithContext(ctx).
		Where("good_id = ?", goodID).
		Order("created_at DESC").Order("id DESC").
		Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t.PricePerUnit, nil
}

// noTradeAfter 成交表中没有晚于 at 的成交
func (q *Query) noTradeAfter(ctx context.Context, goodID int64, at time.Time) (bool, error) {
	var ids []int64
	err := q.db.WithContext(ctx).Model(&Trade{}).
		Where("good_id = ? AND created_at > ?", goodID, at.UTC()).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, err
	}
	return len(ids) == 0, nil
}

// Candles 最近 minutes 分钟的分钟 K 线，新的在前，没有成交的分钟不出现
func (q *Query) Candles(ctx context.Context, goodID int64, minutes int, now time.Time) ([]Candle, error) {
	if minutes <= 0 {
		return []Candle{}, nil
	}
	now = now.UTC()
	from := now.Truncate(time.Minute).Add(-time.Duration(minutes-1) * time.Minute)

	var trades []Trade
	err := q.db.WithContext(ctx).
		Where("good_id = ? AND created_at >= ? AND created_at <= ?", goodID, from, now).
		Order("created_at ASC").Order("id ASC").
		Find(&trades).Error
	if err != nil {
		return nil, err
	}

	candles := []Candle{}
	for _, t := range trades {
		bucket := t.CreatedAt.UTC().Truncate(time.Minute)
		n := len(candles)
		if n == 0 || !candles[n-1].Time.Equal(bucket) {
			candles = append(candles, Candle{
				Time: bucket,
				Open: t.PricePerUnit,
				High: t.PricePerUnit,
				Low:  t.PricePerUnit,
			})
			n++
		}
		c := &candles[n-1]
		c.High = max(c.High, t.PricePerUnit)
		c.Low = min(c.Low, t.PricePerUnit)
		c.Close = t.PricePerUnit
		c.Volume += t.Quantity
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// ListOpenOrders 全部挂单
func (q *Query) ListOpenOrders(ctx context.Context) ([]*Order, error) {
	var orders []*Order
	err := q.db.WithContext(ctx).
		Where("status = ?", StatusOpen).
		Order("created_at ASC").Order("id ASC").
		Find(&orders).Error
	return orders, err
}

// GetOrder 查询订单
func (q *Query) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var o Order
	err := q.db.WithContext(ctx).Where("id = ?", id).Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListTrades 商品最近成交，新的在前
func (q *Query) ListTrades(ctx context.Context, goodID int64, limit int) ([]*Trade, error) {
	var trades []*Trade
	err := q.db.WithContext(ctx).
		Where("good_id = ?", goodID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}
