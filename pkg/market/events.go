// 文件: pkg/market/events.go
// 市场事件: 成交、撤单
// 只在事务提交之后发布

package market

import (
	"errors"
	"time"

	"econsim.com/pkg/nats"
)

// TradeEvent 成交事件
type TradeEvent struct {
	TradeID         int64     `json:"trade_id"`
	GoodID          int64     `json:"good_id"`
	BuyerCompanyID  int64     `json:"buyer_company_id"`
	SellerCompanyID int64     `json:"seller_company_id"`
	BuyOrderID      int64     `json:"buy_order_id"`
	SellOrderID     int64     `json:"sell_order_id"`
	Quantity        int64     `json:"quantity"`
	PricePerUnit    int64     `json:"price_per_unit"`
	ExecutedAt      time.Time `json:"executed_at"`
}

func newTradeEvent(t *Trade) TradeEvent {
	return TradeEvent{
		TradeID:         t.ID,
		GoodID:          t.GoodID,
		BuyerCompanyID:  t.BuyerCompanyID,
		SellerCompanyID: t.SellerCompanyID,
		BuyOrderID:      t.BuyOrderID,
		SellOrderID:     t.SellOrderID,
		Quantity:        t.Quantity,
		PricePerUnit:    t.PricePerUnit,
		ExecutedAt:      t.CreatedAt,
	}
}

// OrderCancelledEvent 撤单事件
// Reason: owner (主动撤单) | insufficient_cash (成交时现金不足被撤)
type OrderCancelledEvent struct {
	OrderID     int64     `json:"order_id"`
	CompanyID   int64     `json:"company_id"`
	GoodID      int64     `json:"good_id"`
	OrderType   Side      `json:"order_type"`
	Remaining   int64     `json:"remaining"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func newCancelEvent(o *Order, reason string, at time.Time) OrderCancelledEvent {
	return OrderCancelledEvent{
		OrderID:     o.ID,
		CompanyID:   o.CompanyID,
		GoodID:      o.GoodID,
		OrderType:   o.OrderType,
		Remaining:   o.Quantity,
		Reason:      reason,
		CancelledAt: at,
	}
}

// =============================================================================
// EventPublisher
// =============================================================================

// EventPublisher 市场事件发布接口
type EventPublisher interface {
	PublishTrade(e TradeEvent) error
	PublishCancel(e OrderCancelledEvent) error
}

// NopPublisher 不发布
type NopPublisher struct{}

func (NopPublisher) PublishTrade(TradeEvent) error           { return nil }
func (NopPublisher) PublishCancel(OrderCancelledEvent) error { return nil }

// NATSPublisher 发布到 NATS
type NATSPublisher struct {
	pub *nats.Publisher
}

// NewNATSPublisher 创建 NATS 事件发布器
func NewNATSPublisher(pub *nats.Publisher) *NATSPublisher {
	return &NATSPublisher{pub: pub}
}

func (p *NATSPublisher) PublishTrade(e TradeEvent) error {
	return p.pub.Publish(nats.SubjectTrades, e)
}

func (p *NATSPublisher) PublishCancel(e OrderCancelledEvent) error {
	return p.pub.Publish(nats.SubjectOrdersCancelled, e)
}

// MultiPublisher 依次发布到多个发布器，错误合并返回
type MultiPublisher []EventPublisher

func (m MultiPublisher) PublishTrade(e TradeEvent) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishTrade(e))
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) PublishCancel(e OrderCancelledEvent) error {
	var errs []error
	for _, p := range m {
		errs = append(errs, p.PublishCancel(e))
	}
	return errors.Join(errs...)
}
