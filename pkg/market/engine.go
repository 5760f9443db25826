// 文件: pkg/market/engine.go
// 撮合引擎 (MatchingEngine)
//
// 下单 + 撮合在一个数据库事务中完成:
//
//	校验 -> (卖单) 冻结库存 -> 写入订单 -> 锁对手盘 -> 逐笔成交 -> 提交
//
// 成交价永远取挂单方 (maker) 的价格。
// 买方现金不足时直接撤销买单 (熔断)，不会换下一个卖单重试。
//
// 加锁顺序固定: 订单行 -> 公司行 (ID 升序) -> 卖方库存 -> 买方库存，
// 成交和撤单事件在事务提交后才发布。

package market

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/bits"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"econsim.com/pkg/company"
	"econsim.com/pkg/idgen"
	"econsim.com/pkg/journal"
	"econsim.com/pkg/ledger"
	"econsim.com/pkg/metrics"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrInvalidOrderType = errors.New("order type must be buy or sell")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrInvalidPrice     = errors.New("price per unit must be positive")
	ErrOrderNotFound    = errors.New("order not found")
	ErrNotOwner         = errors.New("order belongs to another company")
	ErrOrderNotOpen     = errors.New("order is not open")
)

// =============================================================================
// 下单请求
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// 数量上限保证 Quantity*UnitScale 不溢出 int64;
// 成交金额 qty*price 仍可能溢出，在 execute 里单独检查
const (
	MaxOrderQuantity = 1_000_000_000_000
	MaxPricePerUnit  = 1_000_000_000_000
)

// PlaceOrderRequest 下单请求
type PlaceOrderRequest struct {
	CompanyID    int64 `validate:"gt=0"`
	GoodID       int64 `validate:"gt=0"`
	OrderType    Side  `validate:"required,oneof=buy sell"`
	Quantity     int64 `validate:"gt=0,lte=1000000000000"`
	PricePerUnit int64 `validate:"gt=0,lte=1000000000000"`
}

// Validate 校验并映射为领域错误
func (r PlaceOrderRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		switch fe.Field() {
		case "OrderType":
			return ErrInvalidOrderType
		case "Quantity":
			return ErrInvalidQuantity
		case "PricePerUnit":
			return ErrInvalidPrice
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidOrder, verrs[0].Field())
}

// =============================================================================
// Engine
// =============================================================================

// EngineConfig 引擎配置
type EngineConfig struct {
	DB        *gorm.DB
	Ledger    *ledger.Ledger
	Companies *company.Repo
	IDs       idgen.Generator
	Events    EventPublisher    // 可选，默认不发布
	Journal   journal.Publisher // 可选，默认不发布
	Now       func() time.Time  // 可选，测试注入
}

// Engine 撮合引擎
// 无内存订单簿，订单簿就是 market_orders 表里 status=open 的行
type Engine struct {
	db        *gorm.DB
	ledger    *ledger.Ledger
	companies *company.Repo
	ids       idgen.Generator
	events    EventPublisher
	journal   journal.Publisher
	now       func() time.Time
}

// NewEngine 创建撮合引擎
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		db:        cfg.DB,
		ledger:    cfg.Ledger,
		companies: cfg.Companies,
		ids:       cfg.IDs,
		events:    cfg.Events,
		journal:   cfg.Journal,
		now:       cfg.Now,
	}
	if e.events == nil {
		e.events = NopPublisher{}
	}
	if e.journal == nil {
		e.journal = journal.NopPublisher{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// outbox 事务内攒下的待发布内容
type outbox struct {
	trades  []Trade
	cancels []OrderCancelledEvent
	changes []ledger.Change
}

// =============================================================================
// 下单
// =============================================================================

// PlaceOrder 下单并立即撮合
//
// 返回的订单可能是 open (有剩余挂在簿上)、filled，
// 或者 cancelled (买方现金不足被熔断，不算错误)。
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, []Trade, error) {
	start := time.Now()
	defer func() { metrics.PlaceOrderLatency.Observe(time.Since(start).Seconds()) }()

	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	now := e.now().UTC().Truncate(time.Microsecond)
	order := &Order{
		ID:               e.ids.NextID(),
		CompanyID:        req.CompanyID,
		GoodID:           req.GoodID,
		OrderType:        req.OrderType,
		Status:           StatusOpen,
		PricePerUnit:     req.PricePerUnit,
		Quantity:         req.Quantity,
		OriginalQuantity: req.Quantity,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	var out outbox
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := e.companies.Exists(tx, req.CompanyID)
		if err != nil {
			return err
		}
		if !ok {
			return company.ErrCompanyNotFound
		}

		tl := e.ledger.WithTx(tx)

		// 卖单先冻结，冻结的库存不能被重复卖出
		if order.OrderType == SideSell {
			if err := tl.Reserve(order.CompanyID, order.GoodID, ledger.Whole(order.Quantity), ledger.OrderRef(order.ID)); err != nil {
				return err
			}
		}

		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		m := &matchRun{engine: e, tx: tx, ledger: tl, now: now, out: &out}
		if err := m.run(order); err != nil {
			return err
		}
		out.changes = tl.Changes()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.OrdersPlaced.WithLabelValues(string(order.OrderType)).Inc()
	e.publish(&out)
	return order, out.trades, nil
}

// =============================================================================
// 撮合
// =============================================================================

// matchRun 一次撮合的事务上下文
type matchRun struct {
	engine *Engine
	tx     *gorm.DB
	ledger *ledger.TxLedger
	now    time.Time
	out    *outbox
}

// lockCandidates 锁定可成交的对手盘
// 买单: 卖价 <= 买价，价格升序
// 卖单: 买价 >= 卖价，价格降序
// 同价按时间先后 (FIFO)
func (m *matchRun) lockCandidates(incoming *Order) ([]*Order, error) {
	q := m.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("good_id = ? AND order_type = ? AND status = ? AND id <> ?",
			incoming.GoodID, incoming.OrderType.Opposite(), StatusOpen, incoming.ID)

	if incoming.OrderType == SideBuy {
		q = q.Where("price_per_unit <= ?", incoming.PricePerUnit).Order("price_per_unit ASC")
	} else {
		q = q.Where("price_per_unit >= ?", incoming.PricePerUnit).Order("price_per_unit DESC")
	}

	var candidates []*Order
	err := q.Order("created_at ASC").Order("id ASC").Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("lock candidates: %w", err)
	}
	return candidates, nil
}

// run 撮合新订单直到数量为 0、被撤销或对手盘用尽
func (m *matchRun) run(incoming *Order) error {
	candidates, err := m.lockCandidates(incoming)
	if err != nil {
		return err
	}

	for _, resting := range candidates {
		if incoming.Quantity <= 0 || !incoming.IsOpen() {
			break
		}

		buyer, seller := incoming, resting
		if incoming.OrderType == SideSell {
			buyer, seller = resting, incoming
		}

		// 成交价总是挂单价: 进来的是卖单时按买方挂单价成交，
		// 而不是按卖方报价，卖方因此可能卖得比自己报价高
		if err := m.execute(buyer, seller, resting.PricePerUnit); err != nil {
			return err
		}
	}
	return nil
}

// execute 买单 × 卖单成交一笔，价格为挂单价
// 买方现金不足 (含金额超出 int64): 撤销买单，不成交
func (m *matchRun) execute(buyer, seller *Order, price int64) error {
	qty := min(buyer.Quantity, seller.Quantity)
	total, ok := tradeTotal(qty, price)

	locked, err := m.engine.companies.LockForUpdate(m.tx, buyer.CompanyID, seller.CompanyID)
	if err != nil {
		return err
	}
	buyerCo, sellerCo := locked[buyer.CompanyID], locked[seller.CompanyID]

	if !ok || buyerCo.Cash < total {
		buyer.Status = StatusCancelled
		m.out.cancels = append(m.out.cancels, newCancelEvent(buyer, CancelInsufficientCash, m.now))
		return m.saveOrder(buyer)
	}

	if err := m.engine.companies.AdjustCash(m.tx, buyerCo, -total); err != nil {
		return err
	}
	if err := m.engine.companies.AdjustCash(m.tx, sellerCo, total); err != nil {
		return err
	}

	trade := Trade{
		ID:              m.engine.ids.NextID(),
		GoodID:          seller.GoodID,
		BuyerCompanyID:  buyer.CompanyID,
		SellerCompanyID: seller.CompanyID,
		BuyOrderID:      buyer.ID,
		SellOrderID:     seller.ID,
		Quantity:        qty,
		PricePerUnit:    price,
		CreatedAt:       m.now,
	}

	// 先卖方后买方
	ref := ledger.TradeRef(trade.ID)
	if err := m.ledger.Debit(seller.CompanyID, seller.GoodID, ledger.Whole(qty), ref); err != nil {
		return err
	}
	if err := m.ledger.Credit(buyer.CompanyID, seller.GoodID, ledger.Whole(qty), ref); err != nil {
		return err
	}

	if err := m.tx.Create(&trade).Error; err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	m.out.trades = append(m.out.trades, trade)

	for _, o := range []*Order{buyer, seller} {
		o.Quantity -= qty
		if o.Quantity == 0 {
			o.Status = StatusFilled
		}
		if err := m.saveOrder(o); err != nil {
			return err
		}
	}
	return nil
}

// tradeTotal qty*price，溢出 int64 时 ok=false
// 现金是 int64，溢出的金额任何公司都付不起
func tradeTotal(qty, price int64) (int64, bool) {
	if qty <= 0 || price <= 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(qty), uint64(price))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, false
	}
	return int64(lo), true
}

func (m *matchRun) saveOrder(o *Order) error {
	o.UpdatedAt = m.now
	err := m.tx.Model(&Order{}).
		Where("id = ?", o.ID).
		Updates(map[string]any{
			"quantity":   o.Quantity,
			"status":     o.Status,
			"updated_at": o.UpdatedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("update order %d: %w", o.ID, err)
	}
	return nil
}

// =============================================================================
// 撤单
// =============================================================================

// CancelOrder 撤单
// 卖单只释放剩余数量对应的冻结
func (e *Engine) CancelOrder(ctx context.Context, orderID, companyID int64) (*Order, error) {
	now := e.now().UTC().Truncate(time.Microsecond)

	var (
		order   Order
		changes []ledger.Change
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", orderID).
			Take(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order.CompanyID != companyID {
			return ErrNotOwner
		}
		if !order.IsOpen() {
			return ErrOrderNotOpen
		}

		tl := e.ledger.WithTx(tx)
		if order.OrderType == SideSell && order.Quantity > 0 {
			if err := tl.Release(order.CompanyID, order.GoodID, ledger.Whole(order.Quantity), ledger.OrderRef(order.ID)); err != nil {
				return err
			}
		}

		order.Status = StatusCancelled
		order.UpdatedAt = now
		err = tx.Model(&Order{}).
			Where("id = ?", order.ID).
			Updates(map[string]any{"status": order.Status, "updated_at": now}).Error
		if err != nil {
			return fmt.Errorf("cancel order %d: %w", order.ID, err)
		}
		changes = tl.Changes()
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(&outbox{
		cancels: []OrderCancelledEvent{newCancelEvent(&order, CancelByOwner, now)},
		changes: changes,
	})
	return &order, nil
}

// =============================================================================
// 提交后发布
// =============================================================================

// publish 事务已提交，发布失败只记日志，不影响结果
func (e *Engine) publish(out *outbox) {
	for i := range out.trades {
		t := &out.trades[i]
		good := strconv.FormatInt(t.GoodID, 10)
		metrics.TradesTotal.WithLabelValues(good).Inc()
		metrics.TradedVolume.WithLabelValues(good).Add(float64(t.Quantity))

		if err := e.events.PublishTrade(newTradeEvent(t)); err != nil {
			log.Printf("[Market] publish trade %d: %v", t.ID, err)
		}
	}
	for _, c := range out.cancels {
		metrics.OrdersCancelled.WithLabelValues(c.Reason).Inc()
		if err := e.events.PublishCancel(c); err != nil {
			log.Printf("[Market] publish cancel %d: %v", c.OrderID, err)
		}
	}
	if len(out.changes) > 0 {
		if err := e.journal.Publish(out.changes); err != nil {
			log.Printf("[Market] publish journal: %v", err)
		}
	}
}
