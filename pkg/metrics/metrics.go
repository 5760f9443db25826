// 文件: pkg/metrics/metrics.go
// Prometheus 指标

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal 成交笔数 (按商品)
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econsim_trades_total",
		Help: "Total number of trades executed",
	}, []string{"good"})

	// TradedVolume 成交量 (整数单位)
	TradedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econsim_traded_volume_total",
		Help: "Cumulative traded quantity in whole units",
	}, []string{"good"})

	// OrdersPlaced 下单数
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econsim_orders_placed_total",
		Help: "Orders accepted by the matching engine",
	}, []string{"side"})

	// OrdersCancelled 撤单数，reason=owner|insufficient_cash
	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econsim_orders_cancelled_total",
		Help: "Orders cancelled, by reason",
	}, []string{"reason"})

	// PlaceOrderLatency 下单 (含撮合) 耗时
	PlaceOrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "econsim_place_order_seconds",
		Help:    "PlaceOrder latency including matching",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// UnitsExtracted 开采入账量 (整数单位)
	UnitsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "econsim_units_extracted_total",
		Help: "Units credited by extraction sites",
	})

	// UnitsProduced 生产入账量 (整数单位)
	UnitsProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "econsim_units_produced_total",
		Help: "Units credited by production buildings",
	})

	// SitesDeactivated 因矿藏耗尽/缺失而停工的开采点
	SitesDeactivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "econsim_sites_deactivated_total",
		Help: "Extraction sites deactivated",
	})

	// JobsCompleted 完成的定时生产任务
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "econsim_jobs_completed_total",
		Help: "Timed production jobs completed",
	})

	// TickErrors tick 中失败的单元
	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "econsim_tick_errors_total",
		Help: "Per-row failures during a tick",
	}, []string{"stage"})

	// TickDuration 一次 tick 的耗时
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "econsim_tick_duration_seconds",
		Help:    "Duration of a simulation tick",
		Buckets: prometheus.DefBuckets,
	})

	// SimulationSpeed 当前速度倍率
	SimulationSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "econsim_simulation_speed",
		Help: "Current simulation speed multiplier",
	})
)

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
