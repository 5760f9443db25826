// 文件: pkg/sim/clock.go
// 模拟时钟 (SimulationClock)
//
// 一次 tick 用同一个 now 和同一个倍率依次推进:
//
//	开采 -> 连续生产 -> 定时任务完工
//
// 各阶段内部按行独立提交，前一阶段的部分失败不阻止后面的阶段，
// 错误合并后返回给调用方。

package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"econsim.com/pkg/extraction"
	"econsim.com/pkg/metrics"
	"econsim.com/pkg/nats"
	"econsim.com/pkg/production"
)

// TickReport 一次 tick 的汇总
type TickReport struct {
	Now           time.Time         `json:"now"`
	Speed         float64           `json:"speed"`
	Extraction    extraction.Result `json:"extraction"`
	Production    production.Result `json:"production"`
	JobsCompleted int               `json:"jobs_completed"`
	Duration      time.Duration     `json:"duration"`
	Failed        bool              `json:"failed"`
}

// =============================================================================
// Tick 事件
// =============================================================================

// TickPublisher tick 事件发布
type TickPublisher interface {
	PublishTick(r TickReport) error
}

// NATSTickPublisher 发布到 sim.ticks
type NATSTickPublisher struct {
	pub *nats.Publisher
}

// NewNATSTickPublisher 创建 NATS tick 发布器
func NewNATSTickPublisher(pub *nats.Publisher) *NATSTickPublisher {
	return &NATSTickPublisher{pub: pub}
}

func (p *NATSTickPublisher) PublishTick(r TickReport) error {
	return p.pub.Publish(nats.SubjectTicks, r)
}

// =============================================================================
// Clock
// =============================================================================

// ExtractionTicker 开采阶段
type ExtractionTicker interface {
	Tick(ctx context.Context, now time.Time, speed float64) (extraction.Result, error)
}

// ProductionTicker 连续生产阶段
type ProductionTicker interface {
	Tick(ctx context.Context, now time.Time, speed float64) (production.Result, error)
}

// JobCompleter 定时任务完工阶段
type JobCompleter interface {
	CompleteFinished(ctx context.Context, now time.Time) (int, error)
}

// ClockConfig 时钟配置
type ClockConfig struct {
	Speed      *Speed
	Extraction ExtractionTicker
	Production ProductionTicker
	Jobs       JobCompleter  // 可选
	Events     TickPublisher // 可选
}

// Clock 模拟时钟
type Clock struct {
	speed      *Speed
	extraction ExtractionTicker
	production ProductionTicker
	jobs       JobCompleter
	events     TickPublisher

	// 同一进程内 tick 串行执行
	mu sync.Mutex
}

// NewClock 创建时钟
func NewClock(cfg ClockConfig) *Clock {
	return &Clock{
		speed:      cfg.Speed,
		extraction: cfg.Extraction,
		production: cfg.Production,
		jobs:       cfg.Jobs,
		events:     cfg.Events,
	}
}

// Speed 倍率
func (c *Clock) Speed() *Speed {
	return c.speed
}

// Tick 读取一次当前倍率后推进到 now
func (c *Clock) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	return c.TickAt(ctx, now, c.speed.Get())
}

// TickAt 以显式倍率推进到 now
func (c *Clock) TickAt(ctx context.Context, now time.Time, speed float64) (TickReport, error) {
	if err := ValidateSpeed(speed); err != nil {
		return TickReport{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	report := TickReport{Now: now, Speed: speed}
	var errs []error

	ext, err := c.extraction.Tick(ctx, now, speed)
	if err != nil {
		errs = append(errs, fmt.Errorf("extraction: %w", err))
	}
	report.Extraction = ext

	prod, err := c.production.Tick(ctx, now, speed)
	if err != nil {
		errs = append(errs, fmt.Errorf("production: %w", err))
	}
	report.Production = prod

	if c.jobs != nil {
		n, err := c.jobs.CompleteFinished(ctx, now)
		if err != nil {
			metrics.TickErrors.WithLabelValues("jobs").Inc()
			errs = append(errs, fmt.Errorf("jobs: %w", err))
		}
		report.JobsCompleted = n
	}

	report.Duration = time.Since(start)
	report.Failed = len(errs) > 0
	metrics.TickDuration.Observe(report.Duration.Seconds())
	metrics.SimulationSpeed.Set(speed)

	if c.events != nil {
		if err := c.events.PublishTick(report); err != nil {
			log.Printf("[Clock] publish tick: %v", err)
		}
	}
	return report, errors.Join(errs...)
}
