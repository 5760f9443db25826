// 文件: pkg/sim/scheduler.go
// 定时触发器
// 按固定间隔用墙钟时间调用 Clock.Tick，本身不属于事务核心

package sim

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler 定时触发 tick
type Scheduler struct {
	clock    *Clock
	interval time.Duration
	now      func() time.Time
	onTick   func(TickReport, error)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler 创建触发器
func NewScheduler(clock *Clock, interval time.Duration) *Scheduler {
	return &Scheduler{
		clock:    clock,
		interval: interval,
		now:      time.Now,
	}
}

// OnTick 每次 tick 结束后的回调
func (s *Scheduler) OnTick(fn func(TickReport, error)) {
	s.onTick = fn
}

// Start 启动，启动时立即 tick 一次
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(ctx)
	}()

	log.Printf("[Scheduler] Started with interval=%v", s.interval)
}

// Stop 停止并等待进行中的 tick 结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
	s.running = false
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) runLoop(ctx context.Context) {
	s.tickOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		}
	}
}

func (s *Scheduler) tickOnce(ctx context.Context) {
	report, err := s.clock.Tick(ctx, s.now())
	if err != nil {
		log.Printf("[Scheduler] tick at %s: %v", report.Now.Format(time.RFC3339Nano), err)
	}
	if s.onTick != nil {
		s.onTick(report, err)
	}
}
