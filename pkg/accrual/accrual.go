// 文件: pkg/accrual/accrual.go
// 时间累计产出 - 开采和生产共用
//
// 把墙钟流逝时间 (乘以全局速度倍率) 折算为产出:
//
//	exact = elapsed_seconds * speed / 3600 * rate_per_hour + buffer
//	whole = floor(exact)
//
// 只有整数单位真正入账，小数部分留在 buffer 里带到下一次 tick，
// 所以不会因为截断而系统性地丢产出。

package accrual

import (
	"time"

	"github.com/shopspring/decimal"
)

// BufferPlaces buffer 持久化保留的小数位 (与表结构 decimal(30,12) 一致)
const BufferPlaces = 12

var secondsPerHour = decimal.NewFromInt(3600)

// =============================================================================
// Schedule - 计时状态
// =============================================================================

// Schedule 计时状态: Uninitialized 或 ActiveSince(t)
//
// 数据库里用可空时间戳表示，这里显式成两种状态，
// 避免 nil 判断散落在各处。
type Schedule struct {
	since   time.Time
	started bool
}

// Uninitialized 尚未开始计时 (第一次 tick 只打时间戳)
func Uninitialized() Schedule {
	return Schedule{}
}

// ActiveSince 自 t 起计时
func ActiveSince(t time.Time) Schedule {
	return Schedule{since: t, started: true}
}

// FromColumn 从可空列转换
func FromColumn(ts *time.Time) Schedule {
	if ts == nil {
		return Uninitialized()
	}
	return ActiveSince(*ts)
}

// Since 计时起点
func (s Schedule) Since() (time.Time, bool) {
	return s.since, s.started
}

// =============================================================================
// Step - 单次 tick 的结果
// =============================================================================

// Kind 单次 tick 的分支
type Kind uint8

const (
	KindInitialize Kind = iota + 1 // 首次 tick: 只打时间戳
	KindStale                      // now 没有前进: 什么都不做
	KindAccrue                     // 正常累计
)

func (k Kind) String() string {
	switch k {
	case KindInitialize:
		return "INITIALIZE"
	case KindStale:
		return "STALE"
	case KindAccrue:
		return "ACCRUE"
	}
	return "UNKNOWN"
}

// Step 单次 tick 的累计结果
type Step struct {
	Kind  Kind
	Exact decimal.Decimal // 本次应产出 (含上次 buffer)
	Whole int64           // floor(Exact)
}

// Fraction 去掉 n 个整数单位后剩下的部分
func (s Step) Fraction(n int64) decimal.Decimal {
	return s.Exact.Sub(decimal.NewFromInt(n)).Round(BufferPlaces)
}

// Normalize 统一到 UTC 微秒精度
// 时间戳列是 datetime(6)，tick 用的 now 先截断，
// 写回再读出后和下一次传入的同一个 now 才能精确相等。
func Normalize(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}

// Advance 计算从 schedule 到 now 的累计产出
//
// speed 由调用方传入 (不读全局状态)，tick 函数对它是纯的。
// now 不晚于起点时返回 KindStale，同一个 now 调两次不会重复产出。
func Advance(s Schedule, now time.Time, speed float64, ratePerHour, buffer decimal.Decimal) Step {
	since, ok := s.Since()
	if !ok {
		return Step{Kind: KindInitialize}
	}
	if !now.After(since) {
		return Step{Kind: KindStale, Exact: buffer}
	}

	seconds := decimal.New(now.Sub(since).Nanoseconds(), -9)
	exact := seconds.Mul(decimal.NewFromFloat(speed)).
		Mul(ratePerHour).
		Div(secondsPerHour).
		Add(buffer)

	return Step{
		Kind:  KindAccrue,
		Exact: exact,
		Whole: exact.Floor().IntPart(),
	}
}
