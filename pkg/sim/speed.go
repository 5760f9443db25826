// 文件: pkg/sim/speed.go
// 全局速度倍率

package sim

import (
	"errors"
	"math"
	"sync/atomic"
)

var ErrInvalidSpeed = errors.New("speed multiplier must be a positive finite number")

// ValidateSpeed 校验倍率 (> 0，非 NaN/Inf)
func ValidateSpeed(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return ErrInvalidSpeed
	}
	return nil
}

// Speed 进程级速度倍率
// 调度协程和外部调用方共享，用原子变量保护
type Speed struct {
	bits atomic.Uint64
}

// NewSpeed 创建倍率
func NewSpeed(v float64) (*Speed, error) {
	s := &Speed{}
	if err := s.Set(v); err != nil {
		return nil, err
	}
	return s, nil
}

// Get 当前倍率
func (s *Speed) Get() float64 {
	return math.Float64frombits(s.bits.Load())
}

// Set 修改倍率，非法值不生效
func (s *Speed) Set(v float64) error {
	if err := ValidateSpeed(v); err != nil {
		return err
	}
	s.bits.Store(math.Float64bits(v))
	return nil
}
