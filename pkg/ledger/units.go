// 文件: pkg/ledger/units.go
// 库存数量的定点表示
//
// 生产环节按小时速率扣减原料，扣减量天然带小数。
// 为避免成千上万次 tick 之后出现浮点漂移，所有库存/矿藏数量统一存为
// 千分之一单位 (milli-unit) 的 int64。

package ledger

import (
	"github.com/shopspring/decimal"
)

// UnitScale 1 个完整单位 = 1000 milli-unit
const UnitScale = 1000

// Units 定点数量 (milli-unit)
type Units int64

// Whole 整数单位转换为 Units
func Whole(n int64) Units {
	return Units(n * UnitScale)
}

// FloorUnits 小数单位向下取整到 milli-unit
func FloorUnits(d decimal.Decimal) Units {
	return Units(d.Shift(3).Floor().IntPart())
}

// CeilUnits 小数单位向上取整到 milli-unit
// 扣减方向使用，保证不会凭空多出库存
func CeilUnits(d decimal.Decimal) Units {
	return Units(d.Shift(3).Ceil().IntPart())
}

// Decimal 转为小数单位
func (u Units) Decimal() decimal.Decimal {
	return decimal.New(int64(u), -3)
}

// WholeUnits 完整单位数 (截断小数部分)
func (u Units) WholeUnits() int64 {
	return int64(u) / UnitScale
}

func (u Units) String() string {
	return u.Decimal().StringFixed(3)
}
