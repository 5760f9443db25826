package production

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"econsim.com/pkg/journal"
	"econsim.com/pkg/ledger"
	"econsim.com/pkg/store/storetest"
)

// =============================================================================
// 测试辅助函数
// =============================================================================

const (
	company  int64 = 7
	oreGood  int64 = 1
	barGood  int64 = 2
	location int64 = 3
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	ticker  *Ticker
	jobs    *Jobs
	journal *journal.MemoryPublisher
}

func setup(t *testing.T) *fixture {
	db := storetest.Open(t, &Building{}, &Recipe{}, &Job{}, &ledger.Inventory{})
	l := ledger.New(db)
	pub := journal.NewMemoryPublisher()
	return &fixture{
		db:      db,
		ledger:  l,
		ticker:  NewTicker(db, l, pub),
		jobs:    NewJobs(db, l, pub),
		journal: pub,
	}
}

func (f *fixture) building(t *testing.T, in, out string) *Building {
	t.Helper()
	b := &Building{
		CompanyID:     company,
		LocationID:    location,
		InputGoodID:   oreGood,
		OutputGoodID:  barGood,
		InputPerHour:  decimal.RequireFromString(in),
		OutputPerHour: decimal.RequireFromString(out),
	}
	require.NoError(t, f.ticker.CreateBuilding(context.Background(), b))
	return b
}

func (f *fixture) credit(t *testing.T, good int64, qty ledger.Units) {
	t.Helper()
	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.ledger.WithTx(tx).Credit(company, good, qty, ledger.Ref{Type: ledger.BizOrder, ID: "seed"})
	})
	require.NoError(t, err)
}

func (f *fixture) reserve(t *testing.T, good int64, qty ledger.Units) {
	t.Helper()
	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.ledger.WithTx(tx).Reserve(company, good, qty, ledger.OrderRef(1))
	})
	require.NoError(t, err)
}

func (f *fixture) quantity(t *testing.T, good int64) ledger.Units {
	t.Helper()
	inv, err := f.ledger.Get(context.Background(), company, good)
	require.NoError(t, err)
	if inv == nil {
		return 0
	}
	return inv.Quantity
}

func (f *fixture) tick(t *testing.T, now time.Time) Result {
	t.Helper()
	res, err := f.ticker.Tick(context.Background(), now, 1)
	require.NoError(t, err)
	return res
}

func (f *fixture) reload(t *testing.T, id int64) *Building {
	t.Helper()
	b, err := f.ticker.GetBuilding(context.Background(), id)
	require.NoError(t, err)
	return b
}

// =============================================================================
// 连续生产
// =============================================================================

func TestCreateBuilding_InvalidRate(t *testing.T) {
	f := setup(t)
	err := f.ticker.CreateBuilding(context.Background(), &Building{
		InputPerHour:  decimal.Zero,
		OutputPerHour: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = f.ticker.GetBuilding(context.Background(), 42)
	assert.ErrorIs(t, err, ErrBuildingMissing)
}

func TestTick_ConsumesInputProducesOutput(t *testing.T) {
	f := setup(t)
	b := f.building(t, "2", "1")
	f.credit(t, oreGood, ledger.Whole(10))

	res := f.tick(t, t0)
	assert.Equal(t, 1, res.BuildingsProcessed)
	assert.Equal(t, ledger.Units(0), res.TotalOutput)

	res = f.tick(t, t0.Add(3*time.Hour))
	assert.Equal(t, ledger.Whole(3), res.TotalOutput)
	assert.Equal(t, ledger.Whole(4), f.quantity(t, oreGood))
	assert.Equal(t, ledger.Whole(3), f.quantity(t, barGood))
	assert.True(t, f.reload(t, b.ID).ProductionBuffer.IsZero())

	// 种子入账不经过 journal，只有 tick 的消耗和产出
	changes := f.journal.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, ledger.ChangeConsume, changes[0].Type)
	assert.Equal(t, ledger.Whole(6), changes[0].Amount)
	assert.Equal(t, ledger.ChangeCredit, changes[1].Type)
	assert.Equal(t, ledger.Whole(3), changes[1].Amount)
}

func TestTick_FractionalInputDebit(t *testing.T) {
	f := setup(t)
	f.building(t, "3", "2")
	f.credit(t, oreGood, ledger.Whole(10))

	f.tick(t, t0)
	res := f.tick(t, t0.Add(time.Hour))
	assert.Equal(t, ledger.Whole(2), res.TotalOutput)
	// 2 个产出需要 2 * 3 / 2 = 3 个原料
	assert.Equal(t, ledger.Whole(7), f.quantity(t, oreGood))
}

// 输出速率大于 1 时，按 产出数 * 输入速率 扣原料会超过可用库存，
// 按配方比例 产出数 * 输入速率 / 输出速率 扣减不会
func TestTick_HighOutputRateNeverOverdrawsInput(t *testing.T) {
	f := setup(t)
	b := f.building(t, "1", "2")
	f.credit(t, oreGood, ledger.Whole(3))

	f.tick(t, t0)
	res := f.tick(t, t0.Add(2*time.Hour))
	assert.Equal(t, ledger.Whole(4), res.TotalOutput)

	unscaled := ledger.CeilUnits(res.TotalOutput.Decimal().Mul(b.InputPerHour))
	assert.Greater(t, unscaled, ledger.Whole(3), "output * input_per_hour alone would exceed the 3 free units")

	assert.Equal(t, ledger.Whole(1), f.quantity(t, oreGood))
	assert.Equal(t, ledger.Whole(4), f.quantity(t, barGood))

	changes := f.journal.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, ledger.ChangeConsume, changes[0].Type)
	assert.Equal(t, ledger.Whole(2), changes[0].Amount)
}

func TestTick_InputDebitRoundsUpToMilliUnit(t *testing.T) {
	f := setup(t)
	f.building(t, "1", "3")
	f.credit(t, oreGood, ledger.Whole(10))

	f.tick(t, t0)
	res := f.tick(t, t0.Add(20*time.Minute))
	assert.Equal(t, ledger.Whole(1), res.TotalOutput)
	assert.Equal(t, ledger.Units(9666), f.quantity(t, oreGood))
}

func TestTick_StarvedBuildingKeepsBuffer(t *testing.T) {
	f := setup(t)
	b := f.building(t, "1", "1")

	f.tick(t, t0)
	res := f.tick(t, t0.Add(90*time.Minute))
	assert.Equal(t, ledger.Units(0), res.TotalOutput)
	assert.True(t, f.reload(t, b.ID).ProductionBuffer.Equal(decimal.RequireFromString("1.5")))

	// 原料到位后，buffer 里的产出一起结算
	f.credit(t, oreGood, ledger.Whole(10))
	res = f.tick(t, t0.Add(120*time.Minute))
	assert.Equal(t, ledger.Whole(2), res.TotalOutput)
	assert.Equal(t, ledger.Whole(8), f.quantity(t, oreGood))
	assert.True(t, f.reload(t, b.ID).ProductionBuffer.IsZero())
}

func TestTick_InsufficientInputForOneUnit(t *testing.T) {
	f := setup(t)
	b := f.building(t, "2", "1")
	f.credit(t, oreGood, ledger.Whole(1))

	f.tick(t, t0)
	res := f.tick(t, t0.Add(3*time.Hour))
	assert.Equal(t, ledger.Units(0), res.TotalOutput)
	assert.Equal(t, ledger.Whole(1), f.quantity(t, oreGood))

	got := f.reload(t, b.ID)
	assert.True(t, got.ProductionBuffer.IsZero())
	since, ok := got.Schedule().Since()
	require.True(t, ok)
	assert.True(t, since.Equal(t0.Add(3*time.Hour)))
}

func TestTick_ReservedInputIsNotConsumed(t *testing.T) {
	f := setup(t)
	f.building(t, "1", "1")
	f.credit(t, oreGood, ledger.Whole(10))
	f.reserve(t, oreGood, ledger.Whole(8))

	f.tick(t, t0)
	res := f.tick(t, t0.Add(5*time.Hour))
	assert.Equal(t, ledger.Whole(2), res.TotalOutput)

	inv, err := f.ledger.Get(context.Background(), company, oreGood)
	require.NoError(t, err)
	assert.Equal(t, ledger.Whole(8), inv.Quantity)
	assert.Equal(t, ledger.Whole(8), inv.Reserved)
}

func TestTick_Idempotent(t *testing.T) {
	f := setup(t)
	b := f.building(t, "1", "1")
	f.credit(t, oreGood, ledger.Whole(10))

	f.tick(t, t0)
	now := t0.Add(150 * time.Minute)
	f.tick(t, now)
	before := f.reload(t, b.ID)

	res := f.tick(t, now)
	assert.Equal(t, ledger.Units(0), res.TotalOutput)
	assert.True(t, before.ProductionBuffer.Equal(f.reload(t, b.ID).ProductionBuffer))
	assert.Equal(t, ledger.Whole(2), f.quantity(t, barGood))
}

// =============================================================================
// 定时生产任务
// =============================================================================

func TestJobs_StartAndComplete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	r := &Recipe{
		InputGoodID:     oreGood,
		InputQuantity:   ledger.Whole(5),
		OutputGoodID:    barGood,
		OutputQuantity:  ledger.Whole(2),
		DurationSeconds: 60,
	}
	require.NoError(t, f.jobs.CreateRecipe(ctx, r))

	_, err := f.jobs.Start(ctx, company, r.ID, t0)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFreeInventory)

	_, err = f.jobs.Start(ctx, company, 999, t0)
	assert.ErrorIs(t, err, ErrRecipeNotFound)

	f.credit(t, oreGood, ledger.Whole(6))
	job, err := f.jobs.Start(ctx, company, r.ID, t0)
	require.NoError(t, err)
	assert.Equal(t, JobRunning, job.Status)
	assert.Equal(t, ledger.Whole(1), f.quantity(t, oreGood))

	n, err := f.jobs.CompleteFinished(ctx, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, ledger.Units(0), f.quantity(t, barGood))

	n, err = f.jobs.CompleteFinished(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ledger.Whole(2), f.quantity(t, barGood))

	// 已完成的任务不会重复入账
	n, err = f.jobs.CompleteFinished(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	jobs, err := f.jobs.ListByCompany(ctx, company)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobCompleted, jobs[0].Status)
}

func TestJobs_InvalidRecipe(t *testing.T) {
	f := setup(t)
	err := f.jobs.CreateRecipe(context.Background(), &Recipe{InputQuantity: 1, OutputQuantity: 1})
	assert.ErrorIs(t, err, ErrInvalidRecipe)
}
