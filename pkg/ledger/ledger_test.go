package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"econsim.com/pkg/store/storetest"
)

// =============================================================================
// 测试辅助函数
// =============================================================================

func setupLedger(t *testing.T) (*Ledger, *gorm.DB) {
	db := storetest.Open(t, &Inventory{})
	return New(db), db
}

// inTx 在事务中执行，返回本次事务的变更
func inTx(t *testing.T, db *gorm.DB, l *Ledger, fn func(tl *TxLedger) error) ([]Change, error) {
	t.Helper()
	var changes []Change
	err := db.Transaction(func(tx *gorm.DB) error {
		tl := l.WithTx(tx)
		if err := fn(tl); err != nil {
			return err
		}
		changes = tl.Changes()
		return nil
	})
	return changes, err
}

func mustGet(t *testing.T, l *Ledger, company, good int64) *Inventory {
	t.Helper()
	inv, err := l.Get(context.Background(), company, good)
	require.NoError(t, err)
	require.NotNil(t, inv)
	return inv
}

// =============================================================================
// 测试用例
// =============================================================================

func TestUnits(t *testing.T) {
	require.Equal(t, Units(5000), Whole(5))
	require.Equal(t, "1.500", Units(1500).String())
	require.Equal(t, int64(1), Units(1999).WholeUnits())
	require.Equal(t, Units(333), FloorUnits(decimal.RequireFromString("0.3336")))
	require.Equal(t, Units(334), CeilUnits(decimal.RequireFromString("0.3331")))
	require.True(t, Units(2500).Decimal().Equal(decimal.RequireFromString("2.5")))
}

func TestCredit_CreatesRow(t *testing.T) {
	l, db := setupLedger(t)

	changes, err := inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Credit(1, 10, Whole(4), Ref{Type: BizExtraction, ID: "site"})
	})
	require.NoError(t, err)

	inv := mustGet(t, l, 1, 10)
	require.Equal(t, Whole(4), inv.Quantity)
	require.Equal(t, Units(0), inv.Reserved)

	require.Len(t, changes, 1)
	require.Equal(t, ChangeCredit, changes[0].Type)
	require.Equal(t, Units(0), changes[0].QuantityBefore)
	require.Equal(t, Whole(4), changes[0].QuantityAfter)
	require.Equal(t, "CREDIT_EXTRACTION_site_1_10", changes[0].EventID())

	// 再次入账累加到同一行
	_, err = inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Credit(1, 10, Units(500), Ref{Type: BizExtraction, ID: "site2"})
	})
	require.NoError(t, err)
	require.Equal(t, Units(4500), mustGet(t, l, 1, 10).Quantity)
}

func TestReserve(t *testing.T) {
	l, db := setupLedger(t)

	// 无库存行
	_, err := inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Reserve(1, 10, Whole(1), OrderRef(1))
	})
	require.ErrorIs(t, err, ErrInsufficientFreeInventory)

	_, err = inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Credit(1, 10, Whole(10), OrderRef(0))
	})
	require.NoError(t, err)

	_, err = inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Reserve(1, 10, Whole(7), OrderRef(2))
	})
	require.NoError(t, err)

	// 只剩 3 可用
	_, err = inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Reserve(1, 10, Whole(4), OrderRef(3))
	})
	require.ErrorIs(t, err, ErrInsufficientFreeInventory)

	inv := mustGet(t, l, 1, 10)
	require.Equal(t, Whole(10), inv.Quantity)
	require.Equal(t, Whole(7), inv.Reserved)
	require.Equal(t, Whole(3), inv.Free())
}

func TestRelease_ClampsAtZero(t *testing.T) {
	l, db := setupLedger(t)

	_, err := inTx(t, db, l, func(tl *TxLedger) error {
		if err := tl.Credit(1, 10, Whole(10), OrderRef(0)); err != nil {
			return err
		}
		return tl.Reserve(1, 10, Whole(6), OrderRef(1))
	})
	require.NoError(t, err)

	changes, err := inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Release(1, 10, Whole(9), OrderRef(1))
	})
	require.NoError(t, err)
	require.Equal(t, Whole(6), changes[0].Amount, "only what was reserved is released")

	inv := mustGet(t, l, 1, 10)
	require.Equal(t, Units(0), inv.Reserved)
	require.Equal(t, Whole(10), inv.Quantity)

	_, err = inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Release(2, 10, Whole(1), OrderRef(9))
	})
	require.ErrorIs(t, err, ErrInventoryMissing)
}

func TestDebit_ReducesQuantityAndReserved(t *testing.T) {
	l, db := setupLedger(t)

	_, err := inTx(t, db, l, func(tl *TxLedger) error {
		if err := tl.Credit(1, 10, Whole(10), OrderRef(0)); err != nil {
			return err
		}
		if err := tl.Reserve(1, 10, Whole(10), OrderRef(1)); err != nil {
			return err
		}
		return tl.Debit(1, 10, Whole(4), TradeRef(7))
	})
	require.NoError(t, err)

	inv := mustGet(t, l, 1, 10)
	require.Equal(t, Whole(6), inv.Quantity)
	require.Equal(t, Whole(6), inv.Reserved)

	// 超过冻结量视为一致性错误
	_, err = inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Debit(1, 10, Whole(7), TradeRef(8))
	})
	require.ErrorIs(t, err, ErrInsufficientFreeInventory)

	_, err = inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Debit(3, 10, Whole(1), TradeRef(9))
	})
	require.ErrorIs(t, err, ErrInventoryMissing)
}

func TestConsume_OnlyFreeInventory(t *testing.T) {
	l, db := setupLedger(t)

	_, err := inTx(t, db, l, func(tl *TxLedger) error {
		if err := tl.Credit(1, 10, Whole(10), OrderRef(0)); err != nil {
			return err
		}
		return tl.Reserve(1, 10, Whole(8), OrderRef(1))
	})
	require.NoError(t, err)

	_, err = inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Consume(1, 10, Units(2500), Ref{Type: BizProduction, ID: "b1"})
	})
	require.ErrorIs(t, err, ErrInsufficientFreeInventory)

	_, err = inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Consume(1, 10, Units(1500), Ref{Type: BizProduction, ID: "b1"})
	})
	require.NoError(t, err)

	inv := mustGet(t, l, 1, 10)
	require.Equal(t, Units(8500), inv.Quantity)
	require.Equal(t, Whole(8), inv.Reserved)
}

func TestRollback_LeavesNoChange(t *testing.T) {
	l, db := setupLedger(t)
	boom := errors.New("boom")

	_, err := inTx(t, db, l, func(tl *TxLedger) error {
		if err := tl.Credit(1, 10, Whole(3), OrderRef(0)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	inv, err := l.Get(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Nil(t, inv)
}

func TestNonPositiveAmount(t *testing.T) {
	l, db := setupLedger(t)
	_, err := inTx(t, db, l, func(tl *TxLedger) error {
		return tl.Credit(1, 10, 0, OrderRef(0))
	})
	require.ErrorIs(t, err, ErrNonPositiveAmount)
}
