package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"bitbucket.org/mmdatafocus/studentbank_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestTradeStockBuyThenSell(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	share := f.createShare(f.instanceId, f.createShareType(nil), "20.00")
	stock := f.createStock(f.instanceId, "2.50", 100)
	ctx := context.Background()

	holding, err := f.ledger.TradeStock(ctx, share.ID, stock.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), holding.SharesOwned)
	assert.Equal(t, "7.50", holding.NetContribution.String())
	assert.Equal(t, "12.50", f.balance(share.ID))
	assert.Equal(t, int64(97), f.stock(stock.ID).AvailableShares)
	require.Len(t, holding.History, 1)
	buy := f.transactions(share.ID)[1]
	assert.Equal(t, buy.ID, holding.History[0].TransactionId)
	assert.Equal(t, models.TransactionTypeWithdrawal, buy.TransactionType)
	assert.Equal(t, "-7.50", buy.Amount.String())

	holding, err = f.ledger.TradeStock(ctx, share.ID, stock.ID, -2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), holding.SharesOwned)
	assert.Equal(t, "2.50", holding.NetContribution.String())
	assert.Equal(t, "17.50", f.balance(share.ID))
	assert.Equal(t, int64(99), f.stock(stock.ID).AvailableShares)
	assert.Equal(t, int64(2), f.count(&models.StudentStockHistory{}, "student_stock_id = ?", holding.ID))
	f.requireBalanceIdentity(share.ID)
}

func TestTradeStockRejectsInvalidTrades(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	share := f.createShare(f.instanceId, f.createShareType(nil), "5.00")
	stock := f.createStock(f.instanceId, "1.00", 10)
	unlisted := f.createStock(0, "1.00", 10)
	ctx := context.Background()

	cases := []struct {
		name     string
		stockId  int
		quantity int64
		want     error
	}{
		{"zero quantity", stock.ID, 0, models.ErrArgumentOutOfRange},
		{"unknown stock", 9999, 1, models.ErrStockNotFound},
		{"not offered in instance", unlisted.ID, 1, models.ErrUnauthorizedPurchase},
		{"more than available", stock.ID, 11, models.ErrInvalidShareQuantity},
		{"selling unowned shares", stock.ID, -1, models.ErrInvalidShareQuantity},
		{"insufficient funds", stock.ID, 6, models.ErrNonsufficientFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ledger.TradeStock(ctx, share.ID, tc.stockId, tc.quantity)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, "5.00", f.balance(share.ID))
	assert.Equal(t, int64(10), f.stock(stock.ID).AvailableShares)
	assert.Zero(t, f.count(&models.StudentStock{}, ""))
}

func TestTradeStockIgnoresWithdrawalLimit(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	shareType := f.createShareType(func(st *models.ShareType) { st.WithdrawalLimitCount = 1 })
	share := f.createShare(f.instanceId, shareType, "10.00")
	require.NoError(t, f.db.Model(&models.Share{}).Where("id = ?", share.ID).Update("limited_withdrawal_count", 1).Error)
	stock := f.createStock(f.instanceId, "1.00", 10)

	_, err := f.ledger.TradeStock(context.Background(), share.ID, stock.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "8.00", f.balance(share.ID))
}

func TestTradeStockVoidsCashWhenSettlementFails(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	share := f.createShare(f.instanceId, f.createShareType(nil), "10.00")
	stock := f.createStock(f.instanceId, "2.00", 10)
	injected := errors.New("deadlock found")
	f.failOn("create", "student_stock_histories", injected)

	_, err := f.ledger.TradeStock(context.Background(), share.ID, stock.ID, 2)
	require.ErrorIs(t, err, injected)
	require.ErrorIs(t, err, models.ErrDatabase)

	assert.Equal(t, "10.00", f.balance(share.ID))
	assert.Equal(t, int64(10), f.stock(stock.ID).AvailableShares)
	txns := f.transactions(share.ID)
	require.Len(t, txns, 3)
	assert.Equal(t, "-4.00", txns[1].Amount.String())
	assert.Equal(t, "4.00", txns[2].Amount.String())
	assert.True(t, strings.HasPrefix(txns[2].Comment, "Void"))
	f.requireBalanceIdentity(share.ID)
}

func TestTradeStockReportsBothErrorsWhenVoidFails(t *testing.T) {
	f := newFixture(t, workflow.Options{})
	share := f.createShare(f.instanceId, f.createShareType(nil), "10.00")
	stock := f.createStock(f.instanceId, "2.00", 10)
	settleErr := errors.New("settle failed")
	voidErr := errors.New("void failed")
	f.failOn("create", "student_stock_histories", settleErr)
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_void", func(db *gorm.DB) {
		if txn, ok := db.Statement.Dest.(*models.Transaction); ok && strings.HasPrefix(txn.Comment, "Void") {
			db.AddError(voidErr)
		}
	}))

	_, err := f.ledger.TradeStock(context.Background(), share.ID, stock.ID, 2)
	var compensation *models.CompensationError
	require.True(t, errors.As(err, &compensation))
	assert.ErrorIs(t, err, settleErr)
	assert.ErrorIs(t, err, voidErr)
	assert.Equal(t, "6.00", f.balance(share.ID))
}

func TestTradeStockAtomicModeLeavesNoCashOnFailure(t *testing.T) {
	f := newFixture(t, workflow.Options{AtomicWorkflows: true})
	share := f.createShare(f.instanceId, f.createShareType(nil), "10.00")
	stock := f.createStock(f.instanceId, "2.00", 10)
	injected := errors.New("deadlock found")
	f.failOn("create", "student_stock_histories", injected)

	_, err := f.ledger.TradeStock(context.Background(), share.ID, stock.ID, 2)
	require.ErrorIs(t, err, injected)
	assert.Equal(t, "10.00", f.balance(share.ID))
	assert.Len(t, f.transactions(share.ID), 1)
	assert.Zero(t, f.count(&models.StudentStock{}, ""))
}
