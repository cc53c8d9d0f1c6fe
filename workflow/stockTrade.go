package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// stockTrade is a validated trade: the student, the stock and the signed cash leg.
type stockTrade struct {
	ShareId   int
	StudentId int
	StockId   int
	Quantity  int64
	Cost      models.Money
}

// TradeStock buys (quantity > 0) or sells (quantity < 0) stock for the student owning the share.
// By default the cash posting commits first and the holding update second; if the second
// step fails the cash posting is voided. With AtomicWorkflows both run in one transaction.
// Stock trades do not count toward the withdrawal limit.
func (l *Ledger) TradeStock(ctx context.Context, shareId int, stockId int, quantity int64) (_ *models.StudentStock, err error) {
	ctx, span := l.startSpan(ctx, "TradeStock")
	span.SetAttributes(attribute.Int("share_id", shareId), attribute.Int("stock_id", stockId), attribute.Int64("quantity", quantity))
	defer func() {
		l.finish(span, "TradeStock", map[string]any{"share_id": shareId, "stock_id": stockId, "quantity": quantity}, err)
	}()

	if quantity == 0 {
		return nil, fmt.Errorf("stock trade quantity must not be zero: %w", models.ErrArgumentOutOfRange)
	}
	release, err := l.locker.LockShares(ctx, shareId)
	if err != nil {
		return nil, err
	}
	defer release()

	if l.atomicWorkflows {
		var holding *models.StudentStock
		err = l.inTransaction(ctx, "trade stock", func(tx *gorm.DB) error {
			trade, err := prepareStockTrade(tx, shareId, stockId, quantity)
			if err != nil {
				return err
			}
			share, err := models.LockActiveShare(tx, shareId)
			if err != nil {
				return err
			}
			cash, err := l.postToShare(ctx, tx, share, stockTradePosting(trade))
			if err != nil {
				return err
			}
			holding, err = l.settleStockTrade(tx, trade, cash)
			return err
		})
		if err != nil {
			return nil, err
		}
		return holding, nil
	}

	var trade *stockTrade
	err = l.inTransaction(ctx, "prepare stock trade", func(tx *gorm.DB) error {
		var err error
		trade, err = prepareStockTrade(tx, shareId, stockId, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	cash, err := l.postLocked(ctx, stockTradePosting(trade))
	if err != nil {
		return nil, err
	}

	var holding *models.StudentStock
	settleErr := l.inTransaction(ctx, "settle stock trade", func(tx *gorm.DB) error {
		// the float or the holding may have moved since prepare
		if _, err := prepareStockTrade(tx, shareId, stockId, quantity); err != nil {
			return err
		}
		var err error
		holding, err = l.settleStockTrade(tx, trade, cash)
		return err
	})
	if settleErr == nil {
		return holding, nil
	}

	_, voidErr := l.postLocked(ctx, PostingRequest{
		ShareId:             shareId,
		Amount:              cash.Amount.Neg(),
		Comment:             fmt.Sprintf("Void of transaction #%d: stock trade failed", cash.ID),
		TakeNegative:        true,
		SkipWithdrawalLimit: true,
	})
	if voidErr != nil {
		return nil, models.NewCompensationError(settleErr, voidErr)
	}
	l.logger.WithFields(logrus.Fields{
		"field":          "TradeStock",
		"share_id":       shareId,
		"stock_id":       stockId,
		"transaction_id": cash.ID,
	}).Warn("stock trade cash posting voided")
	return nil, settleErr
}

func stockTradePosting(trade *stockTrade) PostingRequest {
	verb := "Buy"
	if trade.Quantity < 0 {
		verb = "Sell"
	}
	count := trade.Quantity
	if count < 0 {
		count = -count
	}
	return PostingRequest{
		ShareId:             trade.ShareId,
		Amount:              trade.Cost,
		Comment:             fmt.Sprintf("%s %d of stock #%d", verb, count, trade.StockId),
		SkipWithdrawalLimit: true,
	}
}

// prepareStockTrade checks the stock, its instance link and the available quantity on either side.
func prepareStockTrade(tx *gorm.DB, shareId int, stockId int, quantity int64) (*stockTrade, error) {
	stock, err := models.LockStock(tx, stockId)
	if err != nil {
		return nil, err
	}
	share, err := models.GetActiveShare(tx, shareId)
	if err != nil {
		return nil, err
	}
	scope, err := models.GetShareScope(tx, share)
	if err != nil {
		return nil, err
	}
	linked, err := models.IsStockLinkedToInstance(tx, stockId, scope.InstanceId)
	if err != nil {
		return nil, err
	}
	if !linked {
		return nil, fmt.Errorf("stock #%d is not offered in instance #%d: %w", stockId, scope.InstanceId, models.ErrUnauthorizedPurchase)
	}

	if quantity > 0 && quantity > stock.AvailableShares {
		return nil, fmt.Errorf("stock #%d has %d available, %d requested: %w",
			stockId, stock.AvailableShares, quantity, models.ErrInvalidShareQuantity)
	}
	if quantity < 0 {
		holding, err := models.FindStudentStock(tx, share.StudentId, stockId)
		if err != nil {
			return nil, err
		}
		var owned int64
		if holding != nil {
			owned = holding.SharesOwned
		}
		if -quantity > owned {
			return nil, fmt.Errorf("student owns %d of stock #%d, selling %d: %w",
				owned, stockId, -quantity, models.ErrInvalidShareQuantity)
		}
	}

	return &stockTrade{
		ShareId:   shareId,
		StudentId: share.StudentId,
		StockId:   stockId,
		Quantity:  quantity,
		Cost:      stock.CurrentValue.MulCount(quantity).Neg(),
	}, nil
}

// settleStockTrade moves the shares between the float and the holding and records history
// against the cash Transaction.
func (l *Ledger) settleStockTrade(tx *gorm.DB, trade *stockTrade, cash *models.Transaction) (*models.StudentStock, error) {
	now := l.clock.Now()
	holding, err := models.FindStudentStock(tx, trade.StudentId, trade.StockId)
	if err != nil {
		return nil, err
	}
	if holding == nil {
		holding = &models.StudentStock{StudentId: trade.StudentId, StockId: trade.StockId, DateLastActive: now}
		if err := tx.Create(holding).Error; err != nil {
			return nil, err
		}
	}

	holding.SharesOwned += trade.Quantity
	holding.NetContribution = holding.NetContribution.Sub(trade.Cost)
	holding.DateLastActive = now
	if err := tx.Model(&models.StudentStock{}).Where("id = ?", holding.ID).Updates(map[string]interface{}{
		"shares_owned":     holding.SharesOwned,
		"net_contribution": holding.NetContribution,
		"date_last_active": holding.DateLastActive,
	}).Error; err != nil {
		return nil, err
	}

	history := models.StudentStockHistory{
		StudentStockId: holding.ID,
		TransactionId:  cash.ID,
		Count:          trade.Quantity,
		Amount:         trade.Cost,
		DateCreated:    now,
	}
	if err := tx.Create(&history).Error; err != nil {
		return nil, err
	}

	if err := tx.Model(&models.Stock{}).Where("id = ?", trade.StockId).
		Update("available_shares", gorm.Expr("available_shares - ?", trade.Quantity)).Error; err != nil {
		return nil, err
	}
	holding.History = append(holding.History, &history)
	return holding, nil
}
