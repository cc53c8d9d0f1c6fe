package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type PurchaseItem struct {
	ProductId int `validate:"required,gt=0"`
	Count     int
}

type purchaseRequest struct {
	ShareId int            `validate:"required,gt=0"`
	Items   []PurchaseItem `validate:"required,min=1,dive"`
}

// mergePurchaseItems folds repeated products into one line, keeping first-seen order.
func mergePurchaseItems(items []PurchaseItem) []PurchaseItem {
	index := make(map[int]int, len(items))
	merged := make([]PurchaseItem, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductId]; ok {
			merged[i].Count += item.Count
			continue
		}
		index[item.ProductId] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// Purchase records a store purchase and debits its total from the share.
// By default the purchase (step A) and the debit (step B) commit separately and a failed debit
// undoes step A. With AtomicWorkflows both run in one transaction.
func (l *Ledger) Purchase(ctx context.Context, shareId int, items []PurchaseItem) (_ *models.StudentPurchase, err error) {
	ctx, span := l.startSpan(ctx, "Purchase")
	span.SetAttributes(attribute.Int("share_id", shareId), attribute.Int("items", len(items)))
	defer func() { l.finish(span, "Purchase", map[string]any{"share_id": shareId, "items": items}, err) }()

	for _, item := range items {
		if item.Count < 1 {
			return nil, fmt.Errorf("product #%d count %d: %w", item.ProductId, item.Count, models.ErrInvalidQuantity)
		}
	}
	if err := l.validateRequest(purchaseRequest{ShareId: shareId, Items: items}); err != nil {
		return nil, err
	}
	items = mergePurchaseItems(items)

	if l.atomicWorkflows {
		release, err := l.locker.LockShares(ctx, shareId)
		if err != nil {
			return nil, err
		}
		defer release()

		var purchase *models.StudentPurchase
		err = l.inTransaction(ctx, "purchase", func(tx *gorm.DB) error {
			var err error
			purchase, err = l.recordPurchase(tx, shareId, items)
			if err != nil {
				return err
			}
			share, err := models.LockActiveShare(tx, shareId)
			if err != nil {
				return err
			}
			_, err = l.postToShare(ctx, tx, share, purchaseDebit(shareId, purchase))
			return err
		})
		if err != nil {
			return nil, err
		}
		return purchase, nil
	}

	var purchase *models.StudentPurchase
	err = l.inTransaction(ctx, "purchase", func(tx *gorm.DB) error {
		var err error
		purchase, err = l.recordPurchase(tx, shareId, items)
		return err
	})
	if err != nil {
		return nil, err
	}

	if _, postErr := l.Post(ctx, purchaseDebit(shareId, purchase)); postErr != nil {
		if compErr := l.undoPurchase(ctx, purchase); compErr != nil {
			return nil, models.NewCompensationError(postErr, compErr)
		}
		l.logger.WithFields(logrus.Fields{
			"field":       "Purchase",
			"purchase_id": purchase.ID,
			"share_id":    shareId,
		}).Warn("purchase undone after failed debit")
		return nil, postErr
	}
	return purchase, nil
}

func purchaseDebit(shareId int, purchase *models.StudentPurchase) PostingRequest {
	return PostingRequest{
		ShareId: shareId,
		Amount:  purchase.TotalCost.Neg(),
		Comment: fmt.Sprintf("Purchase #%d", purchase.ID),
	}
}

// recordPurchase is step A: reserve limited stock and write the purchase with price snapshots.
func (l *Ledger) recordPurchase(tx *gorm.DB, shareId int, items []PurchaseItem) (*models.StudentPurchase, error) {
	share, err := models.GetActiveShare(tx, shareId)
	if err != nil {
		return nil, err
	}
	scope, err := models.GetShareScope(tx, share)
	if err != nil {
		return nil, err
	}

	purchase := models.StudentPurchase{
		StudentId:   share.StudentId,
		DateCreated: l.clock.Now(),
	}
	for _, item := range items {
		product, err := models.LockScopedProduct(tx, item.ProductId, scope.InstanceId)
		if err != nil {
			return nil, err
		}
		if product.IsLimitedQuantity {
			if item.Count > product.Quantity {
				return nil, fmt.Errorf("product #%d has %d left, %d requested: %w",
					product.ID, product.Quantity, item.Count, models.ErrInvalidQuantity)
			}
			if err := tx.Model(&models.Product{}).Where("id = ?", product.ID).
				Update("quantity", gorm.Expr("quantity - ?", item.Count)).Error; err != nil {
				return nil, err
			}
		}
		purchase.TotalCost = purchase.TotalCost.Add(product.Cost.MulCount(int64(item.Count)))
		purchase.Items = append(purchase.Items, &models.StudentPurchaseItem{
			ProductId:     product.ID,
			Quantity:      item.Count,
			PurchasePrice: product.Cost,
		})
	}
	if err := tx.Create(&purchase).Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

// undoPurchase restores limited stock and deletes the purchase and its items.
func (l *Ledger) undoPurchase(ctx context.Context, purchase *models.StudentPurchase) error {
	return l.inTransaction(ctx, "undo purchase", func(tx *gorm.DB) error {
		for _, item := range purchase.Items {
			err := tx.Model(&models.Product{}).
				Where("id = ? AND is_limited_quantity = ?", item.ProductId, true).
				Update("quantity", gorm.Expr("quantity + ?", item.Quantity)).Error
			if err != nil {
				return err
			}
		}
		return purchase.Delete(tx)
	})
}
