package workflow

import (
	"context"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type TransferRequest struct {
	SourceShareId      int          `validate:"required,gt=0"`
	DestinationShareId int          `validate:"required,gt=0,nefield=SourceShareId"`
	Amount             models.Money `validate:"-"`
	Comment            string       `validate:"max=200"`
	TakeNegative       bool
}

type TransferResult struct {
	Debit  *models.Transaction
	Credit *models.Transaction
}

// Transfer moves a positive amount between two shares of the same instance as a pair of T
// rows. The debit goes through the withdrawal limit evaluator.
func (l *Ledger) Transfer(ctx context.Context, req TransferRequest) (_ *TransferResult, err error) {
	ctx, span := l.startSpan(ctx, "Transfer")
	span.SetAttributes(
		attribute.Int("source_share_id", req.SourceShareId),
		attribute.Int("destination_share_id", req.DestinationShareId),
		attribute.String("amount", req.Amount.String()),
	)
	defer func() { l.finish(span, "Transfer", req, err) }()

	if err := l.validateRequest(req); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("transfer amount %s must be positive: %w", req.Amount, models.ErrArgumentOutOfRange)
	}
	release, err := l.locker.LockShares(ctx, req.SourceShareId, req.DestinationShareId)
	if err != nil {
		return nil, err
	}
	defer release()

	var result TransferResult
	err = l.inTransaction(ctx, "transfer", func(tx *gorm.DB) error {
		shares := make(map[int]*models.Share, 2)
		for _, id := range sortedUniqueIds([]int{req.SourceShareId, req.DestinationShareId}) {
			share, err := models.LockActiveShare(tx, id)
			if err != nil {
				return err
			}
			shares[id] = share
		}
		source, destination := shares[req.SourceShareId], shares[req.DestinationShareId]

		sourceScope, err := models.GetShareScope(tx, source)
		if err != nil {
			return err
		}
		destinationScope, err := models.GetShareScope(tx, destination)
		if err != nil {
			return err
		}
		if sourceScope.InstanceId != destinationScope.InstanceId {
			return fmt.Errorf("shares #%d and #%d belong to different instances: %w",
				source.ID, destination.ID, models.ErrArgumentOutOfRange)
		}

		now := l.clock.Now()
		if _, err := l.evaluateWithdrawalLimit(ctx, tx, source, now); err != nil {
			return err
		}
		if err := checkFunds(source, req.Amount.Neg(), req.TakeNegative); err != nil {
			return err
		}

		result.Debit, err = l.appendTransaction(ctx, tx, source, ledgerEntry{
			Amount:        req.Amount.Neg(),
			Type:          models.TransactionTypeTransfer,
			Comment:       transferComment("Transfer to", destination.ID, req.Comment),
			EffectiveDate: now,
			TouchActivity: true,
		}, now)
		if err != nil {
			return err
		}
		result.Credit, err = l.appendTransaction(ctx, tx, destination, ledgerEntry{
			Amount:        req.Amount,
			Type:          models.TransactionTypeTransfer,
			Comment:       transferComment("Transfer from", source.ID, req.Comment),
			EffectiveDate: now,
			TouchActivity: true,
		}, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func transferComment(direction string, otherShareId int, comment string) string {
	if strings.TrimSpace(comment) == "" {
		return fmt.Sprintf("%s #%d", direction, otherShareId)
	}
	return fmt.Sprintf("%s #%d: %s", direction, otherShareId, comment)
}
