package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// PostingRequest is one balance change on a share.
type PostingRequest struct {
	ShareId int          `validate:"required,gt=0"`
	Amount  models.Money `validate:"-"`
	Comment string       `validate:"max=255"`
	// Type defaults from the sign of Amount.
	Type          models.TransactionType `validate:"omitempty,oneof=D W T C V F"`
	EffectiveDate *time.Time
	// TakeNegative allows the balance to go below zero.
	TakeNegative        bool
	SkipWithdrawalLimit bool
	// IdempotencyKey, when set, makes a repeated request return the first Transaction.
	IdempotencyKey string `validate:"max=255"`
}

type BatchOptions struct {
	// ContinueOnNonsufficientFunds skips NSF items instead of aborting the batch.
	ContinueOnNonsufficientFunds bool
	// SkipWithdrawalLimit applies to every item.
	SkipWithdrawalLimit bool
}

type BatchFailure struct {
	Index   int
	Request PostingRequest
	Err     error
}

type BatchResult struct {
	Transactions []*models.Transaction
	Failures     []BatchFailure
}

// ledgerEntry is one row appended to a share.
type ledgerEntry struct {
	Amount        models.Money
	Type          models.TransactionType
	Comment       string
	EffectiveDate time.Time
	// TouchActivity stamps DateLastActive.
	TouchActivity bool
}

func (l *Ledger) validateRequest(req any) error {
	if err := l.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrArgumentOutOfRange, err)
	}
	return nil
}

// Post applies one posting to a share in its own transaction.
func (l *Ledger) Post(ctx context.Context, req PostingRequest) (_ *models.Transaction, err error) {
	ctx, span := l.startSpan(ctx, "Post")
	span.SetAttributes(attribute.Int("share_id", req.ShareId), attribute.String("amount", req.Amount.String()))
	defer func() { l.finish(span, "Post", req, err) }()

	if err := l.validateRequest(req); err != nil {
		return nil, err
	}
	release, err := l.locker.LockShares(ctx, req.ShareId)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.postLocked(ctx, req)
}

// postLocked is Post for callers that already hold the share lock. Share locks are not re-entrant.
func (l *Ledger) postLocked(ctx context.Context, req PostingRequest) (*models.Transaction, error) {
	var result *models.Transaction
	err := l.inTransaction(ctx, "post", func(tx *gorm.DB) error {
		share, err := models.LockActiveShare(tx, req.ShareId)
		if err != nil {
			return err
		}
		result, err = l.postToShare(ctx, tx, share, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PostBatch applies postings in order inside one transaction.
// Without ContinueOnNonsufficientFunds the first failure rolls everything back. With it, an item
// failing on funds is undone back to its savepoint and reported; any other failure still aborts.
func (l *Ledger) PostBatch(ctx context.Context, reqs []PostingRequest, opts BatchOptions) (_ *BatchResult, err error) {
	ctx, span := l.startSpan(ctx, "PostBatch")
	span.SetAttributes(attribute.Int("items", len(reqs)))
	defer func() { l.finish(span, "PostBatch", len(reqs), err) }()

	shareIds := make([]int, 0, len(reqs))
	for _, req := range reqs {
		if err := l.validateRequest(req); err != nil {
			return nil, err
		}
		shareIds = append(shareIds, req.ShareId)
	}
	release, err := l.locker.LockShares(ctx, shareIds...)
	if err != nil {
		return nil, err
	}
	defer release()

	var result BatchResult
	err = l.inTransaction(ctx, "post batch", func(tx *gorm.DB) error {
		result = BatchResult{}
		// row locks in ascending id order, whatever the item order
		shares := make(map[int]*models.Share, len(shareIds))
		for _, id := range sortedUniqueIds(shareIds) {
			share, err := models.LockActiveShare(tx, id)
			if err != nil {
				return err
			}
			shares[id] = share
		}

		for i, req := range reqs {
			share := shares[req.ShareId]
			if opts.SkipWithdrawalLimit {
				req.SkipWithdrawalLimit = true
			}
			if !opts.ContinueOnNonsufficientFunds {
				t, err := l.postToShare(ctx, tx, share, req)
				if err != nil {
					return fmt.Errorf("batch item %d: %w", i, err)
				}
				result.Transactions = append(result.Transactions, t)
				continue
			}

			savepoint := fmt.Sprintf("batch_item_%d", i)
			if err := tx.SavePoint(savepoint).Error; err != nil {
				return err
			}
			snapshot := *share
			t, err := l.postToShare(ctx, tx, share, req)
			if err == nil {
				result.Transactions = append(result.Transactions, t)
				continue
			}
			if !errors.Is(err, models.ErrNonsufficientFunds) {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
				return rbErr
			}
			*share = snapshot
			result.Failures = append(result.Failures, BatchFailure{Index: i, Request: req, Err: err})
			l.logger.WithFields(logrus.Fields{
				"field":    "PostBatch",
				"index":    i,
				"share_id": req.ShareId,
			}).Info("batch item skipped: " + err.Error())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// postToShare runs the posting algorithm against an already locked share.
func (l *Ledger) postToShare(ctx context.Context, tx *gorm.DB, share *models.Share, req PostingRequest) (*models.Transaction, error) {
	if req.IdempotencyKey != "" {
		existing, err := models.FindIdempotentTransaction(tx, share.ID, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := l.clock.Now()
	txnType := req.Type
	if txnType == "" {
		txnType = models.TransactionTypeForAmount(req.Amount)
	}
	effectiveDate := now
	if req.EffectiveDate != nil {
		effectiveDate = *req.EffectiveDate
	}

	if txnType == models.TransactionTypeWithdrawal && !req.SkipWithdrawalLimit {
		if _, err := l.evaluateWithdrawalLimit(ctx, tx, share, now); err != nil {
			return nil, err
		}
	}
	if err := checkFunds(share, req.Amount, req.TakeNegative); err != nil {
		return nil, err
	}

	t, err := l.appendTransaction(ctx, tx, share, ledgerEntry{
		Amount:        req.Amount,
		Type:          txnType,
		Comment:       req.Comment,
		EffectiveDate: effectiveDate,
		TouchActivity: true,
	}, now)
	if err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		if err := models.RecordIdempotencyKey(tx, share.ID, req.IdempotencyKey, t.ID); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func checkFunds(share *models.Share, amount models.Money, takeNegative bool) error {
	if takeNegative || !amount.IsNegative() {
		return nil
	}
	if share.Balance.Add(amount).IsNegative() {
		return &models.NonsufficientFundsError{ShareId: share.ID, Amount: amount, Balance: share.Balance}
	}
	return nil
}

// appendTransaction is the single place a share balance moves. It persists the share's
// ledger-owned columns, the Transaction row and its outbox event.
func (l *Ledger) appendTransaction(ctx context.Context, tx *gorm.DB, share *models.Share, entry ledgerEntry, now time.Time) (*models.Transaction, error) {
	share.Balance = share.Balance.Add(entry.Amount)
	if entry.TouchActivity {
		share.DateLastActive = now
	}
	if entry.Type == models.TransactionTypeDividend {
		share.DividendLastAmount = entry.Amount
		share.TotalDividends = share.TotalDividends.Add(entry.Amount)
	}
	if err := saveLedgerColumns(tx, share); err != nil {
		return nil, err
	}

	t := models.Transaction{
		TargetShareId:   share.ID,
		Amount:          entry.Amount,
		NewBalance:      share.Balance,
		TransactionType: entry.Type,
		Comment:         truncateComment(entry.Comment),
		EffectiveDate:   entry.EffectiveDate,
	}
	if err := tx.Create(&t).Error; err != nil {
		return nil, err
	}
	if err := models.RecordLedgerEvent(ctx, tx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func saveLedgerColumns(tx *gorm.DB, share *models.Share) error {
	return tx.Model(&models.Share{}).Where("id = ?", share.ID).Updates(map[string]interface{}{
		"balance":                  share.Balance,
		"limited_withdrawal_count": share.LimitedWithdrawalCount,
		"total_dividends":          share.TotalDividends,
		"dividend_last_amount":     share.DividendLastAmount,
		"date_last_active":         share.DateLastActive,
	}).Error
}

func truncateComment(s string) string {
	r := []rune(s)
	if len(r) <= 255 {
		return s
	}
	return string(r[:255])
}
