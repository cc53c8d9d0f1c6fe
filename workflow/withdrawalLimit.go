package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const withdrawalLimitFeeComment = "Withdrawal limit fee"

// evaluateWithdrawalLimit runs before a debit on a locked share. Under the limit the counter
// is bumped in memory and saved with the debit. At the limit the share type either charges
// its fee (counter untouched) or rejects the withdrawal.
func (l *Ledger) evaluateWithdrawalLimit(ctx context.Context, tx *gorm.DB, share *models.Share, now time.Time) (*models.Transaction, error) {
	shareType := share.ShareType
	if shareType == nil || !shareType.HasWithdrawalLimit() {
		return nil, nil
	}
	if share.LimitedWithdrawalCount < shareType.WithdrawalLimitCount {
		share.LimitedWithdrawalCount++
		return nil, nil
	}
	if !shareType.WithdrawalLimitShouldFee {
		return nil, fmt.Errorf("share #%d reached %d withdrawals this period: %w",
			share.ID, shareType.WithdrawalLimitCount, models.ErrWithdrawalLimitExceeded)
	}
	if !shareType.WithdrawalLimitFee.IsPositive() {
		return nil, nil
	}
	return l.appendTransaction(ctx, tx, share, ledgerEntry{
		Amount:        shareType.WithdrawalLimitFee.Neg(),
		Type:          models.TransactionTypeFee,
		Comment:       withdrawalLimitFeeComment,
		EffectiveDate: now,
		TouchActivity: true,
	}, now)
}

type LimitResetRun struct {
	ShareTypeId int
	Chunks      int
	SharesReset int
	ResetAt     time.Time
}

// ResetWithdrawalLimit zeroes the withdrawal counter of every share of the type, a chunk at a
// time, then stamps the reset time. Share types without a limit are left alone and return nil.
func (l *Ledger) ResetWithdrawalLimit(ctx context.Context, shareTypeId int) (_ *LimitResetRun, err error) {
	ctx, span := l.startSpan(ctx, "ResetWithdrawalLimit")
	span.SetAttributes(attribute.Int("share_type_id", shareTypeId))
	defer func() { l.finish(span, "ResetWithdrawalLimit", shareTypeId, err) }()

	var run *LimitResetRun
	err = l.inTransaction(ctx, "reset withdrawal limit", func(tx *gorm.DB) error {
		shareType, err := models.GetShareType(tx, shareTypeId)
		if err != nil {
			return err
		}
		if !shareType.HasWithdrawalLimit() {
			return nil
		}
		unlock, err := acquireShareTypeRunLock(tx, "limit-reset", shareTypeId)
		if err != nil {
			return err
		}
		defer unlock()

		now := l.clock.Now()
		run = &LimitResetRun{ShareTypeId: shareTypeId, ResetAt: now}
		var chunk []models.Share
		result := models.SharesOfType(tx, shareTypeId).Select("id").FindInBatches(&chunk, models.BatchChunkSize, func(_ *gorm.DB, batch int) error {
			ids := make([]int, len(chunk))
			for i, s := range chunk {
				ids[i] = s.ID
			}
			if err := tx.Model(&models.Share{}).Where("id IN ?", ids).Update("limited_withdrawal_count", 0).Error; err != nil {
				return err
			}
			run.Chunks++
			run.SharesReset += len(ids)
			l.logger.WithFields(logrus.Fields{
				"field":         "ResetWithdrawalLimit",
				"share_type_id": shareTypeId,
				"chunk":         batch,
				"shares":        len(ids),
			}).Debug("withdrawal limit chunk reset")
			return nil
		})
		if result.Error != nil {
			return result.Error
		}
		return tx.Model(&models.ShareType{}).Where("id = ?", shareTypeId).
			Update("withdrawal_limit_last_reset", now).Error
	})
	if err != nil {
		return nil, err
	}
	if run != nil {
		l.logger.WithFields(logrus.Fields{
			"field":         "ResetWithdrawalLimit",
			"share_type_id": shareTypeId,
			"chunks":        run.Chunks,
			"shares":        run.SharesReset,
		}).Info("withdrawal limit reset")
	}
	return run, nil
}

// ResetDueWithdrawalLimits resets every limited share type whose period has elapsed.
func (l *Ledger) ResetDueWithdrawalLimits(ctx context.Context) (_ []*LimitResetRun, err error) {
	ctx, span := l.startSpan(ctx, "ResetDueWithdrawalLimits")
	defer func() { l.finish(span, "ResetDueWithdrawalLimits", nil, err) }()

	shareTypes, err := models.GetLimitedShareTypes(l.db.WithContext(ctx))
	if err != nil {
		return nil, models.WrapDatabaseError("list limited share types", err)
	}
	now := l.clock.Now()
	var runs []*LimitResetRun
	for _, shareType := range shareTypes {
		if now.Before(shareType.WithdrawalLimitPeriod.NextReset(shareType.WithdrawalLimitLastReset)) {
			continue
		}
		run, err := l.ResetWithdrawalLimit(ctx, shareType.ID)
		if err != nil {
			return runs, err
		}
		if run != nil {
			runs = append(runs, run)
		}
	}
	return runs, nil
}
