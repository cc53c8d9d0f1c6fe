package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const dividendComment = "Dividend"

type DividendRun struct {
	ShareTypeId    int
	Rate           models.Rate
	Chunks         int
	SharesCredited int
	Total          models.Money
	Transactions   []int
}

// PostDividends credits Balance x DividendRate to every positive share of the type in the given
// instances. All instances and chunks run in one transaction; any failure rolls the whole run back.
// Dividends that round to zero are not posted.
func (l *Ledger) PostDividends(ctx context.Context, shareTypeId int, instanceIds []int) (_ *DividendRun, err error) {
	ctx, span := l.startSpan(ctx, "PostDividends")
	span.SetAttributes(attribute.Int("share_type_id", shareTypeId), attribute.IntSlice("instance_ids", instanceIds))
	defer func() { l.finish(span, "PostDividends", map[string]any{"share_type_id": shareTypeId, "instance_ids": instanceIds}, err) }()

	if len(instanceIds) == 0 {
		return nil, fmt.Errorf("no instances given: %w", models.ErrArgumentOutOfRange)
	}

	var run *DividendRun
	err = l.inTransaction(ctx, "post dividends", func(tx *gorm.DB) error {
		shareType, err := models.GetShareType(tx, shareTypeId)
		if err != nil {
			return err
		}
		if shareType.DividendRate.IsZero() {
			return fmt.Errorf("share type #%d has no dividend rate: %w", shareTypeId, models.ErrArgumentOutOfRange)
		}
		if err := models.InstancesExist(tx, instanceIds); err != nil {
			return err
		}
		unlock, err := acquireShareTypeRunLock(tx, "dividends", shareTypeId)
		if err != nil {
			return err
		}
		defer unlock()

		now := l.clock.Now()
		run = &DividendRun{ShareTypeId: shareTypeId, Rate: shareType.DividendRate}
		for _, instanceId := range sortedUniqueIds(instanceIds) {
			var chunk []*models.Share
			result := models.DividendEligibleShares(tx, shareTypeId, instanceId).
				Clauses(clause.Locking{Strength: "UPDATE"}).
				FindInBatches(&chunk, models.BatchChunkSize, func(_ *gorm.DB, batch int) error {
					for _, share := range chunk {
						share.ShareType = shareType
						dividend := share.Balance.MulRate(shareType.DividendRate)
						if dividend.IsZero() {
							continue
						}
						t, err := l.appendTransaction(ctx, tx, share, ledgerEntry{
							Amount:        dividend,
							Type:          models.TransactionTypeDividend,
							Comment:       dividendComment,
							EffectiveDate: now,
						}, now)
						if err != nil {
							return err
						}
						run.SharesCredited++
						run.Total = run.Total.Add(dividend)
						run.Transactions = append(run.Transactions, t.ID)
					}
					run.Chunks++
					l.logger.WithFields(logrus.Fields{
						"field":         "PostDividends",
						"share_type_id": shareTypeId,
						"instance_id":   instanceId,
						"chunk":         batch,
						"shares":        len(chunk),
					}).Debug("dividend chunk posted")
					return nil
				})
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"field":         "PostDividends",
		"share_type_id": shareTypeId,
		"shares":        run.SharesCredited,
		"total":         run.Total.String(),
	}).Info("dividends posted")
	return run, nil
}
