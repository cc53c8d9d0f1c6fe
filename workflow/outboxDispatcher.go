package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerEventPublisher delivers one ledger event and returns the broker message id.
type LedgerEventPublisher interface {
	Publish(ctx context.Context, msg models.LedgerEventMessage) (string, error)
}

// OutboxDispatcher publishes ledger events written next to each Transaction.
// Rows are claimed with FOR UPDATE SKIP LOCKED so several dispatchers can run side by side.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Publisher    LedgerEventPublisher
	DispatcherID string
	Clock        Clock

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger, publisher LedgerEventPublisher) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		Publisher:      publisher,
		DispatcherID:   uuid.NewString(),
		Clock:          systemClock{},
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && d.Logger != nil {
			d.Logger.WithField("field", "OutboxDispatcher").Error("claim ledger events: " + err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and tries to publish it. It returns how many events were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	if d.DB == nil || d.Publisher == nil {
		return 0, nil
	}
	now := d.Clock.Now()
	staleBefore := now.Add(-d.LockTimeout)

	var claimed []models.LedgerEventRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// PENDING / FAILED rows due for a retry, plus PROCESSING rows whose claim went stale
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []models.LedgerEventPublishStatus{models.LedgerEventPublishStatusPending, models.LedgerEventPublishStatusFailed},
				now, models.LedgerEventPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.LedgerEventPublishStatusDead
				if err := tx.Model(&models.LedgerEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.LedgerEventPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = models.LedgerEventPublishStatusProcessing
			claimed[i].PublishAttempts++
			if err := tx.Model(&models.LedgerEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     models.LedgerEventPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &d.DispatcherID,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, rec := range claimed {
		if rec.PublishStatus == models.LedgerEventPublishStatusDead {
			continue
		}
		pubID, pubErr := d.Publisher.Publish(ctx, models.ConvertToLedgerEventMessage(rec))
		if pubErr != nil {
			d.markPublishFailed(ctx, rec, pubErr)
			continue
		}
		d.markPublishSent(ctx, rec.ID, pubID)
		sent++
	}
	return sent, nil
}

func (d *OutboxDispatcher) markPublishSent(ctx context.Context, recordID int, pubsubMsgID string) {
	now := d.Clock.Now()
	err := d.DB.WithContext(ctx).Model(&models.LedgerEventRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":     models.LedgerEventPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &pubsubMsgID,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
	d.logMarkError(recordID, models.LedgerEventPublishStatusSent, err)
}

// logMarkError reports a status write that did not land. The row stays PROCESSING until its
// claim goes stale and is picked up again, so a SENT event may be published twice.
func (d *OutboxDispatcher) logMarkError(recordID int, status models.LedgerEventPublishStatus, err error) {
	if err == nil || d.Logger == nil {
		return
	}
	d.Logger.WithFields(logrus.Fields{
		"field":     "OutboxDispatcher",
		"record_id": recordID,
		"status":    status,
	}).Error("mark ledger event: " + err.Error())
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, rec models.LedgerEventRecord, err error) {
	db := d.DB.WithContext(ctx)
	msg := err.Error()
	attempt := rec.PublishAttempts

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		markErr := db.Model(&models.LedgerEventRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status":     models.LedgerEventPublishStatusDead,
				"last_publish_error": &msg,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error
		d.logMarkError(rec.ID, models.LedgerEventPublishStatusDead, markErr)
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":          "OutboxDispatcher",
				"share_id":       rec.ShareId,
				"transaction_id": rec.TransactionId,
				"attempt":        attempt,
			}).Error("ledger event moved to DEAD after max attempts: " + msg)
		}
		return
	}

	next := d.Clock.Now().Add(publishBackoff(d.InitialBackoff, attempt))
	markErr := db.Model(&models.LedgerEventRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.LedgerEventPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
	d.logMarkError(rec.ID, models.LedgerEventPublishStatusFailed, markErr)
	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "OutboxDispatcher",
			"share_id":        rec.ShareId,
			"transaction_id":  rec.TransactionId,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Warn("ledger event publish failed: " + msg)
	}
}

// publishBackoff doubles per attempt, capped at ten minutes.
func publishBackoff(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return backoff
}
