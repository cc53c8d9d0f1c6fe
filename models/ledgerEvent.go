package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/studentbank_backend/appctx"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerEventRecord is the transactional outbox row written next to every posted Transaction.
// Publishing happens after commit, by the outbox dispatcher.
type LedgerEventRecord struct {
	ID               int                      `gorm:"primary_key" json:"id"`
	TransactionId    int                      `gorm:"index;not null" json:"transaction_id"`
	ShareId          int                      `gorm:"index;not null" json:"share_id"`
	TransactionType  TransactionType          `gorm:"size:1;not null" json:"transaction_type"`
	Amount           Money                    `gorm:"type:bigint;not null" json:"amount"`
	NewBalance       Money                    `gorm:"type:bigint;not null" json:"new_balance"`
	EffectiveDate    time.Time                `gorm:"not null" json:"effective_date"`
	CorrelationId    string                   `gorm:"size:64" json:"correlation_id"`
	PublishStatus    LedgerEventPublishStatus `gorm:"size:20;not null;default:PENDING;index" json:"publish_status"`
	PublishAttempts  int                      `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time               `gorm:"index" json:"next_attempt_at"`
	LockedAt         *time.Time               `json:"locked_at"`
	LockedBy         *string                  `gorm:"size:64" json:"locked_by"`
	LastPublishError *string                  `gorm:"type:text" json:"last_publish_error"`
	PubSubMessageId  *string                  `gorm:"size:255" json:"pub_sub_message_id"`
	PublishedAt      *time.Time               `json:"published_at"`
	CreatedAt        time.Time                `gorm:"autoCreateTime" json:"created_at"`
}

// LedgerEventMessage is the published payload.
type LedgerEventMessage struct {
	EventId         int             `json:"event_id"`
	TransactionId   int             `json:"transaction_id"`
	ShareId         int             `json:"share_id"`
	TransactionType TransactionType `json:"transaction_type"`
	Amount          Money           `json:"amount"`
	NewBalance      Money           `json:"new_balance"`
	EffectiveDate   time.Time       `json:"effective_date"`
	CorrelationId   string          `json:"correlation_id"`
}

// RecordLedgerEvent writes the outbox row inside the caller's transaction.
func RecordLedgerEvent(ctx context.Context, tx *gorm.DB, t *Transaction) error {
	record := LedgerEventRecord{
		TransactionId:   t.ID,
		ShareId:         t.TargetShareId,
		TransactionType: t.TransactionType,
		Amount:          t.Amount,
		NewBalance:      t.NewBalance,
		EffectiveDate:   t.EffectiveDate,
		CorrelationId:   correlationIdFromContextOrNew(ctx),
		PublishStatus:   LedgerEventPublishStatusPending,
	}
	return tx.Create(&record).Error
}

func ConvertToLedgerEventMessage(r LedgerEventRecord) LedgerEventMessage {
	return LedgerEventMessage{
		EventId:         r.ID,
		TransactionId:   r.TransactionId,
		ShareId:         r.ShareId,
		TransactionType: r.TransactionType,
		Amount:          r.Amount,
		NewBalance:      r.NewBalance,
		EffectiveDate:   r.EffectiveDate,
		CorrelationId:   r.CorrelationId,
	}
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := appctx.GetString(ctx, appctx.ContextKeyCorrelationId); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
