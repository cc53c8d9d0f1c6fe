package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// PostingIdempotencyKey makes a re-delivered posting resolve to the Transaction it already produced.
// Unique constraint: (share_id, idempotency_key).
type PostingIdempotencyKey struct {
	ID             int       `gorm:"primary_key" json:"id"`
	ShareId        int       `gorm:"not null;index:uniq_posting_idem,unique" json:"share_id"`
	IdempotencyKey string    `gorm:"size:255;not null;index:uniq_posting_idem,unique" json:"idempotency_key"`
	TransactionId  int       `gorm:"not null" json:"transaction_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// FindIdempotentTransaction returns the Transaction already recorded for the key, or nil.
func FindIdempotentTransaction(tx *gorm.DB, shareId int, key string) (*Transaction, error) {
	var existing PostingIdempotencyKey
	err := tx.Where("share_id = ? AND idempotency_key = ?", shareId, key).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result Transaction
	if err := tx.First(&result, existing.TransactionId).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

func RecordIdempotencyKey(tx *gorm.DB, shareId int, key string, transactionId int) error {
	return tx.Create(&PostingIdempotencyKey{
		ShareId:        shareId,
		IdempotencyKey: key,
		TransactionId:  transactionId,
	}).Error
}
