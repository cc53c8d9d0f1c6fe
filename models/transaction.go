package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction is an append-only ledger entry. Amount is signed; NewBalance is the
// share balance right after this entry.
type Transaction struct {
	ID              int             `gorm:"primary_key" json:"id"`
	TargetShareId   int             `gorm:"index;not null" json:"target_share_id"`
	Amount          Money           `gorm:"type:bigint;not null" json:"amount"`
	NewBalance      Money           `gorm:"type:bigint;not null" json:"new_balance"`
	TransactionType TransactionType `gorm:"size:1;not null" json:"transaction_type"`
	Comment         string          `gorm:"size:255" json:"comment"`
	EffectiveDate   time.Time       `gorm:"index;not null" json:"effective_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// LatestTransaction returns nil when the share has never been posted to.
func LatestTransaction(tx *gorm.DB, shareId int) (*Transaction, error) {
	var results []*Transaction
	err := tx.Where("target_share_id = ?", shareId).Order("id DESC").Limit(1).Find(&results).Error
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

func GetShareTransactions(tx *gorm.DB, shareId int) ([]*Transaction, error) {
	var results []*Transaction
	err := tx.Where("target_share_id = ?", shareId).Order("id ASC").Find(&results).Error
	return results, err
}
