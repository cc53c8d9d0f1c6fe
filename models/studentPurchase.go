package models

import (
	"time"

	"gorm.io/gorm"
)

type StudentPurchase struct {
	ID          int                    `gorm:"primary_key" json:"id"`
	StudentId   int                    `gorm:"index;not null" json:"student_id"`
	TotalCost   Money                  `gorm:"type:bigint;not null" json:"total_cost"`
	DateCreated time.Time              `gorm:"not null" json:"date_created"`
	Items       []*StudentPurchaseItem `gorm:"foreignKey:StudentPurchaseId" json:"items"`
}

// StudentPurchaseItem snapshots the unit price at purchase time.
type StudentPurchaseItem struct {
	ID                int   `gorm:"primary_key" json:"id"`
	StudentPurchaseId int   `gorm:"index;not null" json:"student_purchase_id"`
	ProductId         int   `gorm:"index;not null" json:"product_id"`
	Quantity          int   `gorm:"not null" json:"quantity"`
	PurchasePrice     Money `gorm:"type:bigint;not null" json:"purchase_price"`
}

// Delete removes the purchase and its items.
func (p StudentPurchase) Delete(tx *gorm.DB) error {
	if err := tx.Where("student_purchase_id = ?", p.ID).Delete(&StudentPurchaseItem{}).Error; err != nil {
		return err
	}
	return tx.Delete(&StudentPurchase{}, p.ID).Error
}
