package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Stock is a tradable instrument. AvailableShares is the unsold float.
type Stock struct {
	ID              int       `gorm:"primary_key" json:"id"`
	StockSymbol     string    `gorm:"size:10;not null" json:"stock_symbol"`
	CurrentValue    Money     `gorm:"type:bigint;not null;default:0" json:"current_value"`
	AvailableShares int64     `gorm:"not null;default:0" json:"available_shares"`
	IsDeleted       bool      `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type StockInstance struct {
	StockId    int `gorm:"primaryKey;autoIncrement:false" json:"stock_id"`
	InstanceId int `gorm:"primaryKey;autoIncrement:false" json:"instance_id"`
}

// StudentStock is a student's holding of one stock.
type StudentStock struct {
	ID              int                    `gorm:"primary_key" json:"id"`
	StudentId       int                    `gorm:"index:idx_student_stock,unique;not null" json:"student_id"`
	StockId         int                    `gorm:"index:idx_student_stock,unique;not null" json:"stock_id"`
	SharesOwned     int64                  `gorm:"not null;default:0" json:"shares_owned"`
	NetContribution Money                  `gorm:"type:bigint;not null;default:0" json:"net_contribution"`
	DateLastActive  time.Time              `json:"date_last_active"`
	History         []*StudentStockHistory `gorm:"foreignKey:StudentStockId" json:"history,omitempty"`
	CreatedAt       time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

// StudentStockHistory records one trade and the Transaction that moved its cash.
type StudentStockHistory struct {
	ID             int       `gorm:"primary_key" json:"id"`
	StudentStockId int       `gorm:"index;not null" json:"student_stock_id"`
	TransactionId  int       `gorm:"index;not null" json:"transaction_id"`
	Count          int64     `gorm:"not null" json:"count"`
	Amount         Money     `gorm:"type:bigint;not null" json:"amount"`
	DateCreated    time.Time `gorm:"not null" json:"date_created"`
}

// LockStock (may return ErrStockNotFound)
func LockStock(tx *gorm.DB, id int) (*Stock, error) {
	var stock Stock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND is_deleted = ?", id, false).
		First(&stock).Error
	if err != nil {
		return nil, NotFoundOr(err, ErrStockNotFound)
	}
	return &stock, nil
}

func IsStockLinkedToInstance(tx *gorm.DB, stockId int, instanceId int) (bool, error) {
	var count int64
	err := tx.Model(&StockInstance{}).Where("stock_id = ? AND instance_id = ?", stockId, instanceId).Count(&count).Error
	return count > 0, err
}

// FindStudentStock returns nil without error when the student holds no position.
func FindStudentStock(tx *gorm.DB, studentId int, stockId int) (*StudentStock, error) {
	var holdings []*StudentStock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("student_id = ? AND stock_id = ?", studentId, stockId).
		Limit(1).
		Find(&holdings).Error
	if err != nil || len(holdings) == 0 {
		return nil, err
	}
	return holdings[0], nil
}
