package models

import (
	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&Instance{}, &Student{},
		&ShareType{}, &Share{}, &Transaction{},
		&Product{}, &ProductInstance{}, &StudentPurchase{}, &StudentPurchaseItem{},
		&Stock{}, &StockInstance{}, &StudentStock{}, &StudentStockHistory{},
		&PostingIdempotencyKey{}, &LedgerEventRecord{},
	)
}
