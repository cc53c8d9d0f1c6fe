package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Product is store catalog reference data. Quantity is only meaningful when IsLimitedQuantity.
type Product struct {
	ID                int       `gorm:"primary_key" json:"id"`
	Name              string    `gorm:"size:100;not null" json:"name"`
	Cost              Money     `gorm:"type:bigint;not null;default:0" json:"cost"`
	IsLimitedQuantity bool      `gorm:"not null;default:false" json:"is_limited_quantity"`
	Quantity          int       `gorm:"not null;default:0" json:"quantity"`
	IsDeleted         bool      `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProductInstance links a product to the instances where it is sold.
type ProductInstance struct {
	ProductId  int `gorm:"primaryKey;autoIncrement:false" json:"product_id"`
	InstanceId int `gorm:"primaryKey;autoIncrement:false" json:"instance_id"`
}

// LockScopedProduct loads a product sold in the given instance, locked for update.
// (may return ErrProductNotFound)
func LockScopedProduct(tx *gorm.DB, productId int, instanceId int) (*Product, error) {
	var product Product
	err := tx.Model(&Product{}).Select("products.*").
		Joins("JOIN product_instances ON product_instances.product_id = products.id AND product_instances.instance_id = ?", instanceId).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("products.id = ? AND products.is_deleted = ?", productId, false).
		First(&product).Error
	if err != nil {
		return nil, NotFoundOr(err, ErrProductNotFound)
	}
	return &product, nil
}
