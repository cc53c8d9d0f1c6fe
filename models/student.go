package models

import (
	"time"

	"gorm.io/gorm"
)

// Instance is the organizational scope grouping students, shares and catalog items.
type Instance struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Description string    `gorm:"size:255" json:"description"`
	IsDeleted   bool      `gorm:"not null;default:false" json:"is_deleted"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Student struct {
	ID         int       `gorm:"primary_key" json:"id"`
	InstanceId int       `gorm:"index;not null" json:"instance_id"`
	Username   string    `gorm:"size:100" json:"username"`
	IsDeleted  bool      `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// InstancesExist fails with ErrInstanceNotFound if any id is unknown.
func InstancesExist(tx *gorm.DB, ids []int) error {
	unique := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	if len(unique) == 0 {
		return nil
	}
	var count int64
	if err := tx.Model(&Instance{}).Where("id IN ? AND is_deleted = ?", ids, false).Count(&count).Error; err != nil {
		return err
	}
	if int(count) != len(unique) {
		return ErrInstanceNotFound
	}
	return nil
}
