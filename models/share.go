package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchChunkSize is the page size for every paginated ledger batch.
const BatchChunkSize = 100

// ShareType is the account policy shared by many shares.
type ShareType struct {
	ID                       int                   `gorm:"primary_key" json:"id"`
	Name                     string                `gorm:"size:100;not null" json:"name"`
	DividendRate             Rate                  `gorm:"type:bigint;not null;default:0" json:"dividend_rate"`
	WithdrawalLimitCount     int                   `gorm:"not null;default:0" json:"withdrawal_limit_count"`
	WithdrawalLimitPeriod    WithdrawalLimitPeriod `gorm:"size:20;not null;default:Monthly" json:"withdrawal_limit_period"`
	WithdrawalLimitShouldFee bool                  `gorm:"not null;default:false" json:"withdrawal_limit_should_fee"`
	WithdrawalLimitFee       Money                 `gorm:"type:bigint;not null;default:0" json:"withdrawal_limit_fee"`
	WithdrawalLimitLastReset time.Time             `json:"withdrawal_limit_last_reset"`
	IsDeleted                bool                  `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt                time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (st ShareType) HasWithdrawalLimit() bool {
	return st.WithdrawalLimitCount > 0
}

// Share is a student's ledger account.
// Balance, LimitedWithdrawalCount and the dividend totals are only written by the ledger workflows.
type Share struct {
	ID                     int        `gorm:"primary_key" json:"id"`
	StudentId              int        `gorm:"index;not null" json:"student_id"`
	ShareTypeId            int        `gorm:"index;not null" json:"share_type_id"`
	ShareType              *ShareType `gorm:"foreignKey:ShareTypeId" json:"share_type,omitempty"`
	Balance                Money      `gorm:"type:bigint;not null;default:0" json:"balance"`
	LimitedWithdrawalCount int        `gorm:"not null;default:0" json:"limited_withdrawal_count"`
	TotalDividends         Money      `gorm:"type:bigint;not null;default:0" json:"total_dividends"`
	DividendLastAmount     Money      `gorm:"type:bigint;not null;default:0" json:"dividend_last_amount"`
	DateLastActive         time.Time  `json:"date_last_active"`
	IsDeleted              bool       `gorm:"not null;default:false;index" json:"is_deleted"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ShareScope is a share together with the organizational scope of its owner.
type ShareScope struct {
	Share      *Share
	InstanceId int
}

// activeShares restricts to non-deleted shares owned by non-deleted students.
func activeShares(tx *gorm.DB) *gorm.DB {
	return tx.Model(&Share{}).
		Joins("JOIN students ON students.id = shares.student_id AND students.is_deleted = ?", false).
		Where("shares.is_deleted = ?", false)
}

// GetActiveShare loads a share without locking it.
// (may return ErrShareNotFound)
func GetActiveShare(tx *gorm.DB, id int) (*Share, error) {
	var share Share
	err := activeShares(tx).Select("shares.*").Preload("ShareType").Where("shares.id = ?", id).First(&share).Error
	if err != nil {
		return nil, NotFoundOr(err, ErrShareNotFound)
	}
	return &share, nil
}

// LockActiveShare loads a share with SELECT ... FOR UPDATE. Must run inside a transaction.
// (may return ErrShareNotFound)
func LockActiveShare(tx *gorm.DB, id int) (*Share, error) {
	var share Share
	err := activeShares(tx).Select("shares.*").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shares.id = ?", id).
		First(&share).Error
	if err != nil {
		return nil, NotFoundOr(err, ErrShareNotFound)
	}
	// a retired share type still governs the shares opened under it
	var shareType ShareType
	if err := tx.First(&shareType, share.ShareTypeId).Error; err != nil {
		return nil, NotFoundOr(err, ErrShareTypeNotFound)
	}
	share.ShareType = &shareType
	return &share, nil
}

// GetShareScope resolves the instance a share's owner belongs to.
func GetShareScope(tx *gorm.DB, share *Share) (*ShareScope, error) {
	var student Student
	if err := tx.Where("id = ? AND is_deleted = ?", share.StudentId, false).First(&student).Error; err != nil {
		return nil, NotFoundOr(err, ErrShareNotFound)
	}
	return &ShareScope{Share: share, InstanceId: student.InstanceId}, nil
}

// GetShareType (may return ErrShareTypeNotFound)
func GetShareType(tx *gorm.DB, id int) (*ShareType, error) {
	var result ShareType
	if err := tx.Where("id = ? AND is_deleted = ?", id, false).First(&result).Error; err != nil {
		return nil, NotFoundOr(err, ErrShareTypeNotFound)
	}
	return &result, nil
}

// GetLimitedShareTypes returns share types with a withdrawal limit configured.
func GetLimitedShareTypes(tx *gorm.DB) ([]*ShareType, error) {
	var results []*ShareType
	err := tx.Where("is_deleted = ? AND withdrawal_limit_count > 0", false).Order("id").Find(&results).Error
	return results, err
}

// DividendEligibleShares selects shares of a type, in one instance, with a positive balance.
func DividendEligibleShares(tx *gorm.DB, shareTypeId int, instanceId int) *gorm.DB {
	return activeShares(tx).Select("shares.*").
		Where("shares.share_type_id = ? AND students.instance_id = ? AND shares.balance > ?", shareTypeId, instanceId, 0)
}

// SharesOfType selects every non-deleted share of a type.
func SharesOfType(tx *gorm.DB, shareTypeId int) *gorm.DB {
	return tx.Model(&Share{}).Where("share_type_id = ? AND is_deleted = ?", shareTypeId, false)
}
