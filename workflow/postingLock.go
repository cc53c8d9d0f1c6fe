package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// acquireShareTypeRunLock keeps two dividend or limit-reset runs for the same share type
// from interleaving. It must be called on the transaction that does the run.
// MySQL GET_LOCK is connection-scoped and needs the returned release; Postgres releases at
// transaction end; SQLite already has a single writer.
func acquireShareTypeRunLock(tx *gorm.DB, job string, shareTypeId int) (func(), error) {
	lockName := fmt.Sprintf("ledger:%s:%d", job, shareTypeId)
	switch tx.Dialector.Name() {
	case "mysql":
		var ok int
		if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
			return func() {}, err
		}
		if ok != 1 {
			return func() {}, fmt.Errorf("could not acquire %s lock for share_type_id=%d", job, shareTypeId)
		}
		return func() {
			var released int
			_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&released).Error
		}, nil
	case "postgres":
		return func() {}, tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lockName).Error
	default:
		return func() {}, nil
	}
}
