package config

import (
	"bitbucket.org/mmdatafocus/studentbank_backend/models"
	"gorm.io/gorm"
)

// LedgerGuardPlugin keeps the ledger append-only by rejecting UPDATE and DELETE
// statements against the transactions table.
//
// NOTE:
// - This does NOT apply to Raw/Exec SQL. Retention purges are an administrative job outside the ledger.
type LedgerGuardPlugin struct {
	tables map[string]bool
}

func NewLedgerGuardPlugin() *LedgerGuardPlugin {
	return &LedgerGuardPlugin{tables: map[string]bool{"transactions": true}}
}

func (p *LedgerGuardPlugin) Name() string { return "ledger_guard" }

func (p *LedgerGuardPlugin) Initialize(db *gorm.DB) error {
	// Update
	if err := db.Callback().Update().Before("gorm:update").Register("ledger_guard:update", p.guard); err != nil {
		return err
	}
	// Delete
	if err := db.Callback().Delete().Before("gorm:delete").Register("ledger_guard:delete", p.guard); err != nil {
		return err
	}
	return nil
}

func (p *LedgerGuardPlugin) guard(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	table := db.Statement.Table
	if table == "" && db.Statement.Schema != nil {
		table = db.Statement.Schema.Table
	}
	if p.tables[table] {
		db.AddError(models.ErrLedgerImmutable)
	}
}
