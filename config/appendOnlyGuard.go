package config

import (
	"errors"

	"gorm.io/gorm"
)

// AuditTableName is the table backing the durable audit chain.
const AuditTableName = "audit_entries"

var ErrAppendOnlyTable = errors.New("table is append-only")

// AppendOnlyPlugin rejects UPDATE and DELETE statements against the listed
// tables. Raw SQL is not covered; the audit sink never issues any.
type AppendOnlyPlugin struct {
	tables map[string]struct{}
}

func NewAppendOnlyPlugin(tables ...string) *AppendOnlyPlugin {
	p := &AppendOnlyPlugin{tables: make(map[string]struct{}, len(tables))}
	for _, t := range tables {
		p.tables[t] = struct{}{}
	}
	return p
}

func (p *AppendOnlyPlugin) Name() string { return "append_only_guard" }

func (p *AppendOnlyPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").Register("append_only_guard:update", p.reject); err != nil {
		return err
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("append_only_guard:delete", p.reject); err != nil {
		return err
	}
	return nil
}

func (p *AppendOnlyPlugin) reject(db *gorm.DB) {
	if db == nil || db.Statement == nil {
		return
	}
	if _, ok := p.tables[db.Statement.Table]; !ok {
		return
	}
	_ = db.AddError(ErrAppendOnlyTable)
}
