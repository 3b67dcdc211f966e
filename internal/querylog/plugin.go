package querylog

import (
	"time"

	"gorm.io/gorm"
)

const startedAtKey = "querylog:started_at"

// Plugin is a gorm plugin that records every statement into the Log carried
// by the statement context. Statements issued without a Log in their context
// (db.WithContext was not used, or no request is being traced) are ignored.
type Plugin struct{}

// Name implements gorm.Plugin.
func (Plugin) Name() string {
	return "render-trace:querylog"
}

// Initialize implements gorm.Plugin.
func (p Plugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("querylog:before_create", markStart); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("querylog:after_create", record); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("querylog:before_query", markStart); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("querylog:after_query", record); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("querylog:before_update", markStart); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("querylog:after_update", record); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("querylog:before_delete", markStart); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("querylog:after_delete", record); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("querylog:before_row", markStart); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("querylog:after_row", record); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("querylog:before_raw", markStart); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("querylog:after_raw", record)
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startedAtKey, time.Now())
}

func record(db *gorm.DB) {
	if db.Statement == nil {
		return
	}
	l := FromContext(db.Statement.Context)
	if l == nil {
		return
	}

	var elapsed time.Duration
	if v, ok := db.InstanceGet(startedAtKey); ok {
		if started, ok := v.(time.Time); ok {
			elapsed = time.Since(started)
		}
	}

	params := make([]any, len(db.Statement.Vars))
	copy(params, db.Statement.Vars)

	l.Record(Query{
		SQL:      db.Statement.SQL.String(),
		Table:    db.Statement.Table,
		Params:   params,
		Duration: elapsed,
	})
}
