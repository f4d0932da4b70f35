package db

import (
	"gorm.io/gorm"
)

// LockSuffix returns the row-lock clause for raw queries. SQLite is
// single-writer and rejects FOR UPDATE, so the clause is omitted there.
func LockSuffix(db *gorm.DB) string {
	if db == nil || db.Dialector == nil || db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

// SkipLockedSuffix returns the batch-claim lock clause for raw queries,
// omitted on sqlite for the same reason as LockSuffix.
func SkipLockedSuffix(db *gorm.DB) string {
	if db == nil || db.Dialector == nil || db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE SKIP LOCKED"
}
