package migrate

import (
	"strings"
)

// ReadCatalog reads every user object's SQL out of sqlite_master —
// skipping SQLite's own sqlite_* bookkeeping tables and the migration
// store's own audit tables (storePrefix) — concatenates it, and
// re-parses it through the SQL Parser. The resulting SqlFile is what
// the Differ compares the desired schema against (spec.md §4.5).
func ReadCatalog(db DB) (*SqlFile, error) {
	var rows []struct {
		Sql string `db:"sql"`
	}
	err := db.Select(&rows, `SELECT sql FROM sqlite_master WHERE sql IS NOT NULL AND name NOT LIKE 'sqlite_%' AND name NOT LIKE ?`, storePrefix+"%")
	if err != nil {
		return nil, &FailedQueryError{Sql: "SELECT sql FROM sqlite_master", Cause: err}
	}
	var sb strings.Builder
	for _, r := range rows {
		sb.WriteString(r.Sql)
		sb.WriteString(";\n")
	}
	return ParseFile(strings.NewReader(sb.String()))
}
