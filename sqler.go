package migrate

import "github.com/jmoiron/sqlx"

// Sqler is the subset of DB/Tx behavior shared by both: enough to run
// statements and read rows without caring whether the caller is inside
// a transaction.
type Sqler interface {
	Exec(query string, args ...any) (Result, error)
	IDExec(query string, args ...any) (int64, error)
	AffectedExec(query string, args ...any) (int, error)
	Query(query string, args ...any) (*sqlx.Rows, error)
	QueryRow(query string, args ...any) *sqlx.Row
	Get(dest any, query string, args ...any) error
	GetIn(dest any, query string, args ...any) error
	Select(dest any, query string, args ...any) error
	SelectIn(dest any, query string, args ...any) error
}

// Mustv panics with the error wrapped in migrate.Error if err is not
// nil, otherwise it returns value. Reserved for construction-time
// programmer errors (CLI wiring, test setup), never for paths reachable
// from user-controlled schema text.
func Mustv[T any](value T, err error) T {
	if err != nil {
		panic(Error{err})
	}
	return value
}

// Must panics with the error wrapped in migrate.Error if err is not nil.
func Must(err error) {
	if err != nil {
		panic(Error{err})
	}
}
