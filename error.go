package migrate

import "fmt"

// Error wraps an arbitrary error for the panic-based Must/Mustv helpers
// in sqler.go. transaction() in transactions.go recovers exactly this
// type and turns it back into a normal returned error; any other panic
// value propagates.
type Error struct {
	err error
}

func (e Error) Error() string { return e.err.Error() }
func (e Error) Unwrap() error { return e.err }

// ParseError is returned by the SQL Parser (parser.go). Position is
// 1-based (line, column); Element names the grammar production being
// parsed when the failure occurred (e.g. "column definition").
type ParseError struct {
	Line    int
	Column  int
	Element string
	Msg     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d in %s: %s", e.Line, e.Column, e.Element, e.Msg)
}

// MalformedProjectError reports a structurally invalid db.toml project
// file (cmd/mig's project loader).
type MalformedProjectError struct {
	Path string
	Msg  string
}

func (e *MalformedProjectError) Error() string {
	return fmt.Sprintf("malformed project file %s: %s", e.Path, e.Msg)
}

// ExpectingEnvVarError reports a referenced environment variable
// (either a project-file key, or an `@name` row literal) that had no
// value in the process environment at the time it was needed.
type ExpectingEnvVarError struct {
	Var string
}

func (e *ExpectingEnvVarError) Error() string {
	return fmt.Sprintf("expecting environment variable %q to be set", e.Var)
}

// Type-checker errors (typecheck.go).

// UndefinedIdentifierError reports a column reference that matched no
// column of any relation in scope.
type UndefinedIdentifierError struct {
	Identifier string
}

func (e *UndefinedIdentifierError) Error() string {
	return fmt.Sprintf("undefined identifier %q", e.Identifier)
}

// DuplicatedDefinitionError reports a column reference that matched
// more than one relation's column of the same name.
type DuplicatedDefinitionError struct {
	Identifier string
}

func (e *DuplicatedDefinitionError) Error() string {
	return fmt.Sprintf("ambiguous identifier %q matches more than one column", e.Identifier)
}

// CannotInferTypeWithoutTableError reports an unqualified column
// reference in a FROM clause with more than one relation.
type CannotInferTypeWithoutTableError struct {
	Identifier string
}

func (e *CannotInferTypeWithoutTableError) Error() string {
	return fmt.Sprintf("cannot infer type of %q without a qualifying table: FROM clause has more than one relation", e.Identifier)
}

// NotMatchingTypesError reports a binary expression whose two operands
// have different inferred types.
type NotMatchingTypesError struct {
	Left, Right SqlType
}

func (e *NotMatchingTypesError) Error() string {
	return fmt.Sprintf("operand types do not match: %s vs %s", e.Left, e.Right)
}

// ExpectingTypeError reports an expression that type-checked to a type
// other than the one a containing construct requires (e.g. NOT on a
// non-Bool operand).
type ExpectingTypeError struct {
	Want, Got SqlType
}

func (e *ExpectingTypeError) Error() string {
	return fmt.Sprintf("expecting type %s, got %s", e.Want, e.Got)
}

// UnsupportedTypeInferenceError reports an expression shape the type
// checker has no rule for (e.g. an unrecognized function name).
type UnsupportedTypeInferenceError struct {
	Expr string
}

func (e *UnsupportedTypeInferenceError) Error() string {
	return fmt.Sprintf("unsupported expression for type inference: %s", e.Expr)
}

// ViewCycleError reports a dependency cycle among CREATE VIEW
// statements, detected during the type checker's topological sort.
type ViewCycleError struct {
	Views []string
}

func (e *ViewCycleError) Error() string {
	return fmt.Sprintf("cycle detected among views: %v", e.Views)
}

// Planning errors (differ.go).

// TableShouldHavePrimaryKeyError reports a synchronized table (one
// with INSERT rows to reconcile) that declares no primary key.
type TableShouldHavePrimaryKeyError struct {
	Table string
}

func (e *TableShouldHavePrimaryKeyError) Error() string {
	return fmt.Sprintf("table %q must have a primary key to synchronize rows", e.Table)
}

// TableShouldHaveSinglePrimaryKeyError reports a synchronized table
// that declares more than one PRIMARY KEY constraint.
type TableShouldHaveSinglePrimaryKeyError struct {
	Table string
}

func (e *TableShouldHaveSinglePrimaryKeyError) Error() string {
	return fmt.Sprintf("table %q declares more than one primary key constraint", e.Table)
}

// NoDefaultValueForColumnError reports an ADD COLUMN that SQLite
// cannot perform because the new column has no DEFAULT.
type NoDefaultValueForColumnError struct {
	Table, Column string
}

func (e *NoDefaultValueForColumnError) Error() string {
	return fmt.Sprintf("column %q of table %q needs a DEFAULT to be added to an existing table", e.Column, e.Table)
}

// Execution errors (executor.go, store.go).

// FailedOpenDbError reports a failure to open the target database
// connection.
type FailedOpenDbError struct {
	DbFile string
	Msg    string
}

func (e *FailedOpenDbError) Error() string {
	return fmt.Sprintf("failed to open database %q: %s", e.DbFile, e.Msg)
}

// FailedQueryError reports a driver-level failure executing one
// migration statement; it is attached to the offending ProposalResult
// rather than aborting the process directly.
type FailedQueryError struct {
	Sql   string
	Cause error
}

func (e *FailedQueryError) Error() string {
	return fmt.Sprintf("query failed: %s\nsql: %s", e.Cause, e.Sql)
}

func (e *FailedQueryError) Unwrap() error { return e.Cause }

// FailedOpenStoreError reports that the audit-table schema found in
// the database does not match the canonical schema in §6 and cannot
// be safely used. This is unrecoverable: the Executor aborts without
// attempting any migration.
type FailedOpenStoreError struct {
	Msg string
}

func (e *FailedOpenStoreError) Error() string {
	return fmt.Sprintf("failed to open migration store: %s", e.Msg)
}

// StaleMigrationError reports that the stored schema version is
// strictly greater than the desired one while the Differ found no
// repair steps — the database is ahead of the schema being applied.
type StaleMigrationError struct {
	StoredVersion, DesiredVersion string
}

func (e *StaleMigrationError) Error() string {
	return fmt.Sprintf("database schema version %q is ahead of desired version %q", e.StoredVersion, e.DesiredVersion)
}
