package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// storePrefix is the fixed name prefix every audit table carries, so
// the Catalog Reader (catalog.go) can filter the store's own tables out
// of the live schema it hands to the Differ.
const (
	storePrefix         = "github_com_lamg_migrate_"
	migrationTableName  = storePrefix + "migration"
	stepTableName       = storePrefix + "step"
	errorTableName      = storePrefix + "error"
)

// storeSchema is the canonical DDL for the three audit tables (spec.md
// §6). initStore compares the live sqlite_master rows against this text
// after collapsing whitespace runs (normalizeDDL); any other divergence
// is a FailedOpenStoreError.
var storeSchema = []string{
	fmt.Sprintf(`CREATE TABLE %s(
  id             integer PRIMARY KEY AUTOINCREMENT,
  hash           text NOT NULL,
  versionRemarks text NOT NULL,
  date           text NOT NULL,
  dbFile         text NOT NULL,
  schemaVersion  text NOT NULL)`, migrationTableName),
	fmt.Sprintf(`CREATE TABLE %s(
  migrationId integer NOT NULL,
  stepIndex   integer NOT NULL,
  reason      text    NOT NULL,
  sql         text    NOT NULL,
  PRIMARY KEY (migrationId, stepIndex))`, stepTableName),
	fmt.Sprintf(`CREATE TABLE %s(
  migrationId integer NOT NULL,
  stepIndex   integer NOT NULL,
  error       text    NOT NULL,
  PRIMARY KEY (migrationId, stepIndex))`, errorTableName),
}

// MigrationIntent is the in-memory description of one migration attempt,
// built by the Executor before it touches the database (spec.md §3).
type MigrationIntent struct {
	VersionRemarks string
	SchemaVersion  string
	Date           time.Time
	Steps          []ProposalResult
}

// MigrationRecord is one persisted migration, joined with its steps and
// any per-step errors, as returned by getMigrations.
type MigrationRecord struct {
	ID             int64
	Hash           string
	VersionRemarks string
	Date           string
	DbFile         string
	SchemaVersion  string
	Steps          []MigrationStep
}

// MigrationStep is one row of the step table, with its error attached
// when the step failed (spec.md invariant 5: a step row exists iff the
// migration attempted the statement; an error row exists iff it failed).
type MigrationStep struct {
	StepIndex int
	Reason    string
	Sql       string
	Error     *string
}

type migrationRow struct {
	ID             int64  `db:"id"`
	Hash           string `db:"hash"`
	VersionRemarks string `db:"versionRemarks"`
	Date           string `db:"date"`
	DbFile         string `db:"dbFile"`
	SchemaVersion  string `db:"schemaVersion"`
}

type stepRow struct {
	MigrationID int64  `db:"migrationId"`
	StepIndex   int    `db:"stepIndex"`
	Reason      string `db:"reason"`
	Sql         string `db:"sql"`
}

type errorRow struct {
	MigrationID int64  `db:"migrationId"`
	StepIndex   int    `db:"stepIndex"`
	Error       string `db:"error"`
}

// dateLayout is the RFC 3339 UTC form with millisecond precision spec.md
// §6 names: yyyy-MM-dd'T'HH:mm:ss.fffK.
const dateLayout = "2006-01-02T15:04:05.000Z07:00"

func formatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// initStore creates the audit tables if absent. If they are present and
// identical to storeSchema up to whitespace it is a no-op; any other existing shape
// is a FailedOpenStoreError, per spec.md §4.4 step 1.
func initStore(db DB) error {
	var rows []struct {
		Name string `db:"name"`
		Sql  string `db:"sql"`
	}
	err := db.Select(&rows, `SELECT name, sql FROM sqlite_master WHERE type='table' AND name LIKE ?`, storePrefix+"%")
	if err != nil {
		return &FailedOpenStoreError{Msg: err.Error()}
	}
	existing := map[string]string{}
	for _, r := range rows {
		existing[r.Name] = normalizeDDL(r.Sql)
	}
	wantNames := []string{migrationTableName, stepTableName, errorTableName}
	if len(existing) == 0 {
		for _, stmt := range storeSchema {
			if _, err := db.Exec(stmt); err != nil {
				return &FailedOpenStoreError{Msg: err.Error()}
			}
		}
		return nil
	}
	if len(existing) != len(wantNames) {
		return &FailedOpenStoreError{Msg: "migration store tables are partially present"}
	}
	for i, name := range wantNames {
		got, ok := existing[name]
		if !ok {
			return &FailedOpenStoreError{Msg: fmt.Sprintf("missing store table %s", name)}
		}
		if got != normalizeDDL(storeSchema[i]) {
			return &FailedOpenStoreError{Msg: fmt.Sprintf("store table %s does not match the canonical schema", name)}
		}
	}
	return nil
}

// normalizeDDL collapses whitespace runs so that cosmetic formatting
// differences (SQLite re-renders CREATE TABLE with its own spacing)
// don't trip the schema-identity check.
func normalizeDDL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// hashIntent computes the sha-256 hex digest of intent's canonical
// rendering (spec.md §6). It is the single source of truth for
// MigrationRecord.hash, called both by storeMigration and by
// appendLastMigration after splicing in the extra steps.
func hashIntent(dbFile string, intent MigrationIntent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "-- version_remarks: %s\n", intent.VersionRemarks)
	fmt.Fprintf(&sb, "-- migration_date: %s\n", formatDate(intent.Date))
	fmt.Fprintf(&sb, "--version: %s\n", intent.SchemaVersion)
	fmt.Fprintf(&sb, "-- database: %s\n", dbFile)
	for i, step := range intent.Steps {
		fmt.Fprintf(&sb, "-- step %d %s\n", i, step.Reason.String())
		for _, s := range step.Statements {
			fmt.Fprintf(&sb, "%s;\n", s)
		}
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// storeMigration inserts one migration row, one step row per proposal,
// and one error row per failed step. The caller (executor.go) must not
// call this with an empty Steps slice.
func storeMigration(tx Tx, dbFile string, intent MigrationIntent) (int64, error) {
	hash := hashIntent(dbFile, intent)
	id, err := tx.IDExec(
		fmt.Sprintf(`INSERT INTO %s (hash, versionRemarks, date, dbFile, schemaVersion) VALUES (?, ?, ?, ?, ?)`, migrationTableName),
		hash, intent.VersionRemarks, formatDate(intent.Date), dbFile, intent.SchemaVersion,
	)
	if err != nil {
		return 0, &FailedQueryError{Sql: "INSERT INTO " + migrationTableName, Cause: err}
	}
	if err := insertSteps(tx, id, 0, intent.Steps); err != nil {
		return 0, err
	}
	return id, nil
}

func insertSteps(tx Tx, migrationID int64, startIndex int, steps []ProposalResult) error {
	for i, step := range steps {
		idx := startIndex + i
		sqlJoined := strings.Join(step.Statements, ";\n")
		_, err := tx.Exec(
			fmt.Sprintf(`INSERT INTO %s (migrationId, stepIndex, reason, sql) VALUES (?, ?, ?, ?)`, stepTableName),
			migrationID, idx, step.Reason.String(), sqlJoined,
		)
		if err != nil {
			return &FailedQueryError{Sql: "INSERT INTO " + stepTableName, Cause: err}
		}
		if step.Error != "" {
			_, err := tx.Exec(
				fmt.Sprintf(`INSERT INTO %s (migrationId, stepIndex, error) VALUES (?, ?, ?)`, errorTableName),
				migrationID, idx, step.Error,
			)
			if err != nil {
				return &FailedQueryError{Sql: "INSERT INTO " + errorTableName, Cause: err}
			}
		}
	}
	return nil
}

// getMigrations returns every stored migration, newest first, joined
// with its steps and their optional errors.
func getMigrations(db DB) ([]MigrationRecord, error) {
	var mrows []migrationRow
	err := db.Select(&mrows, fmt.Sprintf(`SELECT id, hash, versionRemarks, date, dbFile, schemaVersion FROM %s ORDER BY date DESC, id DESC`, migrationTableName))
	if err != nil {
		return nil, &FailedQueryError{Sql: "SELECT FROM " + migrationTableName, Cause: err}
	}
	records := make([]MigrationRecord, len(mrows))
	for i, m := range mrows {
		var srows []stepRow
		err := db.Select(&srows, fmt.Sprintf(`SELECT migrationId, stepIndex, reason, sql FROM %s WHERE migrationId = ? ORDER BY stepIndex ASC`, stepTableName), m.ID)
		if err != nil {
			return nil, &FailedQueryError{Sql: "SELECT FROM " + stepTableName, Cause: err}
		}
		var erows []errorRow
		err = db.Select(&erows, fmt.Sprintf(`SELECT migrationId, stepIndex, error FROM %s WHERE migrationId = ?`, errorTableName), m.ID)
		if err != nil {
			return nil, &FailedQueryError{Sql: "SELECT FROM " + errorTableName, Cause: err}
		}
		errByIndex := map[int]string{}
		for _, e := range erows {
			errByIndex[e.StepIndex] = e.Error
		}
		steps := make([]MigrationStep, len(srows))
		for j, s := range srows {
			step := MigrationStep{StepIndex: s.StepIndex, Reason: s.Reason, Sql: s.Sql}
			if errStr, ok := errByIndex[s.StepIndex]; ok {
				step.Error = &errStr
			}
			steps[j] = step
		}
		records[i] = MigrationRecord{
			ID: m.ID, Hash: m.Hash, VersionRemarks: m.VersionRemarks,
			Date: m.Date, DbFile: m.DbFile, SchemaVersion: m.SchemaVersion,
			Steps: steps,
		}
	}
	return records, nil
}

// GetMigrations is the exported form of getMigrations, for callers
// outside the package (cmd/mig's `log` subcommand).
func GetMigrations(db DB) ([]MigrationRecord, error) {
	return getMigrations(db)
}

// getLastMigration returns the most recently stored migration, or
// ok=false if the store is empty.
func getLastMigration(db DB) (MigrationRecord, bool, error) {
	records, err := getMigrations(db)
	if err != nil {
		return MigrationRecord{}, false, err
	}
	if len(records) == 0 {
		return MigrationRecord{}, false, nil
	}
	return records[0], true, nil
}

// appendLastMigration extends the most recently stored migration with
// extra steps, re-computing the hash over the combined step list and
// updating the migration row's hash and date (spec.md §4.4). Used by
// manualMigration to attach operator-supplied SQL to the preceding
// automated step; the sole allowed mutation of a persisted
// MigrationRecord.
func appendLastMigration(tx Tx, dbFile string, last MigrationRecord, extra []ProposalResult, now time.Time) error {
	combined := make([]ProposalResult, 0, len(last.Steps)+len(extra))
	for _, s := range last.Steps {
		pr := ProposalResult{
			SolverProposal: SolverProposal{
				Reason:     parseDiffReason(s.Reason),
				Statements: strings.Split(s.Sql, ";\n"),
			},
		}
		if s.Error != nil {
			pr.Error = *s.Error
		}
		combined = append(combined, pr)
	}
	combined = append(combined, extra...)

	intent := MigrationIntent{
		VersionRemarks: last.VersionRemarks,
		SchemaVersion:  last.SchemaVersion,
		Date:           now,
		Steps:          combined,
	}
	newHash := hashIntent(dbFile, intent)

	if err := insertSteps(tx, last.ID, len(last.Steps), extra); err != nil {
		return err
	}
	_, err := tx.Exec(
		fmt.Sprintf(`UPDATE %s SET hash = ?, date = ? WHERE id = ?`, migrationTableName),
		newHash, formatDate(now), last.ID,
	)
	if err != nil {
		return &FailedQueryError{Sql: "UPDATE " + migrationTableName, Cause: err}
	}
	return nil
}

// Diff.String()'s three shapes, anchored for parseReason per spec.md
// §4.6's parseReason / §8's byte-exactness requirement.
var (
	reAdded   = regexp.MustCompile(`^Added "(.*)"$`)
	reRemoved = regexp.MustCompile(`^Removed "(.*)"$`)
	reChanged = regexp.MustCompile(`^Changed \("(.*)", "(.*)"\)$`)
)

// parseDiffReason is the inverse of Diff.String(), used when
// reconstructing a MigrationRecord's steps as SolverProposals (e.g. for
// appendLastMigration). It is unrecoverable on a reason string that
// doesn't match one of the three rendered shapes.
func parseDiffReason(s string) Diff {
	if m := reAdded.FindStringSubmatch(s); m != nil {
		return Diff{Kind: DiffAdded, ID: m[1]}
	}
	if m := reRemoved.FindStringSubmatch(s); m != nil {
		return Diff{Kind: DiffRemoved, ID: m[1]}
	}
	if m := reChanged.FindStringSubmatch(s); m != nil {
		return Diff{Kind: DiffChanged, OldID: m[1], NewID: m[2]}
	}
	panic(Error{fmt.Errorf("parseReason: reason %q does not match any known Diff rendering", s)})
}

// nextStepIndexIsDense is a defensive check exercised by tests
// (store_test.go) to confirm spec.md invariant 5: stepIndex values are
// contiguous starting at 0.
func nextStepIndexIsDense(steps []MigrationStep) bool {
	for i, s := range steps {
		if s.StepIndex != i {
			return false
		}
	}
	return true
}
