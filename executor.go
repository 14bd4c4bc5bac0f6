package migrate

import (
	"bufio"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// lastSchemaVersion reads the schemaVersion of the most recently stored
// migration, if any.
func lastSchemaVersion(db DB) (version string, ok bool, err error) {
	last, ok, err := getLastMigration(db)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return last.SchemaVersion, true, nil
}

// versionGreater reports whether a is strictly ahead of b. Both sides
// are parsed as integers when possible (the common case: schema_version
// is a monotonic counter in db.toml); any value that doesn't parse as an
// integer falls back to a byte-wise string comparison so the comparison
// is still total.
func versionGreater(a, b string) bool {
	ai, aerr := strconv.Atoi(strings.TrimSpace(a))
	bi, berr := strconv.Atoi(strings.TrimSpace(b))
	if aerr == nil && berr == nil {
		return ai > bi
	}
	return a > b
}

// CommitOptions carries the identifying details of the migration being
// attempted — the parts of MigrationIntent that come from the project
// file rather than from the Differ (spec.md §6's db.toml keys
// version_remarks / schema_version, and the resolved database path for
// the audit row's dbFile column).
type CommitOptions struct {
	DbFile         string
	VersionRemarks string
	SchemaVersion  string
	Env            EnvLookup
	Now            time.Time
}

// Commit is the Executor's main entry point (spec.md §4.4): it opens
// the audit store, diffs current against desired, and — unless nothing
// has changed — applies exactly one repair category inside a single
// transaction, then unconditionally records the attempt in the
// Migration Store, whether or not every step succeeded.
//
// A non-nil error with a nil intent means the migration was never
// attempted (store corruption, parse/type-check failure, a planning
// error, a missing @env substitution, or a stale schema version) — no
// repair statement ran. A failure to write the audit record is returned
// together with the intent, after the steps have run. Per-step failures during an attempted migration are
// instead recorded on the returned MigrationIntent's Steps and the
// transaction is rolled back; Commit itself still returns a nil error
// in that case, mirroring spec.md §4.4 step 5's "the ProposalResult
// list ... still contains every attempted step with errors attached."
func Commit(db DB, desired *SqlFile, opts CommitOptions) (*MigrationIntent, error) {
	if _, err := CheckTypes(desired); err != nil {
		return nil, err
	}
	if err := initStore(db); err != nil {
		return nil, err
	}
	current, err := ReadCatalog(db)
	if err != nil {
		return nil, err
	}
	proposals, err := Plan(current, desired, opts.Env)
	if err != nil {
		return nil, err
	}

	storedVersion, hasLast, err := lastSchemaVersion(db)
	if err != nil {
		return nil, err
	}

	if len(proposals) == 0 {
		if hasLast && storedVersion == opts.SchemaVersion {
			return &MigrationIntent{
				VersionRemarks: opts.VersionRemarks,
				SchemaVersion:  opts.SchemaVersion,
				Date:           opts.Now,
			}, nil
		}
		if hasLast && versionGreater(storedVersion, opts.SchemaVersion) {
			return nil, &StaleMigrationError{StoredVersion: storedVersion, DesiredVersion: opts.SchemaVersion}
		}
		proposals = []SolverProposal{{
			Reason: Diff{Kind: DiffChanged, OldID: storedVersion, NewID: opts.SchemaVersion},
		}}
	}

	results := applyProposals(db, proposals)

	intent := MigrationIntent{
		VersionRemarks: opts.VersionRemarks,
		SchemaVersion:  opts.SchemaVersion,
		Date:           opts.Now,
		Steps:          results,
	}
	if err := db.Tx(func(tx Tx) error {
		_, err := storeMigration(tx, opts.DbFile, intent)
		return err
	}); err != nil {
		return &intent, err
	}
	return &intent, nil
}

// containsRecreate reports whether any of a proposal's statements is
// part of the five-step table-recreate sequence (differ.go's
// recreateSequence) — recognized by its "RENAME TO" finisher, which no
// other category emits.
func containsRecreate(proposals []SolverProposal) bool {
	for _, p := range proposals {
		for _, stmt := range p.Statements {
			if strings.Contains(strings.ToUpper(stmt), "RENAME TO") {
				return true
			}
		}
	}
	return false
}

// applyProposals runs every proposal's statements inside one
// transaction, in order. The first statement to fail stops execution of
// every subsequent step and rolls back the whole transaction; every
// attempted step (including ones after the failure that were never
// reached) is still returned, with Error set on the one that failed.
//
// When the batch includes a table-recreate sequence, foreign key
// enforcement is toggled off for its duration and a
// PRAGMA foreign_key_check runs before commit — grounded on the
// teacher's MigrateFunc (migration.go), which brackets its own
// "rename and recreate" strategy with PRAGMA foreign_keys=OFF/ON and a
// pre-commit foreign_key_check so dropping and renaming a table
// mid-sequence doesn't trip FK checks the old table itself would have
// failed transiently.
func applyProposals(db DB, proposals []SolverProposal) []ProposalResult {
	results := make([]ProposalResult, len(proposals))
	for i, p := range proposals {
		results[i] = ProposalResult{SolverProposal: p}
	}

	toggleFK := containsRecreate(proposals)
	if toggleFK {
		if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
			for i := range results {
				results[i].Error = (&FailedQueryError{Sql: "PRAGMA foreign_keys=OFF", Cause: err}).Error()
			}
			return results
		}
		defer db.Exec("PRAGMA foreign_keys=ON")
	}

	failedAt := -1
	txErr := db.Tx(func(tx Tx) error {
		for i, p := range proposals {
			for _, stmt := range p.Statements {
				if _, err := tx.Exec(stmt); err != nil {
					results[i].Error = (&FailedQueryError{Sql: stmt, Cause: err}).Error()
					failedAt = i
					return fmt.Errorf("migration step %d failed: %w", i, err)
				}
			}
		}
		if toggleFK {
			type fkViolation struct {
				Table  string `db:"table"`
				RowID  *int64 `db:"rowid"`
				Parent string `db:"parent"`
				FkID   int64  `db:"fkid"`
			}
			var violations []fkViolation
			if err := tx.Select(&violations, "PRAGMA foreign_key_check"); err != nil && err != sql.ErrNoRows {
				return fmt.Errorf("foreign_key_check: %w", err)
			}
			if len(violations) > 0 {
				return fmt.Errorf("foreign_key_check reported %d violation(s) after recreate", len(violations))
			}
		}
		return nil
	})
	if txErr != nil && failedAt == -1 {
		// The transaction plumbing itself failed (e.g. couldn't start a
		// connection, or the post-recreate foreign_key_check) before any
		// step ran or after all of them succeeded.
		for i := range results {
			if results[i].Error == "" {
				results[i].Error = txErr.Error()
			}
		}
	}
	return results
}

// DryRun runs the Differ alone — spec.md §4.4's dryMigration — and
// never opens a write transaction. Callers (cmd/mig's `status`
// subcommand) are expected to pretty-print the returned proposals.
func DryRun(db DB, desired *SqlFile, env EnvLookup) ([]SolverProposal, error) {
	if _, err := CheckTypes(desired); err != nil {
		return nil, err
	}
	if err := initStore(db); err != nil {
		return nil, err
	}
	current, err := ReadCatalog(db)
	if err != nil {
		return nil, err
	}
	return Plan(current, desired, env)
}

// ManualMigrationIncompleteError reports that manualMigration's
// operator-supplied SQL did not bring the live schema fully in line
// with the desired one: the Differ still produced repair proposals
// after the manual statements were applied.
type ManualMigrationIncompleteError struct {
	RemainingSteps int
}

func (e *ManualMigrationIncompleteError) Error() string {
	return fmt.Sprintf("manual migration incomplete: %d repair step(s) remain after applying the supplied SQL", e.RemainingSteps)
}

// ManualMigration reads ad-hoc SQL statements from r (spec.md §4.4:
// "read SQL from standard input until EOF"), executes them in a single
// transaction, then re-runs the Differ. If the live schema still
// differs from desired, it fails without touching the audit store —
// the operator's SQL didn't finish the job. On success the statements
// are appended to the most recently stored migration via
// appendLastMigration, attributing the manual intervention to the
// automated step it completes.
func ManualMigration(db DB, desired *SqlFile, r io.Reader, opts CommitOptions) error {
	stmts, err := splitStatements(r)
	if err != nil {
		return err
	}
	if err := db.Tx(func(tx Tx) error {
		for _, s := range stmts {
			if _, err := tx.Exec(s); err != nil {
				return &FailedQueryError{Sql: s, Cause: err}
			}
		}
		return nil
	}); err != nil {
		return err
	}

	current, err := ReadCatalog(db)
	if err != nil {
		return err
	}
	remaining, err := Plan(current, desired, opts.Env)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return &ManualMigrationIncompleteError{RemainingSteps: len(remaining)}
	}

	last, ok, err := getLastMigration(db)
	if !ok {
		return nil // nothing to amend yet; the manual statements still stand
	}
	if err != nil {
		return err
	}
	extra := []ProposalResult{{SolverProposal: SolverProposal{
		Reason:     Diff{Kind: DiffAdded, ID: "manual"},
		Statements: stmts,
	}}}
	return db.Tx(func(tx Tx) error {
		return appendLastMigration(tx, opts.DbFile, last, extra, opts.Now)
	})
}

// Amend appends raw, already-applied SQL straight onto the most recent
// stored migration's step list, without executing it and without
// re-running the Differ — unlike ManualMigration, which both runs the
// SQL itself and insists the resulting schema converges. Amend exists
// for the case an operator ran DDL by hand outside mig entirely and
// only wants the audit trail to reflect it (cmd/mig's `amend`
// subcommand). It fails if the store has no prior migration to attach
// to.
func Amend(db DB, r io.Reader, opts CommitOptions) error {
	stmts, err := splitStatements(r)
	if err != nil {
		return err
	}
	last, ok, err := getLastMigration(db)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mig amend: no prior migration recorded to amend")
	}
	extra := []ProposalResult{{SolverProposal: SolverProposal{
		Reason:     Diff{Kind: DiffAdded, ID: "manual"},
		Statements: stmts,
	}}}
	return db.Tx(func(tx Tx) error {
		return appendLastMigration(tx, opts.DbFile, last, extra, opts.Now)
	})
}

// splitStatements breaks raw SQL text on ';' terminators, stripping
// `-- ...` line comments, and keeping a `CREATE TRIGGER ... END;` block
// whole even though it contains its own semicolons. Grounded on the
// teacher's ExecTx (migration.go): that statement-splitting shape is the
// one place the teacher itself had to hand-roll a scanner rather than
// lean on a parser, because it runs over operator-supplied text the
// owned Parser was never asked to accept.
func splitStatements(r io.Reader) ([]string, error) {
	var out []string
	var buf []byte
	scanner := bufio.NewReader(r)
	for {
		chunk, err := scanner.ReadString(';')
		if err == io.EOF {
			if strings.TrimSpace(chunk) != "" {
				buf = append(buf, chunk...)
			}
			break
		}
		if err != nil {
			return nil, err
		}
		inTrigger := len(buf) > 0 || strings.Contains(strings.ToUpper(chunk), "CREATE TRIGGER")
		if inTrigger && !strings.HasSuffix(strings.ToUpper(strings.TrimSpace(chunk)), "END;") {
			buf = append(buf, chunk...)
			continue
		}
		var stmt string
		if len(buf) > 0 {
			stmt = string(buf) + chunk
			buf = buf[:0]
		} else {
			stmt = chunk
		}
		stmt = stripLineComments(stmt)
		stmt = strings.TrimSpace(stmt)
		stmt = strings.TrimSuffix(stmt, ";")
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	if rest := strings.TrimSpace(stripLineComments(string(buf))); rest != "" {
		out = append(out, rest)
	}
	return out, nil
}

func stripLineComments(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, "--"); idx != -1 {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}
