package migrate

import (
	"strings"
	"testing"
	"time"
)

// TestCommitAppliesFirstCategory confirms a single Commit call applies
// everything in the Differ's first non-empty category (here: both
// missing tables, since diffTables groups all table adds/drops
// together) but nothing from later categories (the view, which
// depends on one of the new tables, is left for the next Commit).
func TestCommitAppliesFirstCategory(t *testing.T) {
	db := openMemDB(t)
	desired := mustParse(t, `
		CREATE TABLE t(id integer NOT NULL, name text NOT NULL);
		CREATE TABLE u(id integer NOT NULL);
		CREATE VIEW v AS SELECT id FROM u;
	`)
	opts := CommitOptions{DbFile: "app.db", SchemaVersion: "1", Now: time.Now()}

	intent, err := Commit(db, desired, opts)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(intent.Steps) != 2 {
		t.Fatalf("expected both table adds in this commit, got %d steps: %+v", len(intent.Steps), intent.Steps)
	}
	for _, s := range intent.Steps {
		if s.Error != "" {
			t.Fatalf("unexpected step error: %s", s.Error)
		}
	}

	var count int
	if err := db.Get(&count, `SELECT count(*) FROM sqlite_master WHERE type='table' AND name IN ('t','u')`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected both tables to be created by this commit, got %d", count)
	}

	if err := db.Get(&count, `SELECT count(*) FROM sqlite_master WHERE type='view' AND name = 'v'`); err != nil {
		t.Fatalf("view count: %v", err)
	}
	if count != 0 {
		t.Fatalf("the view should not be created until a later commit")
	}
}

// TestCommitUntilConverged drives Commit repeatedly, as `mig commit --all`
// does, until the Differ has nothing left to propose.
func TestCommitUntilConverged(t *testing.T) {
	db := openMemDB(t)
	desired := mustParse(t, `
		CREATE TABLE t(id integer NOT NULL, name text NOT NULL);
		CREATE TABLE u(id integer NOT NULL);
		CREATE VIEW v AS SELECT id FROM u;
	`)
	opts := CommitOptions{DbFile: "app.db", SchemaVersion: "1", Now: time.Now()}

	for i := 0; i < 10; i++ {
		intent, err := Commit(db, desired, opts)
		if err != nil {
			t.Fatalf("Commit iteration %d: %v", i, err)
		}
		if len(intent.Steps) == 0 {
			break
		}
		if i == 9 {
			t.Fatalf("did not converge after 10 commits")
		}
	}

	proposals, err := DryRun(db, desired, nil)
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if len(proposals) != 0 {
		t.Fatalf("expected no remaining proposals, got %+v", proposals)
	}
}

func TestCommitNoOpRecordsVersionBump(t *testing.T) {
	db := openMemDB(t)
	desired := mustParse(t, `CREATE TABLE t(id integer NOT NULL);`)

	opts1 := CommitOptions{DbFile: "app.db", SchemaVersion: "1", Now: time.Now()}
	if _, err := Commit(db, desired, opts1); err != nil {
		t.Fatalf("Commit 1: %v", err)
	}

	opts2 := CommitOptions{DbFile: "app.db", SchemaVersion: "2", Now: time.Now()}
	intent, err := Commit(db, desired, opts2)
	if err != nil {
		t.Fatalf("Commit 2: %v", err)
	}
	if len(intent.Steps) != 1 {
		t.Fatalf("expected a single version-bump step, got %+v", intent.Steps)
	}

	last, ok, err := getLastMigration(db)
	if err != nil || !ok {
		t.Fatalf("getLastMigration: ok=%v err=%v", ok, err)
	}
	if last.SchemaVersion != "2" {
		t.Fatalf("schema version = %q, want 2", last.SchemaVersion)
	}
}

func TestCommitStaleVersionFails(t *testing.T) {
	db := openMemDB(t)
	desired := mustParse(t, `CREATE TABLE t(id integer NOT NULL);`)

	opts1 := CommitOptions{DbFile: "app.db", SchemaVersion: "5", Now: time.Now()}
	if _, err := Commit(db, desired, opts1); err != nil {
		t.Fatalf("Commit 1: %v", err)
	}

	opts2 := CommitOptions{DbFile: "app.db", SchemaVersion: "3", Now: time.Now()}
	_, err := Commit(db, desired, opts2)
	if _, ok := err.(*StaleMigrationError); !ok {
		t.Fatalf("expected *StaleMigrationError, got %T: %v", err, err)
	}
}

// TestCommitFailedStepIsRecordedAndRolledBack forces the table-recreate
// sequence to collide with a pre-existing "t_aux" table, so the
// CREATE TABLE t_aux step fails at execution time (a genuine sqlite
// error, not one the type checker or Differ can see in advance), and
// confirms the failure is recorded rather than silently swallowed.
func TestCommitFailedStepIsRecordedAndRolledBack(t *testing.T) {
	db := openMemDB(t)
	if err := db.Tx(func(tx Tx) error {
		if _, err := tx.Exec(`CREATE TABLE t(id integer NOT NULL)`); err != nil {
			return err
		}
		_, err := tx.Exec(`CREATE TABLE t_aux(id integer NOT NULL)`)
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	desired := mustParse(t, `
		CREATE TABLE t(id integer NOT NULL, UNIQUE(id));
		CREATE TABLE t_aux(id integer NOT NULL);
	`)
	opts := CommitOptions{DbFile: "app.db", SchemaVersion: "1", Now: time.Now()}

	intent, err := Commit(db, desired, opts)
	if err != nil {
		t.Fatalf("Commit: %v (store writes still succeed even when a step fails)", err)
	}
	if len(intent.Steps) != 1 || intent.Steps[0].Error == "" {
		t.Fatalf("expected the recreate step to carry its failure, got %+v", intent.Steps)
	}

	var aux string
	if err := db.Get(&aux, `SELECT sql FROM sqlite_master WHERE name = 't_aux'`); err != nil {
		t.Fatalf("t_aux lookup: %v", err)
	}
	if !strings.Contains(aux, "id integer NOT NULL") || strings.Contains(aux, "UNIQUE") {
		t.Fatalf("expected the pre-existing t_aux to be untouched, got %q", aux)
	}

	last, ok, gerr := getLastMigration(db)
	if gerr != nil || !ok {
		t.Fatalf("getLastMigration: ok=%v err=%v", ok, gerr)
	}
	if len(last.Steps) != 1 || last.Steps[0].Error == nil {
		t.Fatalf("expected the failed step to be recorded with its error, got %+v", last.Steps)
	}
}

func TestManualMigrationAppliesAndChecksConvergence(t *testing.T) {
	db := openMemDB(t)
	opts := CommitOptions{DbFile: "app.db", SchemaVersion: "1", Now: time.Now()}

	// Seed a prior migration so there is something for the manual SQL
	// to be appended onto.
	seedDesired := mustParse(t, `CREATE TABLE seed(id integer NOT NULL);`)
	if _, err := Commit(db, seedDesired, opts); err != nil {
		t.Fatalf("seed Commit: %v", err)
	}

	desired := mustParse(t, `
		CREATE TABLE seed(id integer NOT NULL);
		CREATE TABLE t(id integer NOT NULL, name text NOT NULL);
	`)
	r := strings.NewReader(`CREATE TABLE t(id integer NOT NULL, name text NOT NULL);`)

	if err := ManualMigration(db, desired, r, opts); err != nil {
		t.Fatalf("ManualMigration: %v", err)
	}

	proposals, err := DryRun(db, desired, nil)
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if len(proposals) != 0 {
		t.Fatalf("expected convergence after manual migration, got %+v", proposals)
	}

	last, ok, err := getLastMigration(db)
	if err != nil || !ok {
		t.Fatalf("getLastMigration: ok=%v err=%v", ok, err)
	}
	if len(last.Steps) != 2 {
		t.Fatalf("expected the manual SQL appended onto the seed migration's single step, got %+v", last.Steps)
	}
	if last.Steps[1].Reason != "Added \"manual\"" {
		t.Fatalf("expected the appended step's reason to be the manual marker, got %q", last.Steps[1].Reason)
	}
}

func TestManualMigrationIncompleteFails(t *testing.T) {
	db := openMemDB(t)
	desired := mustParse(t, `CREATE TABLE t(id integer NOT NULL, name text NOT NULL DEFAULT '');`)
	r := strings.NewReader(`CREATE TABLE t(id integer NOT NULL);`)

	opts := CommitOptions{DbFile: "app.db", SchemaVersion: "1", Now: time.Now()}
	err := ManualMigration(db, desired, r, opts)
	if _, ok := err.(*ManualMigrationIncompleteError); !ok {
		t.Fatalf("expected *ManualMigrationIncompleteError, got %T: %v", err, err)
	}
}

func TestAmendAppendsWithoutReexecuting(t *testing.T) {
	db := openMemDB(t)
	desired := mustParse(t, `CREATE TABLE t(id integer NOT NULL);`)
	opts := CommitOptions{DbFile: "app.db", SchemaVersion: "1", Now: time.Now()}
	if _, err := Commit(db, desired, opts); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	before, _, err := getLastMigration(db)
	if err != nil {
		t.Fatalf("getLastMigration: %v", err)
	}

	opts.Now = opts.Now.Add(time.Minute)
	if err := Amend(db, strings.NewReader(`ALTER TABLE t ADD COLUMN note text DEFAULT '';`), opts); err != nil {
		t.Fatalf("Amend: %v", err)
	}

	after, ok, err := getLastMigration(db)
	if err != nil || !ok {
		t.Fatalf("getLastMigration after amend: ok=%v err=%v", ok, err)
	}
	if len(after.Steps) != len(before.Steps)+1 {
		t.Fatalf("expected one extra step after amend, before=%d after=%d", len(before.Steps), len(after.Steps))
	}
	if after.Hash == before.Hash {
		t.Fatalf("hash should change after amend")
	}
}

func TestAmendWithoutPriorMigrationFails(t *testing.T) {
	db := openMemDB(t)
	opts := CommitOptions{DbFile: "app.db", SchemaVersion: "1", Now: time.Now()}
	if err := Amend(db, strings.NewReader(`-- note\n`), opts); err == nil {
		t.Fatalf("expected Amend to fail when no migration has been stored yet")
	}
}
