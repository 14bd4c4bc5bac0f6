package migrate

import (
	"testing"
	"time"
)

func openMemDB(t *testing.T) DB {
	t.Helper()
	db, err := Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := initStore(db); err != nil {
		t.Fatalf("initStore: %v", err)
	}
	return db
}

func TestInitStoreIsIdempotent(t *testing.T) {
	db := openMemDB(t)
	if err := initStore(db); err != nil {
		t.Fatalf("second initStore call: %v", err)
	}
}

// TestStoreMigrationAndGetLast is spec.md invariant 5: a step row exists
// for every proposal, and an error row exists iff that step failed.
func TestStoreMigrationAndGetLast(t *testing.T) {
	db := openMemDB(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	intent := MigrationIntent{
		VersionRemarks: "add table0",
		SchemaVersion:  "1",
		Date:           now,
		Steps: []ProposalResult{
			{SolverProposal: SolverProposal{
				Reason:     Diff{Kind: DiffAdded, ID: "table0"},
				Statements: []string{"CREATE TABLE table0(id integer NOT NULL)"},
			}},
		},
	}
	if err := db.Tx(func(tx Tx) error {
		_, err := storeMigration(tx, "app.db", intent)
		return err
	}); err != nil {
		t.Fatalf("storeMigration: %v", err)
	}

	last, ok, err := getLastMigration(db)
	if err != nil {
		t.Fatalf("getLastMigration: %v", err)
	}
	if !ok {
		t.Fatalf("expected a stored migration")
	}
	if last.SchemaVersion != "1" || last.DbFile != "app.db" {
		t.Fatalf("unexpected record: %+v", last)
	}
	if len(last.Steps) != 1 || last.Steps[0].Error != nil {
		t.Fatalf("unexpected steps: %+v", last.Steps)
	}
	if !nextStepIndexIsDense(last.Steps) {
		t.Fatalf("step indexes are not dense: %+v", last.Steps)
	}
	if last.Hash != hashIntent("app.db", intent) {
		t.Fatalf("hash = %q, want %q", last.Hash, hashIntent("app.db", intent))
	}
}

// TestAppendLastMigrationRechainsHash is spec.md §8 Scenario F: one
// failing step recorded, then a follow-up successful step appended via
// appendLastMigration. The migration ends up with two step rows (one
// carrying an error), and the migration's hash is recomputed over the
// combined step list.
func TestAppendLastMigrationRechainsHash(t *testing.T) {
	db := openMemDB(t)
	t1 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	failing := MigrationIntent{
		VersionRemarks: "add table0",
		SchemaVersion:  "1",
		Date:           t1,
		Steps: []ProposalResult{
			{
				SolverProposal: SolverProposal{
					Reason:     Diff{Kind: DiffAdded, ID: "table0"},
					Statements: []string{"CREATE TBLE table0(id integer NOT NULL)"},
				},
				Error: "near \"TBLE\": syntax error",
			},
		},
	}
	if err := db.Tx(func(tx Tx) error {
		_, err := storeMigration(tx, "app.db", failing)
		return err
	}); err != nil {
		t.Fatalf("storeMigration: %v", err)
	}

	last, ok, err := getLastMigration(db)
	if err != nil || !ok {
		t.Fatalf("getLastMigration: ok=%v err=%v", ok, err)
	}
	if len(last.Steps) != 1 || last.Steps[0].Error == nil {
		t.Fatalf("expected 1 failed step, got %+v", last.Steps)
	}

	t2 := t1.Add(time.Minute)
	extra := []ProposalResult{{SolverProposal: SolverProposal{
		Reason:     Diff{Kind: DiffAdded, ID: "table0"},
		Statements: []string{"CREATE TABLE table0(id integer NOT NULL)"},
	}}}
	if err := db.Tx(func(tx Tx) error {
		return appendLastMigration(tx, "app.db", last, extra, t2)
	}); err != nil {
		t.Fatalf("appendLastMigration: %v", err)
	}

	updated, ok, err := getLastMigration(db)
	if err != nil || !ok {
		t.Fatalf("getLastMigration after append: ok=%v err=%v", ok, err)
	}
	if len(updated.Steps) != 2 {
		t.Fatalf("expected 2 steps after append, got %d: %+v", len(updated.Steps), updated.Steps)
	}
	if !nextStepIndexIsDense(updated.Steps) {
		t.Fatalf("step indexes are not dense after append: %+v", updated.Steps)
	}
	if updated.Steps[0].Error == nil {
		t.Fatalf("step 0 should still carry its error: %+v", updated.Steps[0])
	}
	if updated.Steps[1].Error != nil {
		t.Fatalf("step 1 should have no error: %+v", updated.Steps[1])
	}
	if updated.Hash == last.Hash {
		t.Fatalf("hash did not change after append")
	}

	recombined := MigrationIntent{
		VersionRemarks: last.VersionRemarks,
		SchemaVersion:  last.SchemaVersion,
		Date:           t2,
		Steps: []ProposalResult{
			{
				SolverProposal: SolverProposal{
					Reason:     parseDiffReason(last.Steps[0].Reason),
					Statements: []string{"CREATE TBLE table0(id integer NOT NULL)"},
				},
				Error: *last.Steps[0].Error,
			},
			extra[0],
		},
	}
	want := hashIntent("app.db", recombined)
	if updated.Hash != want {
		t.Fatalf("hash = %q, want %q", updated.Hash, want)
	}
}

func TestParseDiffReasonRoundTrip(t *testing.T) {
	cases := []Diff{
		{Kind: DiffAdded, ID: "table0"},
		{Kind: DiffRemoved, ID: "column1 text"},
		{Kind: DiffChanged, OldID: "'zero'", NewID: "'one'"},
	}
	for _, d := range cases {
		got := parseDiffReason(d.String())
		if got != d {
			t.Errorf("parseDiffReason(%q) = %+v, want %+v", d.String(), got, d)
		}
	}
}
