package migrate_test

import (
	"testing"

	"github.com/james-darko/mig"
	_ "github.com/mattn/go-sqlite3"
)

func TestSeq(t *testing.T) {
	t.Parallel()
	db, err := migrate.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("failed to create test table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO test (name) VALUES ('Alice'), ('Bob'), ('Charlie')`); err != nil {
		t.Fatalf("failed to insert test data: %v", err)
	}

	type destType struct {
		ID   int    `db:"id"`
		Name string `db:"name"`
	}
	var results []destType
	var dest destType
	rows := db.SelectSeq(`SELECT id, name FROM test ORDER BY id`)
	for range rows.Iter(&dest) {
		results = append(results, dest)
	}
	if rows.Err() != nil {
		t.Fatalf("seq encountered an error: %v", rows.Err())
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []string{"Alice", "Bob", "Charlie"}
	for i, name := range want {
		if results[i].Name != name {
			t.Errorf("result %d: got %q, want %q", i, results[i].Name, name)
		}
	}
}
