package migrate

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, src string) *SqlFile {
	t.Helper()
	f, err := ParseFile(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseFile(%q): %v", src, err)
	}
	return f
}

var emptyFile = &SqlFile{}

// TestPlanIdempotent is spec.md §8 invariant 2: diff(current, desired)
// is empty when current == desired.
func TestPlanIdempotent(t *testing.T) {
	f := mustParse(t, `CREATE TABLE t(id integer NOT NULL);`)
	proposals, err := Plan(f, f, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(proposals) != 0 {
		t.Fatalf("expected no proposals, got %+v", proposals)
	}
}

// TestPlanScenarioA is spec.md §8 Scenario A — add a table.
func TestPlanScenarioA(t *testing.T) {
	desired := mustParse(t, `CREATE TABLE table0(id integer NOT NULL);`)
	proposals, err := Plan(emptyFile, desired, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d: %+v", len(proposals), proposals)
	}
	p := proposals[0]
	if p.Reason != (Diff{Kind: DiffAdded, ID: "table0"}) {
		t.Fatalf("unexpected reason: %+v", p.Reason)
	}
	want := []string{"CREATE TABLE table0(id integer NOT NULL)"}
	if len(p.Statements) != 1 || p.Statements[0] != want[0] {
		t.Fatalf("statements = %v, want %v", p.Statements, want)
	}
}

// TestPlanScenarioB is spec.md §8 Scenario B — rename a column,
// observed as a drop followed by an add.
func TestPlanScenarioB(t *testing.T) {
	current := mustParse(t, `CREATE TABLE t(id integer NOT NULL, column1 text NOT NULL DEFAULT 'bla');`)
	desired := mustParse(t, `CREATE TABLE t(id integer NOT NULL, column2 text NOT NULL DEFAULT 'bla');`)
	proposals, err := Plan(current, desired, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(proposals) != 2 {
		t.Fatalf("expected 2 proposals, got %d: %+v", len(proposals), proposals)
	}
	if proposals[0].Reason != (Diff{Kind: DiffRemoved, ID: "column1 text"}) {
		t.Fatalf("proposal 0 reason = %+v", proposals[0].Reason)
	}
	if proposals[0].Statements[0] != "ALTER TABLE t DROP COLUMN column1" {
		t.Fatalf("proposal 0 sql = %q", proposals[0].Statements[0])
	}
	if proposals[1].Reason != (Diff{Kind: DiffAdded, ID: "column2 text"}) {
		t.Fatalf("proposal 1 reason = %+v", proposals[1].Reason)
	}
	want := "ALTER TABLE t ADD COLUMN column2 text NOT NULL DEFAULT 'bla'"
	if proposals[1].Statements[0] != want {
		t.Fatalf("proposal 1 sql = %q, want %q", proposals[1].Statements[0], want)
	}
}

// TestPlanScenarioC is spec.md §8 Scenario C — adding a UNIQUE
// constraint forces the 5-step table-recreate sequence.
func TestPlanScenarioC(t *testing.T) {
	current := mustParse(t, `CREATE TABLE t(id integer NOT NULL);`)
	desired := mustParse(t, `CREATE TABLE t(id integer NOT NULL, UNIQUE(id));`)
	proposals, err := Plan(current, desired, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d: %+v", len(proposals), proposals)
	}
	p := proposals[0]
	if p.Reason != (Diff{Kind: DiffAdded, ID: "UNIQUE(id)"}) {
		t.Fatalf("unexpected reason: %+v", p.Reason)
	}
	want := []string{
		"CREATE TABLE t_aux(id integer NOT NULL, UNIQUE(id))",
		"INSERT OR IGNORE INTO t_aux(id) SELECT id FROM t",
		"DROP TABLE t",
		"ALTER TABLE t_aux RENAME TO t",
	}
	if len(p.Statements) != len(want) {
		t.Fatalf("statements = %v, want %v", p.Statements, want)
	}
	for i := range want {
		if p.Statements[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, p.Statements[i], want[i])
		}
	}
}

func insertRows(table, colList string, rows ...string) string {
	return "CREATE TABLE " + table + "(id integer NOT NULL, name text NOT NULL, PRIMARY KEY(id));\n" +
		"INSERT INTO " + table + "(" + colList + ") VALUES " + strings.Join(rows, ", ") + ";\n"
}

// TestPlanScenarioD is spec.md §8 Scenario D — a synchronized row
// update.
func TestPlanScenarioD(t *testing.T) {
	current := mustParse(t, insertRows("t", "id, name", "(1, 'zero')"))
	desired := mustParse(t, insertRows("t", "id, name", "(1, 'one')"))
	proposals, err := Plan(current, desired, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d: %+v", len(proposals), proposals)
	}
	p := proposals[0]
	if p.Reason != (Diff{Kind: DiffChanged, OldID: "zero", NewID: "one"}) {
		t.Fatalf("unexpected reason: %+v", p.Reason)
	}
	if p.Reason.String() != `Changed ("zero", "one")` {
		t.Fatalf("reason.String() = %q, want %q", p.Reason.String(), `Changed ("zero", "one")`)
	}
	want := "UPDATE t SET name = 'one' WHERE id = 1"
	if len(p.Statements) != 1 || p.Statements[0] != want {
		t.Fatalf("statements = %v, want [%q]", p.Statements, want)
	}
}

// TestPlanScenarioE is spec.md §8 Scenario E — a synchronized row
// delete, and separately a delete-then-insert when rows on both sides
// differ entirely.
func TestPlanScenarioE(t *testing.T) {
	current := mustParse(t, insertRows("t", "id, name", "(1, 'one')"))
	desired := mustParse(t, `CREATE TABLE t(id integer NOT NULL, name text NOT NULL, PRIMARY KEY(id));`)
	proposals, err := Plan(current, desired, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d: %+v", len(proposals), proposals)
	}
	if proposals[0].Reason != (Diff{Kind: DiffRemoved, ID: "1"}) {
		t.Fatalf("unexpected reason: %+v", proposals[0].Reason)
	}
	want := "DELETE FROM t WHERE id = 1"
	if proposals[0].Statements[0] != want {
		t.Fatalf("sql = %q, want %q", proposals[0].Statements[0], want)
	}

	desired2 := mustParse(t, insertRows("t", "id, name", "(2, 'two')"))
	proposals2, err := Plan(current, desired2, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(proposals2) != 2 {
		t.Fatalf("expected 2 proposals, got %d: %+v", len(proposals2), proposals2)
	}
	if proposals2[0].Reason.Kind != DiffRemoved || proposals2[0].Reason.ID != "1" {
		t.Fatalf("proposal 0 = %+v, want Removed 1", proposals2[0].Reason)
	}
	if proposals2[1].Reason.Kind != DiffAdded || proposals2[1].Reason.ID != "2" {
		t.Fatalf("proposal 1 = %+v, want Added 2", proposals2[1].Reason)
	}
	wantInsert := "INSERT INTO t(id, name) VALUES (2, 'two')"
	if proposals2[1].Statements[0] != wantInsert {
		t.Fatalf("insert sql = %q, want %q", proposals2[1].Statements[0], wantInsert)
	}
}

func TestPlanMissingPrimaryKeyFailsInsertDiff(t *testing.T) {
	current := mustParse(t, `CREATE TABLE t(id integer NOT NULL, name text NOT NULL);`)
	desired := mustParse(t, `
		CREATE TABLE t(id integer NOT NULL, name text NOT NULL);
		INSERT INTO t(id, name) VALUES (1, 'one');
	`)
	_, err := Plan(current, desired, nil)
	if _, ok := err.(*TableShouldHavePrimaryKeyError); !ok {
		t.Fatalf("expected *TableShouldHavePrimaryKeyError, got %T: %v", err, err)
	}
}

func TestPlanEnvVarSubstitution(t *testing.T) {
	current := mustParse(t, `CREATE TABLE t(id integer NOT NULL, token text NOT NULL, PRIMARY KEY(id));`)
	desired := mustParse(t, `
		CREATE TABLE t(id integer NOT NULL, token text NOT NULL, PRIMARY KEY(id));
		INSERT INTO t(id, token) VALUES (1, @API_TOKEN);
	`)
	env := func(name string) (string, bool) {
		if name == "API_TOKEN" {
			return "secret", true
		}
		return "", false
	}
	proposals, err := Plan(current, desired, env)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	want := "INSERT INTO t(id, token) VALUES (1, 'secret')"
	if len(proposals) != 1 || proposals[0].Statements[0] != want {
		t.Fatalf("statements = %+v, want [%q]", proposals, want)
	}
}

func TestPlanEnvVarMissingFails(t *testing.T) {
	current := mustParse(t, `CREATE TABLE t(id integer NOT NULL, token text NOT NULL, PRIMARY KEY(id));`)
	desired := mustParse(t, `
		CREATE TABLE t(id integer NOT NULL, token text NOT NULL, PRIMARY KEY(id));
		INSERT INTO t(id, token) VALUES (1, @MISSING);
	`)
	env := func(name string) (string, bool) { return "", false }
	_, err := Plan(current, desired, env)
	if _, ok := err.(*ExpectingEnvVarError); !ok {
		t.Fatalf("expected *ExpectingEnvVarError, got %T: %v", err, err)
	}
}
