package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	full := filepath.Join(dir, name)
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", full, err)
	}
	return full
}

func TestLoadProjectBasic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "schema.sql", `CREATE TABLE t(id integer NOT NULL);`)
	tomlPath := writeFile(t, dir, "db.toml", `
db_file = "APP_DB_FILE"
files = ["schema.sql"]
schema_version = "1"
version_remarks = "initial"
`)

	proj, err := LoadProject(tomlPath)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if proj.SchemaVersion != "1" || proj.VersionRemarks != "initial" {
		t.Fatalf("unexpected project: %+v", proj)
	}

	t.Setenv("APP_DB_FILE", "/tmp/app.db")
	dbFile, err := proj.ResolveDbFile()
	if err != nil {
		t.Fatalf("ResolveDbFile: %v", err)
	}
	if dbFile != "/tmp/app.db" {
		t.Fatalf("dbFile = %q, want /tmp/app.db", dbFile)
	}

	schema, err := proj.LoadDesiredSchema()
	if err != nil {
		t.Fatalf("LoadDesiredSchema: %v", err)
	}
	if len(schema.Tables) != 1 || schema.Tables[0].Name != "t" {
		t.Fatalf("unexpected schema: %+v", schema)
	}
}

func TestLoadProjectMissingDbFileEnv(t *testing.T) {
	dir := t.TempDir()
	tomlPath := writeFile(t, dir, "db.toml", `
db_file = "SOME_UNSET_VAR_FOR_TEST"
files = []
schema_version = "1"
`)
	proj, err := LoadProject(tomlPath)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	os.Unsetenv("SOME_UNSET_VAR_FOR_TEST")
	if _, err := proj.ResolveDbFile(); err == nil {
		t.Fatalf("expected ResolveDbFile to fail when the env var is unset")
	}
}

// TestLoadProjectYamlOverlay confirms a sibling db.yaml's report array
// overrides the toml-declared one, per spec.md §6's optional overlay.
func TestLoadProjectYamlOverlay(t *testing.T) {
	dir := t.TempDir()
	tomlPath := writeFile(t, dir, "db.toml", `
db_file = "APP_DB_FILE"
files = []
schema_version = "1"

[[report]]
src = "SELECT 1"
dest = "one.csv"
`)
	writeFile(t, dir, "db.yaml", `
report:
  - src: "SELECT 2"
    dest: "two.csv"
`)

	proj, err := LoadProject(tomlPath)
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if len(proj.Report) != 1 || proj.Report[0].Dest != "two.csv" {
		t.Fatalf("expected the yaml overlay to win, got %+v", proj.Report)
	}
}
