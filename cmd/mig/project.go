package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/james-darko/gort"
	"gopkg.in/yaml.v3"

	"github.com/james-darko/mig"
)

// ReportEntry is one `[[report]]` block of the project file: a source
// query and the destination it should be written to.
type ReportEntry struct {
	Src  string `toml:"src" yaml:"src"`
	Dest string `toml:"dest" yaml:"dest"`
}

// Project is the decoded form of db.toml (spec.md §6). DbFile and
// PullScript hold environment-variable *names*; their values are only
// resolved at project-load time (DbFile) or invocation time
// (PullScript), per spec.md §6's "environment variables" paragraph.
type Project struct {
	DbFile         string        `toml:"db_file"`
	Files          []string      `toml:"files"`
	SchemaVersion  string        `toml:"schema_version"`
	VersionRemarks string        `toml:"version_remarks"`
	TableSync      []string      `toml:"table_sync"`
	Report         []ReportEntry `toml:"report"`
	PullScript     string        `toml:"pull_script"`

	// dir is the project file's containing directory; Files and the
	// optional db.yaml sibling are resolved relative to it.
	dir string
}

// LoadProject decodes path (a db.toml file) with BurntSushi/toml.
// Grounded on the teacher's load.go, which reads its own configuration
// exclusively from named environment variables (never raw path
// literals) — db_file here follows the same indirection one level up,
// through a project file instead of directly through the process
// environment.
func LoadProject(path string) (*Project, error) {
	var p Project
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, &migrate.MalformedProjectError{Path: path, Msg: err.Error()}
	}
	p.dir = filepath.Dir(path)

	yamlPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".yaml"
	if data, err := os.ReadFile(yamlPath); err == nil {
		var alt struct {
			Report []ReportEntry `yaml:"report"`
		}
		if err := yaml.Unmarshal(data, &alt); err != nil {
			return nil, fmt.Errorf("failed to decode report overlay %s: %w", yamlPath, err)
		}
		if len(alt.Report) > 0 {
			p.Report = alt.Report
		}
	}
	return &p, nil
}

// ResolveDbFile looks up the environment variable named by DbFile and
// returns its value — the actual sqlite file path to open.
func (p *Project) ResolveDbFile() (string, error) {
	v, ok := gort.Env(p.DbFile)
	if !ok {
		return "", &migrate.ExpectingEnvVarError{Var: p.DbFile}
	}
	return v, nil
}

// LoadDesiredSchema reads every file named in Files (resolved relative
// to the project directory), concatenates them, and parses the result
// through the SQL Parser — the "desired" SqlFile the Executor diffs
// the live catalog against.
func (p *Project) LoadDesiredSchema() (*migrate.SqlFile, error) {
	var sb strings.Builder
	for _, f := range p.Files {
		full := f
		if !filepath.IsAbs(full) {
			full = filepath.Join(p.dir, f)
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema file %s: %w", full, err)
		}
		sb.Write(data)
		sb.WriteString("\n")
	}
	return migrate.ParseFile(strings.NewReader(sb.String()))
}

// Env adapts gort.Env to migrate.EnvLookup, the capability the core
// planner uses to resolve `@name` substitutions in INSERT rows
// (spec.md §9's "env: name -> string?").
func Env(name string) (string, bool) {
	return gort.Env(name)
}
