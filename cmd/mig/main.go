// Command mig is the CLI front-end for the migrate engine: the thin,
// deliberately out-of-scope layer spec.md §1 calls an "external
// collaborator" — flag parsing, project-file discovery, and colored
// stdout, wired to the migrate package's Commit/DryRun/ManualMigration/
// Amend operations.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/james-darko/mig"

	_ "github.com/mattn/go-sqlite3"
)

var flagProjectFile string

var rootCmd = &cobra.Command{
	Use:           "mig",
	Short:         "declarative SQLite schema migration engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProjectFile, "project", "C", "db.toml", "path to the project file")
	rootCmd.AddCommand(statusCmd, commitCmd, manualCmd, amendCmd, logCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printErrf("%s", err)
		os.Exit(1)
	}
}

// openProject loads the project file and opens the target sqlite
// connection it names, returning both plus the parsed desired schema
// and the resolved database file path (for CommitOptions.DbFile).
func openProject() (*Project, migrate.DB, *migrate.SqlFile, string, error) {
	proj, err := LoadProject(flagProjectFile)
	if err != nil {
		return nil, nil, nil, "", err
	}
	dbFile, err := proj.ResolveDbFile()
	if err != nil {
		return nil, nil, nil, "", err
	}
	db, err := migrate.Open("sqlite3", dbFile)
	if err != nil {
		return nil, nil, nil, "", err
	}
	desired, err := proj.LoadDesiredSchema()
	if err != nil {
		db.Close()
		return nil, nil, nil, "", err
	}
	return proj, db, desired, dbFile, nil
}

func commitOptionsFor(proj *Project, dbFile string) migrate.CommitOptions {
	return migrate.CommitOptions{
		DbFile:         dbFile,
		VersionRemarks: proj.VersionRemarks,
		SchemaVersion:  proj.SchemaVersion,
		Env:            Env,
		Now:            time.Now(),
	}
}
