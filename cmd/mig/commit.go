package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/james-darko/mig"
)

var flagCommitAll bool

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "apply the first pending repair category transactionally",
	RunE:  runCommit,
}

func init() {
	commitCmd.Flags().BoolVar(&flagCommitAll, "all", false, "keep committing categories until none remain")
}

func runCommit(cmd *cobra.Command, args []string) error {
	proj, db, desired, dbFile, err := openProject()
	if err != nil {
		return err
	}
	defer db.Close()

	opts := commitOptionsFor(proj, dbFile)
	for {
		intent, err := migrate.Commit(db, desired, opts)
		if err != nil {
			return err
		}
		if len(intent.Steps) == 0 {
			fmt.Printf("%s: nothing to migrate\n", printKeyword("commit"))
			return nil
		}
		printLabel("category", intent.Steps[0].Reason.String())
		failed := false
		for _, step := range intent.Steps {
			if step.Error != "" {
				printErrf("step %q failed: %s", step.Reason.String(), step.Error)
				failed = true
				continue
			}
			fmt.Printf("  %s %s\n", printKeyword("ok"), step.Reason.String())
		}
		if failed {
			return fmt.Errorf("mig commit: migration failed, see errors above (recorded in the audit store)")
		}
		if !flagCommitAll {
			return nil
		}
	}
}
