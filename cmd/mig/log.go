package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/james-darko/mig"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "list stored migrations newest-first, with their steps and errors",
	RunE:  runLog,
}

func runLog(cmd *cobra.Command, args []string) error {
	_, db, _, _, err := openProject()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := migrate.GetMigrations(db)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no migrations recorded")
		return nil
	}
	for _, r := range records {
		printLabel("migration", fmt.Sprintf("%d", r.ID))
		fmt.Printf("  date: %s  version: %s  hash: %s\n", r.Date, r.SchemaVersion, r.Hash)
		if r.VersionRemarks != "" {
			fmt.Printf("  remarks: %s\n", r.VersionRemarks)
		}
		for _, s := range r.Steps {
			if s.Error != nil {
				printErrf("  step %d %s: %s", s.StepIndex, s.Reason, *s.Error)
				continue
			}
			fmt.Printf("  step %d %s %s\n", s.StepIndex, printKeyword("ok"), s.Reason)
		}
	}
	return nil
}
