package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/james-darko/mig"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show the first pending repair category without applying it",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	proj, db, desired, _, err := openProject()
	if err != nil {
		return err
	}
	defer db.Close()

	proposals, err := migrate.DryRun(db, desired, Env)
	if err != nil {
		return err
	}
	if len(proposals) == 0 {
		fmt.Printf("%s: up to date (schema_version %s)\n", printKeyword("status"), proj.SchemaVersion)
		return nil
	}
	printLabel("category", proposals[0].Reason.String())
	for _, p := range proposals {
		fmt.Printf("  %s %s\n", printKeyword("--"), p.Reason.String())
		for _, stmt := range p.Statements {
			fmt.Printf("    %s;\n", stmt)
		}
	}
	return nil
}
