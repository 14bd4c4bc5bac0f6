package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/james-darko/mig"
)

var manualCmd = &cobra.Command{
	Use:   "manual",
	Short: "execute SQL read from stdin, then require the schema to converge",
	RunE:  runManual,
}

func runManual(cmd *cobra.Command, args []string) error {
	proj, db, desired, dbFile, err := openProject()
	if err != nil {
		return err
	}
	defer db.Close()

	opts := commitOptionsFor(proj, dbFile)
	if err := migrate.ManualMigration(db, desired, os.Stdin, opts); err != nil {
		return err
	}
	fmt.Printf("%s: schema converges\n", printKeyword("manual"))
	return nil
}
