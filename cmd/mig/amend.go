package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/james-darko/mig"
)

var amendCmd = &cobra.Command{
	Use:   "amend",
	Short: "attribute already-applied SQL (read from stdin) to the last migration's audit record",
	RunE:  runAmend,
}

func runAmend(cmd *cobra.Command, args []string) error {
	proj, db, _, dbFile, err := openProject()
	if err != nil {
		return err
	}
	defer db.Close()

	opts := commitOptionsFor(proj, dbFile)
	if err := migrate.Amend(db, os.Stdin, opts); err != nil {
		return err
	}
	fmt.Printf("%s: amended\n", printKeyword("amend"))
	return nil
}
