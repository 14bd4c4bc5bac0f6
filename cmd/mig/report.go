package main

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "run each project report query and write its rows to its destination CSV",
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

// runReport is the thin "reporting/export subcommand" spec.md §1 names
// as an external collaborator: it owns none of the schema machinery,
// just turns `[[report]]` entries into CSV files next to the project.
func runReport(cmd *cobra.Command, args []string) error {
	proj, db, _, _, err := openProject()
	if err != nil {
		return err
	}
	defer db.Close()

	if len(proj.Report) == 0 {
		fmt.Println("no report entries configured")
		return nil
	}
	for _, entry := range proj.Report {
		if err := writeReport(db, entry); err != nil {
			return fmt.Errorf("report %s -> %s: %w", entry.Src, entry.Dest, err)
		}
		printLabel("report", entry.Dest)
	}
	return nil
}

func writeReport(db interface {
	Query(query string, args ...any) (*sqlx.Rows, error)
}, entry ReportEntry) error {
	rows, err := db.Query(entry.Src)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	f, err := os.Create(entry.Dest)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write(cols); err != nil {
		return err
	}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return err
		}
		record := make([]string, len(vals))
		for i, v := range vals {
			record[i] = fmt.Sprintf("%v", v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return rows.Err()
}
