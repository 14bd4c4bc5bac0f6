package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/cobra"

	"github.com/james-darko/mig"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "invoke the project's external pull_script",
	RunE:  runPull,
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

// runPull shells out to the command named by the pull_script project
// key (an external collaborator per spec.md §1 — mig never inspects
// what it does). The argv is split with go-shellwords, matching
// ry256-slb's normalizeSegment, and each invocation gets a uuid
// correlation token passed through MIG_PULL_REQUEST_ID so the external
// script's own logs can be joined back to this run.
func runPull(cmd *cobra.Command, args []string) error {
	proj, err := LoadProject(flagProjectFile)
	if err != nil {
		return err
	}
	if proj.PullScript == "" {
		return fmt.Errorf("mig pull: project file has no pull_script configured")
	}
	script, ok := Env(proj.PullScript)
	if !ok {
		return &migrate.ExpectingEnvVarError{Var: proj.PullScript}
	}

	parser := shellwords.NewParser()
	argv, err := parser.Parse(script)
	if err != nil {
		return fmt.Errorf("failed to parse pull_script command: %w", err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("mig pull: pull_script resolved to an empty command")
	}

	requestID := uuid.New().String()
	c := exec.Command(argv[0], argv[1:]...)
	c.Env = append(os.Environ(), "MIG_PULL_REQUEST_ID="+requestID)
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr

	printLabel("pull request", requestID)
	if err := c.Run(); err != nil {
		return fmt.Errorf("pull_script failed: %w", err)
	}
	return nil
}
