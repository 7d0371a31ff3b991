package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"proctord/internal/ledger"
)

var violationsJSON bool

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "List recorded violations",
	RunE:  runViolations,
}

func init() {
	violationsCmd.Flags().BoolVar(&violationsJSON, "json", false, "print raw JSON")
	rootCmd.AddCommand(violationsCmd)
}

func runViolations(_ *cobra.Command, _ []string) error {
	var stored []ledger.StoredViolation
	if err := get("/violations", &stored); err != nil {
		return err
	}
	if violationsJSON {
		return printJSON(stored)
	}
	if len(stored) == 0 {
		fmt.Println("no violations recorded")
		return nil
	}
	for _, v := range stored {
		ts := time.Unix(0, v.TimestampNs)
		fmt.Printf("%3d  %-28s %-8s %s\n", v.Sequence, v.Kind, v.Severity,
			ts.Format("15:04:05"))
	}
	return nil
}
