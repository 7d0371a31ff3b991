package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"proctord/internal/session"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session state",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print raw JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	var view session.View
	if err := get("/status", &view); err != nil {
		return err
	}
	if statusJSON {
		return printJSON(view)
	}

	fmt.Printf("Session:     %s\n", view.SessionID)
	fmt.Printf("Exam:        %s\n", view.ExamID)
	fmt.Printf("Status:      %s\n", view.Status)
	fmt.Printf("Tier:        %s\n", view.Tier)
	fmt.Printf("Violations:  %d\n", view.ViolationCount)
	fmt.Printf("Fullscreen:  %v\n", view.IsFullscreen)
	fmt.Printf("Remaining:   %s\n", view.TimeRemaining)
	if view.WarningVisible {
		fmt.Println("\nA warning is awaiting acknowledgment. Run: proctorctl ack")
	}
	return nil
}
