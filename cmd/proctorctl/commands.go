package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ackCmd = &cobra.Command{
	Use:   "ack",
	Short: "Acknowledge the pending warning",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := post("/acknowledge", nil); err != nil {
			return err
		}
		fmt.Println("warning acknowledged")
		return nil
	},
}

var fullscreenCmd = &cobra.Command{
	Use:   "fullscreen",
	Short: "Request a manual fullscreen re-entry",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := post("/fullscreen/manual", nil); err != nil {
			return err
		}
		fmt.Println("fullscreen re-entry requested")
		return nil
	},
}

var endCmd = &cobra.Command{
	Use:   "end",
	Short: "End the session normally",
	RunE: func(_ *cobra.Command, _ []string) error {
		if err := post("/end", nil); err != nil {
			return err
		}
		fmt.Println("session ending")
		return nil
	},
}

var forceExitReason string

var forceExitCmd = &cobra.Command{
	Use:   "force-exit",
	Short: "Terminate the session administratively",
	RunE: func(_ *cobra.Command, _ []string) error {
		err := post("/force-exit", map[string]string{"reason": forceExitReason})
		if err != nil {
			return err
		}
		fmt.Println("session terminated")
		return nil
	},
}

func init() {
	forceExitCmd.Flags().StringVar(&forceExitReason, "reason", "proctor_request",
		"reason recorded in the audit trail")
	rootCmd.AddCommand(ackCmd, fullscreenCmd, endCmd, forceExitCmd)
}
