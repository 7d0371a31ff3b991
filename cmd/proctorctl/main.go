// proctorctl is the control CLI for a running proctord daemon. It talks
// to the daemon's loopback HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proctord/internal/config"
)

var daemonAddr string

var rootCmd = &cobra.Command{
	Use:   "proctorctl",
	Short: "Control a running proctord exam session",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr",
		config.DefaultConfig().Daemon.ListenAddr, "proctord listen address")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
