package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/pocketd/internal/controlplane"
)

var rootCmd = &cobra.Command{
	Use:   "pocketd",
	Short: "pocketd - Android device arbitration daemon and CLI",
	Long: `pocketd coordinates an interactive user, a notification triage agent and
scheduled tasks that all want to drive the same Android device.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pocketd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pocketd", controlplane.Version)
	},
}

var (
	apiAddr string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(commandCmd)
	rootCmd.AddCommand(deviceCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(schedulerCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
