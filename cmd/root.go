package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mailgrant application
var rootCmd = &cobra.Command{
	Use:   "mailgrant",
	Short: "OAuth-brokered Gmail and Calendar access service",
	Long: `mailgrant stores Google OAuth credentials encrypted at rest and keeps
them fresh, so backend callers can list, read and send email and manage
calendar events for connected users without handling tokens themselves.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mailgrant version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mailgrant version %s\n", version)
		},
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newVersionCmd())
}
