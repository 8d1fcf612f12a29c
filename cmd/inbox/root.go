package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Terminal client for the rentme messaging panel",
	Long: `inbox lists conversations, follows a conversation live and sends, edits or
deletes messages against the rentme messaging API.

Connection settings come from the environment (or a .env file):
INBOX_API_URL, INBOX_WS_URL, INBOX_TOKEN and INBOX_USER_ID.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log debug output to stderr")
}

func main() {
	Execute()
}
