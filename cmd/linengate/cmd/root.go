package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build; "dev" otherwise.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "linengate",
	Short: "LinenGate is the auth gateway for the linen operations console",
	Long: `The authentication and authorization gateway in front of the linen
operations admin application: credential login with an optional second
factor, tamper-evident sessions, and role-based route access on every
navigation.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
