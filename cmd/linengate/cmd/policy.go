package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/linenworks/linengate/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Route policy tools",
	Long:  `Commands for validating and inspecting route policy files before deployment.`,
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a route policy file and print the compiled table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := policy.LoadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: OK\n", args[0])
		fmt.Printf("default landing: %s\n", engine.DefaultLanding())
		for _, role := range engine.Roles() {
			prefixes, _ := engine.AllowedPrefixes(role)
			fmt.Printf("  %-10s (%d)  %s\n", role, int(role), strings.Join(prefixes, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd)
}
