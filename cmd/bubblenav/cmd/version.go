package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/bubblenav/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), version.Get())
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "print as JSON")
}
