package cmd

import (
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/labelscan/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("labelscan version %s\n", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
