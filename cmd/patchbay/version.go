package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/websynth/patchbay/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "patchbay %s\n", version.VersionOrHash)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
