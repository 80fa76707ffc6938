package cmd

import (
	"fmt"
	"github.com/habibrodriguez7-art/changelog-bot/changelogbot"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"changelog-bot version=%s commit=%s built: %s",
			changelogbot.Version,
			changelogbot.CommitSHA,
			changelogbot.BuildTime,
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(versionCmd)
}
