package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hush",
	Short: "Notification spam guard for second-brain assistants",
	Long:  "Hush decides whether a nudge is worth sending. It groups notifications by semantic topic, backs off exponentially on topics the user ignores, and gives up on the ones they never answer.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(reviveCmd)
}
