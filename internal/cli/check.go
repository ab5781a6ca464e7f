package cli

import (
	"fmt"

	"github.com/lazypower/hush/internal/client"
	"github.com/spf13/cobra"
)

var (
	checkUser    string
	checkTitle   string
	checkMessage string
	checkSource  string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Dry-run a delivery decision against a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New()
		if !c.Healthy() {
			return fmt.Errorf("hush server not reachable — is `hush serve` running?")
		}

		decision, err := c.Check(checkUser, checkTitle, checkMessage, checkSource)
		if err != nil {
			return err
		}

		verdict := "BLOCK"
		if decision.Allowed {
			verdict = "ALLOW"
		}
		fmt.Printf("%s [%s] %s\n", verdict, decision.Outcome, decision.Reason)
		if decision.TrackerID != "" {
			fmt.Printf("  topic=%s attempts=%d cooldown=%dm\n",
				decision.Topic, decision.AttemptCount, decision.CooldownMinutes)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVarP(&checkUser, "user", "u", "", "User ID (required)")
	checkCmd.Flags().StringVarP(&checkTitle, "title", "T", "", "Notification title (required)")
	checkCmd.Flags().StringVarP(&checkMessage, "message", "m", "", "Notification message")
	checkCmd.Flags().StringVarP(&checkSource, "source", "s", "", "Source tag")
	checkCmd.MarkFlagRequired("user")
	checkCmd.MarkFlagRequired("title")
}
