package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/lazypower/hush/internal/config"
	"github.com/lazypower/hush/internal/store"
	"github.com/spf13/cobra"
)

var (
	topicsUser string
	topicsAll  bool

	reviveUser  string
	reviveTopic string
)

// openDB is a helper that opens the database for CLI commands.
func openDB() (*store.DB, error) {
	dbPath := os.Getenv("HUSH_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath)
}

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List a user's topic trackers",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		trackers, err := db.ListUserTrackers(topicsUser, topicsAll)
		if err != nil {
			return err
		}
		if len(trackers) == 0 {
			fmt.Println("no topics tracked")
			return nil
		}

		now := time.Now().UnixMilli()
		for _, t := range trackers {
			state := "ready"
			switch {
			case t.GivenUp:
				state = "given up"
			case now < t.NextAllowedAt:
				state = fmt.Sprintf("cooling down %dm", (t.NextAllowedAt-now)/60000+1)
			}
			fmt.Printf("%-30s  [%s]  attempts=%d  sent=%d  blocked=%d  responses=%d  %s\n",
				t.Topic, t.Category, t.AttemptCount, t.TotalSent, t.TotalBlocked, t.ResponseCount, state)
		}
		return nil
	},
}

var reviveCmd = &cobra.Command{
	Use:   "revive",
	Short: "Reset an abandoned topic so notifications flow again",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		cooldown := 60
		if path, err := config.DefaultPath(); err == nil {
			if cfg, err := config.Load(path); err == nil {
				cooldown = cfg.Policy.InitialCooldownMinutes
			}
		}

		revived, err := db.ResetTrackerByUserTopic(reviveUser, reviveTopic, cooldown, time.Now().UnixMilli())
		if err != nil {
			return err
		}
		if !revived {
			fmt.Printf("no tracker for topic %q\n", reviveTopic)
			return nil
		}
		fmt.Printf("revived %q\n", reviveTopic)
		return nil
	},
}

func init() {
	topicsCmd.Flags().StringVarP(&topicsUser, "user", "u", "", "User ID (required)")
	topicsCmd.Flags().BoolVar(&topicsAll, "all", false, "Include given-up topics")
	topicsCmd.MarkFlagRequired("user")

	reviveCmd.Flags().StringVarP(&reviveUser, "user", "u", "", "User ID (required)")
	reviveCmd.Flags().StringVarP(&reviveTopic, "topic", "t", "", "Topic to revive (required)")
	reviveCmd.MarkFlagRequired("user")
	reviveCmd.MarkFlagRequired("topic")
}
