// Package main provides the CLI commands for the popchain node
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"popchain/pkg/config"
	"popchain/pkg/reward"
)

// rewardsCmd represents the rewards command
var rewardsCmd = &cobra.Command{
	Use:   "rewards",
	Short: "Show the reward ledger",
	Long:  `Display the reward ledger: per-node balances, streaks and the undistributed pool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showRewards(cmd)
	},
}

func init() {
	rootCmd.AddCommand(rewardsCmd)

	rewardsCmd.Flags().StringP("config", "c", "", "Path to configuration file")
}

func showRewards(cmd *cobra.Command) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.GetConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	rwCfg := reward.NewSchedulerConfig()
	rwCfg.BaseDailyReward = cfg.Reward.BaseDailyReward
	rwCfg.StorageFile = cfg.Reward.LedgerFile
	rewards, err := reward.NewScheduler(rwCfg)
	if err != nil {
		return fmt.Errorf("failed to load reward ledger: %w", err)
	}

	nodes := rewards.Nodes()
	if len(nodes) == 0 {
		fmt.Println("Reward ledger is empty.")
		return nil
	}

	fmt.Printf("Reward ledger (%d nodes):\n", len(nodes))
	for _, node := range nodes {
		fmt.Printf("  %s  streak=%d  balance=%d\n",
			node, rewards.Streak(node), rewards.Balance(node))
	}
	fmt.Printf("Undistributed pool: %d\n", rewards.PoolBalance())
	return nil
}
