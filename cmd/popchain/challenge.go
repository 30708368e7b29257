// Package main provides the CLI commands for the popchain node
package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"popchain/pkg/config"
	"popchain/pkg/consensus"
	"popchain/pkg/file"
	"popchain/pkg/pinned"
	"popchain/pkg/proof"
)

// challengeCmd represents the challenge command
var challengeCmd = &cobra.Command{
	Use:   "challenge <cid>",
	Short: "Run a one-shot local audit round",
	Long: `Issue a challenge against a pinned CID and answer it locally.

The node samples random chunk offsets, builds a Merkle proof from the
local copy and validates it against the expected root. Useful to
verify that the data on disk still matches what was pinned.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLocalAudit(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(challengeCmd)

	challengeCmd.Flags().StringP("config", "c", "", "Path to configuration file")
}

func runLocalAudit(cmd *cobra.Command, cid string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(config.GetConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg)

	pins, err := pinned.NewRegistry(cfg.Storage.PinListFile, logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("failed to load pin registry: %w", err)
	}

	localPath, ok := pins.Lookup(cid)
	if !ok {
		return fmt.Errorf("CID %s is not pinned on this node", cid)
	}

	fs := file.NewLocalFileSystemAdapter()
	engCfg := consensus.NewEngineConfig()
	engCfg.ChunkSize = cfg.Consensus.ChunkSize
	engCfg.HistoryRetention = cfg.Consensus.HistoryRetention
	engine := consensus.NewEngine(fs, engCfg)

	challenge, err := engine.IssueChallenge(cid, localPath)
	if err != nil {
		return fmt.Errorf("failed to issue challenge: %w", err)
	}

	fmt.Printf("Challenge: %d chunks total, sampled offsets %v\n",
		challenge.TotalChunks, challenge.Offsets)

	// 用本地副本自证
	blob, err := proof.BuildFromFile(fs, localPath, challenge.ChunkSize, challenge.Offsets)
	if err != nil {
		return fmt.Errorf("failed to build proof: %w", err)
	}

	if err := engine.CollectResponse("local", blob.Encode()); err != nil {
		return fmt.Errorf("failed to collect response: %w", err)
	}

	if !engine.ValidateResponses() {
		fmt.Printf("\n✗ Audit FAILED: local copy of %s does not match its pinned root\n", cid)
		return fmt.Errorf("audit failed for %s", cid)
	}

	history := engine.History()
	record := history[len(history)-1]

	fmt.Printf("\n✓ Audit passed!\n")
	fmt.Printf("  CID: %s\n", cid)
	fmt.Printf("  File: %s\n", localPath)
	fmt.Printf("  Root: %s\n", record.Root)
	fmt.Printf("  Offsets: %v\n", record.Offsets)
	return nil
}
