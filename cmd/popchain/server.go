// Package main provides the CLI commands for the popchain node
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"popchain/pkg/api"
	"popchain/pkg/config"
	"popchain/pkg/consensus"
	"popchain/pkg/file"
	"popchain/pkg/p2p"
	"popchain/pkg/pinned"
	"popchain/pkg/reward"
	"popchain/pkg/scheduler"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the PoP node",
	Long: `Start the full Proof-of-Pinning node.

This command starts a node that can:
  • Connect to other peers in the network
  • Announce pinned content and answer chunk challenges
  • Issue daily challenge rounds and validate proofs
  • Distribute rewards to passing nodes

The service will continue running until interrupted with Ctrl+C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startServer(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringP("config", "c", "", "Path to configuration file")
}

func startServer(cmd *cobra.Command) error {
	// Get config file path from flag or use default
	configPath, _ := cmd.Flags().GetString("config")
	configFile := config.GetConfigPath(configPath)

	logrus.Infof("Loading configuration from: %s", configFile)

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	setupLogging(cfg)

	logrus.Info("Configuration loaded successfully")
	logrus.Infof("Network: port=%d, insecure=%v", cfg.Network.Port, cfg.Network.Insecure)
	logrus.Infof("Consensus: chunk_size=%d, round_interval=%ds, collection_window=%ds",
		cfg.Consensus.ChunkSize, cfg.Consensus.RoundInterval, cfg.Consensus.CollectionWindow)
	logrus.Infof("Reward: base_daily_reward=%d, ledger_file=%s",
		cfg.Reward.BaseDailyReward, cfg.Reward.LedgerFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 钉存清单
	pins, err := pinned.NewRegistry(cfg.Storage.PinListFile, logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("failed to load pin registry: %w", err)
	}
	logrus.Infof("Pin registry loaded: %d pinned CIDs", pins.Count())

	// 共识引擎
	engCfg := consensus.NewEngineConfig()
	engCfg.ChunkSize = cfg.Consensus.ChunkSize
	engCfg.HistoryRetention = cfg.Consensus.HistoryRetention
	engine := consensus.NewEngine(file.NewLocalFileSystemAdapter(), engCfg)

	// 奖励账本
	rwCfg := reward.NewSchedulerConfig()
	rwCfg.BaseDailyReward = cfg.Reward.BaseDailyReward
	rwCfg.ResetMissedStreak = cfg.Reward.ResetMissedStreak
	rwCfg.StorageFile = cfg.Reward.LedgerFile
	rewards, err := reward.NewScheduler(rwCfg)
	if err != nil {
		return fmt.Errorf("failed to load reward ledger: %w", err)
	}

	// P2P 服务
	logrus.Info("Starting P2P service...")
	service, err := p2p.NewP2PService(ctx, *cfg.ToP2PConfig(), engine, pins)
	if err != nil {
		return fmt.Errorf("failed to create P2P service: %w", err)
	}

	printNodeInfo(service)

	// 把本地已钉的 CID 公告到 DHT
	for _, cid := range pins.List() {
		if err := service.AnnouncePin(ctx, cid); err != nil {
			logrus.Warnf("Failed to announce pin %s: %v", cid, err)
		}
	}

	// 轮循环：挑战经由 P2P 广播
	schedCfg := scheduler.NewConfig()
	schedCfg.RoundInterval = time.Duration(cfg.Consensus.RoundInterval) * time.Second
	schedCfg.CollectionWindow = time.Duration(cfg.Consensus.CollectionWindow) * time.Second
	schedCfg.DistributeEvery = cfg.Consensus.DistributeEvery
	publish := func(ch consensus.Challenge) error {
		delivered, err := service.BroadcastChallenge(ctx, ch)
		if err != nil {
			return err
		}
		logrus.Infof("Challenge for %s delivered to %d peers", ch.CID, delivered)
		return nil
	}
	rounds := scheduler.NewScheduler(engine, rewards, pins, publish, schedCfg)
	rounds.Start()

	// HTTP 查询接口
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Listen, engine, rewards, pins, rounds, logrus.StandardLogger())
		go func() {
			if err := apiServer.Start(); err != nil {
				logrus.Errorf("API server error: %v", err)
			}
		}()
	}

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logrus.Info("PoP node is running. Press Ctrl+C to stop.")
	<-sigChan

	logrus.Info("Received shutdown signal, shutting down gracefully...")

	rounds.Stop()

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Error shutting down API server: %v", err)
		}
		shutdownCancel()
	}

	if err := rewards.Save(); err != nil {
		logrus.Errorf("Error saving reward ledger: %v", err)
	}

	if err := service.Shutdown(); err != nil {
		logrus.Errorf("Error during shutdown: %v", err)
		return err
	}

	logrus.Info("Shutdown complete. Goodbye!")
	return nil
}

// setupLogging configures the logging system
func setupLogging(cfg *config.Config) {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logrus.Warnf("Invalid log level '%s', using 'info'", cfg.Logging.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}

// printNodeInfo prints node information to console
func printNodeInfo(service *p2p.P2PService) {
	peerID := service.Host.ID()
	addrs := service.Host.Addrs()

	fmt.Println("\n=== Node Information ===")
	fmt.Printf("Peer ID: %s\n", peerID)
	fmt.Println("\nListen Addresses:")
	for _, addr := range addrs {
		fmt.Printf("  - %s/p2p/%s\n", addr, peerID)
	}
	fmt.Println("========================")
}
