// Package pin provides the pin list and remove commands
package pin

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"popchain/pkg/config"
	"popchain/pkg/pinned"
)

// listCmd represents the pin list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List pinned CIDs",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openRegistry()
		if err != nil {
			return err
		}

		cids := registry.List()
		if len(cids) == 0 {
			fmt.Println("No pinned content.")
			return nil
		}

		fmt.Printf("Pinned content (%d):\n", len(cids))
		for _, cid := range cids {
			path, _ := registry.Lookup(cid)
			fmt.Printf("  %s -> %s\n", cid, path)
		}
		return nil
	},
}

// removeCmd represents the pin remove command
var removeCmd = &cobra.Command{
	Use:   "remove <cid>",
	Short: "Remove a pin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := openRegistry()
		if err != nil {
			return err
		}

		if err := registry.Unpin(args[0]); err != nil {
			return fmt.Errorf("failed to unpin: %w", err)
		}

		fmt.Printf("Unpinned %s\n", args[0])
		return nil
	},
}

func init() {
	PinCmd.AddCommand(listCmd)
	PinCmd.AddCommand(removeCmd)

	listCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	removeCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
}

func openRegistry() (*pinned.Registry, error) {
	cfg, err := config.Load(config.GetConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return pinned.NewRegistry(cfg.Storage.PinListFile, logrus.StandardLogger())
}
