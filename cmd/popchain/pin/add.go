// Package pin provides the pin add command
package pin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"popchain/pkg/chunker"
	"popchain/pkg/config"
	"popchain/pkg/merkle"
	"popchain/pkg/pinned"
)

var (
	configPath string
	cidFlag    string
	chunkSize  int
)

// addCmd represents the pin add command
var addCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Register a local file under a CID",
	Long: `Register a local file as pinned content.

The CID defaults to the Merkle root of the file's chunk hashes, so
two nodes pinning the same bytes derive the same identifier. Pass
--cid to register under an external identifier instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return addPin(args[0])
	},
}

func init() {
	PinCmd.AddCommand(addCmd)

	addCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	addCmd.Flags().StringVar(&cidFlag, "cid", "", "Register under this CID instead of the derived one")
	addCmd.Flags().IntVar(&chunkSize, "chunk-size", chunker.DefaultChunkSize, "Chunk size in bytes")
}

func addPin(filePath string) error {
	cfg, err := config.Load(config.GetConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	chunks, err := chunker.Split(f, chunkSize)
	if err != nil {
		return fmt.Errorf("failed to chunk file: %w", err)
	}

	cid := cidFlag
	if cid == "" {
		tree, err := merkle.Build(chunker.LeafHashes(chunks))
		if err != nil {
			return fmt.Errorf("failed to build Merkle tree: %w", err)
		}
		cid = tree.Root()
	}

	registry, err := pinned.NewRegistry(cfg.Storage.PinListFile, logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("failed to load pin registry: %w", err)
	}

	if err := registry.Pin(cid, absPath); err != nil {
		return fmt.Errorf("failed to pin: %w", err)
	}

	fmt.Printf("\n✓ Pinned!\n")
	fmt.Printf("  File: %s\n", absPath)
	fmt.Printf("  Chunks: %d\n", len(chunks))
	fmt.Printf("  CID: %s\n", cid)
	return nil
}
