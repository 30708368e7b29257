// Package pin provides pin management commands for the popchain node
package pin

import (
	"github.com/spf13/cobra"
)

// PinCmd represents the pin command group
var PinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Pin management",
	Long: `Manage pinned content on this node.

This command group provides operations for:
  • Registering a local file under a CID
  • Listing pinned CIDs
  • Removing a pin`,
}
