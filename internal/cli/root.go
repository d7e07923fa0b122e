// Package cli holds the coinbot command tree.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command for the coinbot binary.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "coinbot",
		Short:        "Chat bot that runs scheduled coin economy jobs",
		Long:         "coinbot runs a chat bot whose daily resets, weekly draws and event reminders are driven by a cron-style job scheduler.",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newCronCmd())
	return root
}
