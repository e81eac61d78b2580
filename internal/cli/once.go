package cli

import (
	"github.com/spf13/cobra"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single evaluation pass and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Once(cmd.Context())
	},
}
