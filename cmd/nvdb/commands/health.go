package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Open and close the configured database as a readiness check",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return fmt.Errorf("unhealthy: %w", err)
		}
		if err := db.Shutdown(cmd.Context()); err != nil {
			return fmt.Errorf("unhealthy: shutdown: %w", err)
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
