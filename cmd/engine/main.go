// Command engine runs the position lifecycle and ledger engine: the two
// periodic loops, the dashboard API, the WebSocket push channel and the
// back-office API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "Position lifecycle and ledger engine",
	Long: `engine revalues open positions every few seconds, closes them on target,
duration, take-profit or stop-loss, books the realized PnL into the owner's
account and drips scheduled daily-target payouts.

Configuration is read from an optional TOML file (--config), then .env, then
the process environment.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a TOML config file")

	rootCmd.AddCommand(
		newServeCmd(),
		newBackofficeCmd(),
		newMigrateCmd(),
		newCloseCmd(),
		newTokenCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
