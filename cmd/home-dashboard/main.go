// Command home-dashboard serves a live dashboard for the smart-home
// controller board and relays commands to it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// configPath is the --config flag. It defaults to $DASHBOARD_CONFIG.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "home-dashboard",
	Short: "Smart-home controller dashboard",
	Long: `home-dashboard polls the controller board (directly, through Redis or
through MQTT), substitutes weather data when its sensors fail or it goes
offline, and serves the result as an HTML page, a JSON API and a websocket feed.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("DASHBOARD_CONFIG"), "path to a YAML config file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
