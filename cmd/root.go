package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command for the exchange-bridge application
var rootCmd = &cobra.Command{
	Use:   "exchange-bridge",
	Short: "Calendar bridge for Exchange Web Services mailboxes",
	Long: `exchange-bridge connects a scheduling application to on-premise and hosted
Exchange mailboxes over Exchange Web Services (EWS).

It validates and stores connection credentials encrypted at rest, and exposes
an HTTP API for event management, calendar listing, and availability queries.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "exchange-bridge version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	viper.SetEnvPrefix("EXCHANGE_BRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newKeygenCmd())
}
