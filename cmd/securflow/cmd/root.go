// Package cmd provides the CLI commands for SecurFlow.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/virapa/AjaxSecurFlow/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "securflow",
	Short: "SecurFlow - multi-tenant security hub gateway",
	Long: `SecurFlow brokers tenant access to the Ajax Systems cloud API.

Tenants sign in with their own upstream credentials. The gateway keeps one
upstream session per tenant, caches read-mostly hub data, and holds all
outbound traffic under the shared API key's rate ceiling.

Quick start:
  1. Create a config file: securflow.yaml
  2. Run: securflow start

Configuration:
  Config is loaded from securflow.yaml in the current directory,
  $HOME/.securflow/, or /etc/securflow/.

  Environment variables can override config values with the SECURFLOW_ prefix.
  Example: SECURFLOW_REDIS_URL=redis://localhost:6379/0

Commands:
  start       Start the gateway
  config      Print the effective configuration
  hash-key    Generate a hash for an operator key
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./securflow.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
