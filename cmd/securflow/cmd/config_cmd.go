package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/virapa/AjaxSecurFlow/internal/config"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Load securflow.yaml and SECURFLOW_* overrides, apply defaults, validate,
and print the result as YAML. Secrets are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(redactConfig(*cfg))
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		if file := config.ConfigFileUsed(); file != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", file)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

// redactConfig blanks credentials. cfg is a copy; Operators is re-sliced so
// the caller's slice is untouched.
func redactConfig(cfg config.Config) config.Config {
	if cfg.Upstream.APIKey != "" {
		cfg.Upstream.APIKey = redacted
	}
	if cfg.Identity.Secret != "" {
		cfg.Identity.Secret = redacted
	}
	if cfg.Redis.URL != "" {
		cfg.Redis.URL = redactURL(cfg.Redis.URL)
	}
	if cfg.Database.DSN != "" {
		cfg.Database.DSN = redacted
	}
	ops := make([]config.OperatorConfig, len(cfg.Operators))
	for i, op := range cfg.Operators {
		op.KeyHash = redacted
		ops[i] = op
	}
	cfg.Operators = ops
	return cfg
}

// redactURL hides the password in a connection URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}

func init() {
	rootCmd.AddCommand(configCmd)
}
