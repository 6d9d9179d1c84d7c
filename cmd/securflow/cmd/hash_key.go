package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virapa/AjaxSecurFlow/internal/domain/auth"
)

var hashKeyArgon bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [operator-key]",
	Short: "Generate a hash for an operator key",
	Long: `Generate a hash of an operator key for use in config.

The default output format is "sha256:<hex>". With --argon2id the output is
an Argon2id PHC string. Either can be used in operators[].key_hash.

Example:
  securflow hash-key "my-operator-key"
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using environment variable:
  securflow hash-key "$OPERATOR_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if hashKeyArgon {
			hash, err := auth.HashKeyArgon2id(args[0])
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sha256:%s\n", auth.HashKey(args[0]))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon, "argon2id", false, "emit an Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(hashKeyCmd)
}
