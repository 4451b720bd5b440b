package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gwflow/gwsetup/pkg/auth"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage API keys of the fit service",
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an API key and its bcrypt hash",
	Long: `Prints a new API key and the hash to configure with --api-key-hash or
serve.api_key_hashes. Only the hash is stored by the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, hash, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Key:  %s\nHash: %s\n", key, hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenerateCmd)
}
