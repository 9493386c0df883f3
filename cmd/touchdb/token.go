package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fmedlin/touchdb/internal/auth"
	"github.com/fmedlin/touchdb/internal/config"
)

func newTokenCommand() *cobra.Command {
	var roles []string
	var keyFile string

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Mint a bearer token signed with the server key",
		Long: `Mint a bearer token for a user or a replicating peer.

The token is signed with the configured private key, which is created if it
does not exist yet:

	touchdb token replicator --role _admin
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if keyFile == "" {
				keyFile = cfg.Auth.PrivateKeyFile
			}
			key, err := auth.LoadOrGeneratePrivateKey(keyFile)
			if err != nil {
				return err
			}
			ts, err := auth.NewTokenService(key, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}
			token, err := ts.GenerateToken(args[0], roles)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to grant (repeatable)")
	cmd.Flags().StringVar(&keyFile, "key", "", "private key file (defaults to the configured one)")
	return cmd
}
