package main

import (
	"fmt"
	"time"

	"lucledger/internal/config"
	"lucledger/internal/service"

	"github.com/spf13/cobra"
)

var flagTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a user JWT signed with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ttl := flagTTL
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}
		token, err := service.NewJWTService(cfg.Auth).GenerateTokenWithTTL(args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 0, "Token lifetime (defaults to auth.token_ttl)")
}
