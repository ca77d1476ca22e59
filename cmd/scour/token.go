package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/server"
)

func tokenCMD() *cobra.Command {
	var cfgPath string
	var subject string
	var ttl time.Duration
	var apiKey string
	var token = &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the API, or hash an API key for config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey != "" {
				hash, err := server.HashAPIKey(apiKey)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hash)
				return nil
			}

			cfg := config.LoadConfig(cfgPath)
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is not configured")
			}
			if ttl <= 0 {
				ttl = cfg.Server.TokenTTL
			}
			signed, err := server.SignToken(subject, []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "ops", "subject claim for the token")
	token.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default server.token_ttl)")
	token.Flags().StringVar(&apiKey, "api-key", "", "hash this API key instead of minting a token")
	token.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return token
}
