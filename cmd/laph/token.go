package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/laph/internal/auth"
	"github.com/sakif/laph/internal/config"
)

func tokenCmd(flags *globalFlags) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token CLIENT",
		Short: "Mint a bearer token for the HTTP API",
		Long: `Print a signed token naming CLIENT. The server logs the client name
with every run it starts.

Examples:
  laph token ci-runner
  laph token alice --ttl 1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return errors.New("server.jwt_secret is not set; the API has no auth to mint tokens for")
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.Server.TokenTTL
			}

			tokens, err := auth.NewTokenService(cfg.Server.JWTSecret, ttl)
			if err != nil {
				return err
			}
			tok, err := tokens.Generate(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), tok)
			dimStyle.Fprintf(cmd.ErrOrStderr(), "expires in %s\n", ttl)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime (default from server.token_ttl)")
	return cmd
}
