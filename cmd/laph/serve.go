package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/laph/internal/auth"
	"github.com/sakif/laph/internal/repository"
	"github.com/sakif/laph/internal/server"
	"github.com/sakif/laph/internal/service"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the repair loop over HTTP",
		Long: `Start the HTTP API.

When server.jwt_secret is set every /api route requires a bearer token;
mint one with "laph token". Prometheus metrics are served on /metrics
unless metrics.enabled is false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}

			loop, db, err := a.loop()
			if err != nil {
				return err
			}
			exec, err := a.executor()
			if err != nil {
				return err
			}

			// A nil *sqlite.DB must not reach the service as a non-nil interface.
			var runs repository.RunRepository
			if db != nil {
				runs = db
			}

			deps := server.Deps{
				Runs: service.NewRunService(loop, runs, a.logger),
				Code: service.NewCodeService(exec, a.logger),
			}
			if secret := a.cfg.Server.JWTSecret; secret != "" {
				tokens, err := auth.NewTokenService(secret, a.cfg.Server.TokenTTL)
				if err != nil {
					return err
				}
				deps.Tokens = tokens
			} else {
				a.logger.Warn("server.jwt_secret is empty; the API is open")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(server.Config{
				Port:         a.cfg.Server.Port,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
				Metrics:      a.cfg.Metrics.Enabled,
			}, deps, a.logger)

			a.logger.Info("laph serving",
				slog.String("provider", a.cfg.LLM.Provider),
				slog.String("sandbox", a.cfg.Sandbox.Backend),
				slog.Bool("auth", deps.Tokens != nil),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
