package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	errorStyle   = color.New(color.FgRed, color.Bold)
	successStyle = color.New(color.FgGreen, color.Bold)
	warnStyle    = color.New(color.FgYellow)
	dimStyle     = color.New(color.Faint)
	thinkerStyle = color.New(color.FgCyan)
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var (
		flags     globalFlags
		clearLogs bool
	)

	cmd := &cobra.Command{
		Use:   "laph",
		Short: "Generate, run and repair programs until they work",
		Long: `laph turns a natural-language task into a working Python program.

A thinker model writes a specification, a coder model writes the program,
and the program runs in a resource-limited sandbox. A failure is fed back
into the next round until the program exits with status 0 or the iteration
budget runs out.

Examples:
  laph run "print the first 10 primes"
  echo "parse /etc/passwd into JSON" | laph run
  laph check generated.py
  laph serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !clearLogs {
				return cmd.Help()
			}
			a, err := setup(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.log.Clear(); err != nil {
				return err
			}
			successStyle.Fprintf(cmd.ErrOrStderr(), "Cleared %s\n", a.log.Path())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default: $LAPH_CONFIG or ./laph.yaml)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "mirror the run log to stderr")
	cmd.Flags().BoolVar(&clearLogs, "clear-logs", false, "truncate the run log and exit")

	cmd.AddCommand(runCmd(&flags))
	cmd.AddCommand(execCmd(&flags))
	cmd.AddCommand(checkCmd(&flags))
	cmd.AddCommand(serveCmd(&flags))
	cmd.AddCommand(tokenCmd(&flags))
	cmd.AddCommand(summariseCmd(&flags))
	cmd.AddCommand(visionCmd(&flags))

	return cmd
}
