package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func visionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "vision [description...]",
		Short: "Ask the vision model to interpret a described image",
		Long: `Send a description of an image (arguments or stdin) to the vision model
using the vision prompt template and print its reply.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			description, err := readTask(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			a, err := setup(*flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			prompts, err := a.prompts()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gen := a.generator(a.cfg.LLM.Models.Vision)
			return streamTo(ctx, cmd.OutOrStdout(), gen, prompts.Vision(description))
		},
	}
}
