package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/laph/internal/llm"
)

// summaryWindow is how much of the end of the run log the summariser sees.
const summaryWindow = 32 << 10

func summariseCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "summarise",
		Aliases: []string{"summarize"},
		Short:   "Summarise recent activity from the run log",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(*flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			logs, err := readTail(a.log.Path(), summaryWindow)
			if err != nil {
				return err
			}
			if logs == "" {
				dimStyle.Fprintln(cmd.ErrOrStderr(), "the run log is empty")
				return nil
			}

			prompts, err := a.prompts()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gen := a.generator(a.cfg.LLM.Models.Summariser)
			return streamTo(ctx, cmd.OutOrStdout(), gen, prompts.Summariser(logs))
		},
	}
}

// readTail returns at most n bytes from the end of the file at path.
func readTail(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("reading run log: %w", err)
	}
	if off := info.Size() - n; off > 0 {
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return "", fmt.Errorf("reading run log: %w", err)
		}
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("reading run log: %w", err)
	}
	return string(b), nil
}

// streamTo writes a model's reply to w as it arrives.
func streamTo(ctx context.Context, w io.Writer, gen llm.Generator, prompt string) error {
	_, err := llm.Collect(ctx, gen.Stream(ctx, prompt), func(c llm.Chunk) {
		if !c.IsError() {
			fmt.Fprint(w, c.Text)
		}
	})
	fmt.Fprintln(w)
	return err
}
