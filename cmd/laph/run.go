package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sakif/laph/internal/llm"
	"github.com/sakif/laph/internal/model"
	"github.com/sakif/laph/internal/repair"
)

func runCmd(flags *globalFlags) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Repair a task until its program runs cleanly",
		Long: `Run the repair loop for a task given as arguments or on stdin.

The final program is printed to stdout. Progress (model output as it
streams, and one line per iteration) goes to stderr. When the iteration
budget runs out nothing is printed to stdout and the exit status is 1.

An interrupted run is saved; running the same task again resumes it.

Examples:
  laph run "print the first 10 primes"
  laph run < task.txt > solution.py`,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := readTask(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			a, err := setup(*flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var opts []repair.Option
			if !quiet {
				opts = append(opts, repair.WithObserver(newTerminalObserver(cmd.ErrOrStderr())))
			}
			loop, _, err := a.loop(opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := loop.Run(ctx, task)
			return reportRun(cmd.OutOrStdout(), cmd.ErrOrStderr(), res, err)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not stream model output to stderr")
	return cmd
}

// reportRun prints the outcome of a run. Only a solved run writes to stdout.
// Budget exhaustion exits 1 and an interrupt exits 130.
func reportRun(stdout, stderr io.Writer, res *repair.Result, err error) error {
	switch {
	case errors.Is(err, repair.ErrNoSolution):
		errorStyle.Fprintf(stderr, "No solution after %d iterations\n", res.Iterations)
		return &exitError{code: 1}
	case errors.Is(err, context.Canceled):
		warnStyle.Fprintln(stderr, "Interrupted; run the same task again to resume")
		return &exitError{code: 130}
	case err != nil:
		return err
	}

	successStyle.Fprintf(stderr, "Solved in %d iteration(s)\n", res.Iterations)
	fmt.Fprintln(stdout, res.Code)
	return nil
}

// readTask joins the arguments, or reads stdin when there are none.
func readTask(args []string, stdin io.Reader) (string, error) {
	task := strings.Join(args, " ")
	if len(args) == 0 {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading task from stdin: %w", err)
		}
		task = string(b)
	}
	task = strings.TrimSpace(task)
	if task == "" {
		return "", errors.New("a task is required, as arguments or on stdin")
	}
	return task, nil
}

// terminalObserver echoes streaming output and iteration outcomes.
type terminalObserver struct {
	w    io.Writer
	last llm.Source
}

func newTerminalObserver(w io.Writer) *terminalObserver {
	return &terminalObserver{w: w}
}

func (o *terminalObserver) OnChunk(chunk llm.Chunk, source llm.Source) {
	if source != o.last {
		fmt.Fprintln(o.w)
		dimStyle.Fprintf(o.w, "── %s ──\n", source)
		o.last = source
	}
	switch {
	case chunk.IsError():
		errorStyle.Fprintln(o.w, chunk.Display())
	case source == llm.SourceThinker:
		thinkerStyle.Fprint(o.w, chunk.Text)
	default:
		fmt.Fprint(o.w, chunk.Text)
	}
}

func (o *terminalObserver) OnIteration(rec model.IterationRecord) {
	o.last = ""
	fmt.Fprintln(o.w)

	for _, w := range rec.Warnings {
		warnStyle.Fprintf(o.w, "⚠ %s\n", w.Description)
	}

	var status string
	switch {
	case rec.Result == nil:
		status = errorStyle.Sprintf("no program after %d attempts", rec.GenerationRetries)
	case rec.Succeeded():
		status = successStyle.Sprint("exit 0")
	default:
		status = errorStyle.Sprintf("exit %d", rec.Result.ExitCode)
	}
	fmt.Fprintf(o.w, "%s iteration %d: %s\n", color.New(color.Bold).Sprint("●"), rec.Index, status)

	if rec.Result != nil && !rec.Succeeded() {
		dimStyle.Fprintln(o.w, lastLines(rec.Result.Stderr, 3))
	}
}

var _ repair.Observer = (*terminalObserver)(nil)

// lastLines returns up to n trailing non-empty lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
