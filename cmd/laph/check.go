package main

import (
	"github.com/spf13/cobra"

	"github.com/sakif/laph/internal/extractor"
	"github.com/sakif/laph/internal/sanitizer"
)

func checkCmd(flags *globalFlags) *cobra.Command {
	var (
		strict bool
		policy sanitizer.Policy
	)

	cmd := &cobra.Command{
		Use:   "check FILE",
		Short: "Syntax-check a program and list risky operations",
		Long: `Check FILE ("-" for stdin) without running it.

The program is parsed and scanned for dangerous patterns. Warnings are
advisory and never change the exit status unless --strict is given, in
which case the auto-execution policy decides.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := false

			v := extractor.Validate(cmd.Context(), code)
			if v.Valid {
				successStyle.Fprintln(out, "✓ syntax ok")
			} else {
				errorStyle.Fprintf(out, "✗ %s\n", v.Message)
				failed = true
			}

			report := sanitizer.Analyze(code)
			for _, w := range report.Warnings {
				warnStyle.Fprintf(out, "⚠ [%s] %s\n", w.Category, w.Description)
			}
			if len(report.Warnings) == 0 {
				dimStyle.Fprintln(out, "no risky operations found")
			}

			if strict {
				verdict := sanitizer.IsSafeForAutoExecution(code, policy)
				for _, reason := range verdict.Reasons {
					errorStyle.Fprintf(out, "✗ %s\n", reason)
				}
				if !verdict.Safe {
					failed = true
				}
			}

			if failed {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "fail unless the program is safe to run unattended")
	cmd.Flags().BoolVar(&policy.AllowFileOps, "allow-file-ops", false, "with --strict, permit file operations")
	cmd.Flags().BoolVar(&policy.AllowNetwork, "allow-network", false, "with --strict, permit network access")
	return cmd
}
