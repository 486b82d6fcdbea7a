package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/Veraticus/finz/internal/cli"
	"github.com/Veraticus/finz/internal/ofx"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import movements from bank statements",
	}

	cmd.AddCommand(importOFXCmd())

	return cmd
}

func importOFXCmd() *cobra.Command {
	var (
		pending   bool
		dryRun    bool
		accountID string
	)

	cmd := &cobra.Command{
		Use:   "ofx <files...>",
		Short: "Import transactions from OFX/QFX files",
		Long: `Import the transactions of OFX or QFX files exported from your bank as
one-off movements. Each transaction is imported once: importing an
overlapping statement again skips what is already there.`,
		Example: `  # Import single file
  finz import ofx ~/Downloads/checking_jan.qfx

  # Import every statement, leaving entries to confirm one by one
  finz import ofx ~/Downloads/*.qfx --pending`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			files, err := expandFiles(args)
			if err != nil {
				return err
			}

			parser := ofx.NewParser()
			var entries []ofx.Entry
			for _, path := range files {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", path, err)
				}
				parsed, err := parser.ParseFile(ctx, f)
				_ = f.Close()
				if err != nil {
					return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
				}
				slog.Info("Parsed statement", "file", filepath.Base(path), "transactions", len(parsed))
				for _, e := range parsed {
					if accountID == "" || e.AccountID == accountID {
						entries = append(entries, e)
					}
				}
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, cli.FormatWarning("No transactions found."))
				return nil
			}
			sort.SliceStable(entries, func(i, j int) bool { return entries[i].Date.Before(entries[j].Date) })

			if dryRun {
				return printEntries(out, entries)
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			owner, err := a.owner(ctx)
			if err != nil {
				return err
			}

			bar := cli.NewProgressBar(out, len(entries), "Importing")
			importer := ofx.NewImporter(a.movements, a.logger)
			result, err := importer.Import(ctx, entries, ofx.ImportOptions{
				OwnerID:             owner,
				RequireConfirmation: pending,
				Progress:            func(int, int) { _ = bar.Add(1) },
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s Imported %d movements (%d already present, %d skipped)\n",
				cli.SuccessStyle.Render(cli.SuccessIcon), result.Created, result.Duplicates, result.Skipped)
			if !result.Net.IsZero() {
				fmt.Fprintf(out, "  Balance changed by %s\n", cli.FormatAmount(result.Net))
			}
			if pending && result.Created > 0 {
				fmt.Fprintln(out, cli.FormatInfo("Review them with 'finz movements pending'"))
			}
			if result.Failed > 0 {
				fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d transactions failed, see the log for details", result.Failed)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "Leave imported movements awaiting confirmation")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Preview the transactions without saving")
	cmd.Flags().StringVar(&accountID, "ofx-account", "", "Only import this account of the statement")

	return cmd
}

// expandFiles resolves glob patterns, keeping plain paths that exist.
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				files = append(files, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
			continue
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found to import")
	}
	return files, nil
}

func printEntries(out io.Writer, entries []ofx.Entry) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, header("DATE", "NAME", "TYPE", "AMOUNT", "ACCOUNT"))
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Date.Format(dateLayout), e.Name, e.Type, cli.FormatAmount(e.Amount), e.AccountID)
	}
	return w.Flush()
}
