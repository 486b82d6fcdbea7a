package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/finz/internal/cli"
	"github.com/Veraticus/finz/internal/model"
	"github.com/spf13/cobra"
)

func summaryCmd() *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Project the income, expenses and available balance of a month",
		Long: `Attribute one installment of every committed movement to the month and
project what will be available at its end. Movements awaiting confirmation
are left out.`,
		Example: `  finz summary
  finz summary --month 2025-03`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			owner, err := a.owner(ctx)
			if err != nil {
				return err
			}
			t, err := parseMonth(month, a.clock.Now())
			if err != nil {
				return err
			}
			p, err := a.projector.ProjectMonth(ctx, owner, t)
			if err != nil {
				return err
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Balance:    %s\n", cli.FormatAmount(p.Balance))
			fmt.Fprintf(&b, "Income:     %s\n", cli.FormatAmount(p.Income))
			fmt.Fprintf(&b, "Expenses:   %s\n", cli.FormatAmount(p.Expense.Neg()))
			fmt.Fprintf(&b, "Available:  %s", cli.FormatAmount(p.ProjectedAvailable))

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.RenderBox(cli.ChartIcon+" "+p.Start.Format("January 2006"), b.String()))
			if len(p.Items) == 0 {
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, header("NAME", "TYPE", "INSTALLMENT", "AMOUNT"))
			for _, item := range p.Items {
				amount := item.Amount
				if item.Direction == model.DirectionExpense {
					amount = amount.Neg()
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", item.Name, directionLabel(item.Direction), item.Index+1, cli.FormatAmount(amount))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "Month to project, YYYY-MM (default: current month)")

	return cmd
}

func calendarCmd() *cobra.Command {
	var (
		from   string
		months int
	)

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "List upcoming installments by date",
		Example: `  # The next three months
  finz calendar --months 3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			owner, err := a.owner(ctx)
			if err != nil {
				return err
			}
			start, err := parseDate(from, a.clock.Now())
			if err != nil {
				return err
			}
			entries, err := a.projector.Calendar(ctx, owner, start, months)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, cli.SubtleStyle.Render("Nothing scheduled."))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, header("DATE", "NAME", "INSTALLMENT", "AMOUNT", "STATE"))
			for _, e := range entries {
				state := "scheduled"
				switch {
				case e.Posted:
					state = cli.SubtleStyle.Render("posted")
				case e.Pending:
					state = cli.WarningStyle.Render("to confirm")
				}
				installment := fmt.Sprintf("%d/%d", e.Index+1, e.Count)
				if e.Kind == model.KindRecurring {
					installment = fmt.Sprintf("%d", e.Index+1)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.Date.Format(dateLayout), e.Name, installment, cli.FormatAmount(e.Amount), state)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First day to list, YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&months, "months", 1, "Number of months to list")

	return cmd
}
