package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/finz/internal/cli"
	"github.com/Veraticus/finz/internal/sweep"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var (
		daemon    bool
		asOf      string
		reminders []string
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Post due installments and fund goals",
		Long: `Walk every account, post or flag each installment that has fallen due and
run the monthly goal contributions.

With --daemon the sweep and the reminder rules run on their configured cron
schedules until interrupted.`,
		Example: `  # Catch up once
  finz sweep

  # Catch up as if it were the first of next month, and send reminders
  finz sweep --as-of 2025-04-01 --remind pending,low_balance

  # Keep running in the background
  finz sweep --daemon`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if daemon {
				schedule, err := a.cfg.Schedule()
				if err != nil {
					return err
				}
				scheduler, err := sweep.NewScheduler(a.sweeper, a.reminders.Rules(), schedule, a.clock, a.logger)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, cli.FormatInfo("Sweeping on schedule "+schedule.Sweep+", press Ctrl+C to stop"))
				scheduler.RunSweep(ctx)
				return scheduler.Start(ctx)
			}

			when, err := parseDate(asOf, a.clock.Now())
			if err != nil {
				return err
			}
			if asOf != "" {
				when = when.Add(23*time.Hour + 59*time.Minute)
			}

			report, err := a.sweeper.RunOnce(ctx, when)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s Swept %d accounts in %s: %d posted, %d to confirm, %d goal contributions",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				report.Accounts, report.Duration.Round(time.Millisecond),
				report.Posted, report.Pending, report.Contributions)
			if report.Achieved > 0 {
				fmt.Fprintf(out, ", %d goals achieved", report.Achieved)
			}
			fmt.Fprintln(out)
			if report.Failed > 0 {
				fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d items failed, see the log for details", report.Failed)))
			}

			return runReminders(cmd, a, reminders, when)
		},
	}

	cmd.Flags().BoolVar(&daemon, "daemon", false, "Run the sweep and reminders on their schedules until interrupted")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Sweep as of the end of this day, YYYY-MM-DD (default: now)")
	cmd.Flags().StringSliceVar(&reminders, "remind", nil, "Reminder rules to run after the sweep, or 'all'")

	return cmd
}

func runReminders(cmd *cobra.Command, a *app, names []string, when time.Time) error {
	if len(names) == 0 {
		return nil
	}
	rules := a.reminders.Rules()
	if len(names) == 1 && names[0] == "all" {
		names = names[:0]
		for name := range rules {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	out := cmd.OutOrStdout()
	for _, name := range names {
		rule, ok := rules[strings.TrimSpace(name)]
		if !ok {
			return fmt.Errorf("unknown reminder %q", name)
		}
		sent, err := rule(cmd.Context(), when)
		if err != nil {
			fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%s: %v", name, err)))
			continue
		}
		fmt.Fprintf(out, "%s %s: %d sent\n", cli.BellIcon, name, sent)
	}
	return nil
}
