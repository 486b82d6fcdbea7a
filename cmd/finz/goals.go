package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/finz/internal/cli"
	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/goals"
	"github.com/Veraticus/finz/internal/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func goalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "goals",
		Aliases: []string{"goal"},
		Short:   "Manage savings goals",
		Long: `Savings goals are funded manually or by the sweep: a fixed amount or a
percentage of the balance once a month, never past the target.`,
	}

	cmd.AddCommand(addGoalCmd())
	cmd.AddCommand(listGoalsCmd())
	cmd.AddCommand(showGoalCmd())
	cmd.AddCommand(contributeGoalCmd())
	cmd.AddCommand(modeGoalCmd())
	cmd.AddCommand(deleteGoalCmd())
	cmd.AddCommand(monthlyGoalsCmd())

	return cmd
}

func describeMode(g *model.Goal) string {
	switch g.Mode {
	case model.ModeFixedMonthly:
		return model.FormatMoney(g.ModeValue) + " monthly"
	case model.ModePercentOfBalance:
		return g.ModeValue.String() + "% of balance monthly"
	default:
		return "manual"
	}
}

func goalProgress(g *model.Goal) string {
	text := fmt.Sprintf("%s / %s (%s%%)",
		model.FormatMoney(g.Progress()), model.FormatMoney(g.TargetAmount), g.PercentComplete().StringFixed(0))
	if g.Achieved() {
		return cli.SuccessStyle.Render(text)
	}
	return text
}

func addGoalCmd() *cobra.Command {
	var (
		target      string
		mode        string
		value       string
		seed        string
		description string
		currency    string
		symbol      string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a savings goal",
		Example: `  # Save 200 a month towards a holiday
  finz goals add Holiday --target 3000 --mode fixed --value 200

  # Put 10% of the balance aside every month
  finz goals add "Rainy day" --target 10000 --mode percent --value 10

  # A goal kept in a foreign currency, funded by hand
  finz goals add Yen --target 1500 --currency "Japanese yen" --symbol ¥`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			targetAmount, err := parseAmount(target)
			if err != nil {
				return err
			}
			m, err := goals.ParseMode(mode)
			if err != nil {
				return err
			}
			modeValue, err := parseOptionalDecimal(value, "mode value")
			if err != nil {
				return err
			}
			seedAmount, err := parseOptionalDecimal(seed, "seed")
			if err != nil {
				return err
			}

			in := goals.CreateInput{
				OwnerID:     owner,
				Name:        args[0],
				Description: description,
				Target:      targetAmount,
				Mode:        m,
				ModeValue:   modeValue,
				Seed:        seedAmount,
			}
			if currency != "" || symbol != "" {
				in.ForeignCurrency = &model.Currency{Name: currency, Symbol: symbol}
			}

			g, err := a.goals.Create(ctx, in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created goal %s (%s): %s, %s\n",
				cli.SuccessStyle.Render(cli.GoalIcon),
				cli.InfoStyle.Render(g.Name),
				g.ID,
				goalProgress(g),
				describeMode(g))
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "Target amount (required)")
	cmd.Flags().StringVar(&mode, "mode", "manual", "Contribution mode: fixed, percent or manual")
	cmd.Flags().StringVar(&value, "value", "", "Monthly amount for fixed, percentage for percent")
	cmd.Flags().StringVar(&seed, "seed", "", "Savings already set aside, recorded without touching the balance")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Free-form description")
	cmd.Flags().StringVar(&currency, "currency", "", "Foreign currency name")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Foreign currency symbol")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

// resolveGoal finds a goal by full id or unique id prefix.
func (a *app) resolveGoal(cmd *cobra.Command, ref string) (*model.Goal, error) {
	ctx := cmd.Context()
	g, err := a.goals.Get(ctx, ref)
	if err == nil {
		return g, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	owner, ownerErr := a.owner(ctx)
	if ownerErr != nil {
		return nil, err
	}
	list, listErr := a.goals.List(ctx, owner)
	if listErr != nil {
		return nil, listErr
	}
	var match *model.Goal
	for i := range list {
		if strings.HasPrefix(list[i].ID, ref) || strings.EqualFold(list[i].Name, ref) {
			if match != nil {
				return nil, common.NewUserError(fmt.Sprintf("goal %q is ambiguous", ref), common.ErrValidation)
			}
			match = &list[i]
		}
	}
	if match == nil {
		return nil, common.NewUserError(fmt.Sprintf("goal %q not found", ref), err)
	}
	return match, nil
}

func listGoalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List savings goals",
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
			list, err := a.goals.List(ctx, owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, cli.SubtleStyle.Render("No goals found."))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, header("ID", "NAME", "PROGRESS", "MODE"))
			for i := range list {
				g := &list[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					cli.InfoStyle.Render(shortID(g.ID)), g.Name, goalProgress(g), describeMode(g))
			}
			return w.Flush()
		},
	}
}

func showGoalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|name>",
		Short: "Show a goal and its contributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.resolveGoal(cmd, args[0])
			if err != nil {
				return err
			}

			var b strings.Builder
			fmt.Fprintf(&b, "ID:        %s\n", g.ID)
			fmt.Fprintf(&b, "Progress:  %s\n", goalProgress(g))
			fmt.Fprintf(&b, "Remaining: %s\n", model.FormatMoney(g.Remaining()))
			fmt.Fprintf(&b, "Mode:      %s\n", describeMode(g))
			if g.IsForeign() {
				fmt.Fprintf(&b, "Currency:  %s (%s)\n", g.ForeignCurrency.Name, g.ForeignCurrency.Symbol)
			}
			if g.Description != "" {
				fmt.Fprintf(&b, "About:     %s\n", g.Description)
			}
			if len(g.Contributions) > 0 {
				b.WriteString("\n")
			}
			for _, c := range g.Contributions {
				source := "manual"
				if c.Auto {
					source = "auto"
				}
				fmt.Fprintf(&b, "  %s  %10s  %s", c.Date.Format(dateLayout), model.FormatMoney(c.Amount), source)
				if !c.ForeignUnits.IsZero() {
					fmt.Fprintf(&b, "  (%s units at %s)", c.ForeignUnits, c.Rate)
				}
				b.WriteString("\n")
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox(cli.GoalIcon+" "+g.Name, strings.TrimRight(b.String(), "\n")))
			return nil
		},
	}
}

func contributeGoalCmd() *cobra.Command {
	var (
		units string
		rate  string
	)

	cmd := &cobra.Command{
		Use:   "contribute <id|name> <amount>",
		Short: "Move money from the balance into a goal",
		Long: `Move an amount, in local currency, from the balance into a goal. The
contribution cannot exceed what the goal still needs or what the balance
holds. For foreign-currency goals, --units and --rate record the original
figures.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.resolveGoal(cmd, args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			var opts goals.ManualOptions
			if opts.ForeignUnits, err = parseOptionalDecimal(units, "units"); err != nil {
				return err
			}
			if opts.Rate, err = parseOptionalDecimal(rate, "rate"); err != nil {
				return err
			}

			updated, err := a.goals.ContributeManually(ctx, g.ID, amount, opts)
			if err != nil {
				if errors.Is(err, common.ErrInsufficientBalance) {
					return common.NewUserError("the balance cannot cover this contribution", err)
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Added %s to %s: %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				model.FormatMoney(amount),
				cli.InfoStyle.Render(updated.Name),
				goalProgress(updated))
			if updated.Achieved() {
				fmt.Fprintln(out, cli.FormatSuccess("Goal achieved!"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&units, "units", "", "Foreign currency units bought")
	cmd.Flags().StringVar(&rate, "rate", "", "Exchange rate used")

	return cmd
}

func modeGoalCmd() *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "mode <id|name> <fixed|percent|manual>",
		Short: "Change how a goal is funded",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.resolveGoal(cmd, args[0])
			if err != nil {
				return err
			}
			mode, err := goals.ParseMode(args[1])
			if err != nil {
				return err
			}
			v, err := parseOptionalDecimal(value, "mode value")
			if err != nil {
				return err
			}
			if err := a.goals.SetMode(ctx, g.ID, mode, v); err != nil {
				return err
			}
			g.Mode, g.ModeValue = mode, v
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is now funded %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon), cli.InfoStyle.Render(g.Name), describeMode(g))
			return nil
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "Monthly amount for fixed, percentage for percent")

	return cmd
}

func deleteGoalCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id|name>",
		Short: "Delete a goal",
		Long: `Delete a goal and its contribution history. Money already contributed is
not returned to the balance.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			g, err := a.resolveGoal(cmd, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !yes {
				ok, err := cli.NewNonBlockingReader(cmd.InOrStdin()).Confirm(ctx, out,
					fmt.Sprintf("Delete goal %s with %s saved?", g.Name, model.FormatMoney(g.Progress())))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, cli.SubtleStyle.Render("Canceled."))
					return nil
				}
			}
			if err := a.goals.Delete(ctx, g.ID); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s Deleted goal %s\n", cli.SuccessStyle.Render(cli.SuccessIcon), cli.InfoStyle.Render(g.Name))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

func monthlyGoalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monthly",
		Short: "Show how much was saved into goals each month",
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
			totals, err := a.goals.MonthlyTotals(ctx, owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(totals) == 0 {
				fmt.Fprintln(out, cli.SubtleStyle.Render("No contributions yet."))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, header("MONTH", "SAVED", "CONTRIBUTIONS"))
			sum := decimal.Zero
			for _, mt := range totals {
				sum = sum.Add(mt.Total)
				fmt.Fprintf(w, "%s\t%s\t%d\n", mt.Month.Format("2006-01"), model.FormatMoney(mt.Total), mt.Count)
			}
			fmt.Fprintf(w, "%s\t%s\t\n", cli.BoldStyle.Render("TOTAL"), cli.BoldStyle.Render(model.FormatMoney(sum)))
			return w.Flush()
		},
	}
}
