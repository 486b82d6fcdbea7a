package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/finz/internal/accrual"
	"github.com/Veraticus/finz/internal/cli"
	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
	"github.com/Veraticus/finz/internal/period"
	"github.com/Veraticus/finz/internal/service"
	"github.com/spf13/cobra"
)

func movementsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "movements",
		Aliases: []string{"movement", "mv"},
		Short:   "Record incomes and expenses",
		Long: `Record incomes and expenses, optionally split into installments.

Installments post to the balance as they fall due. Movements created with
--confirm wait for "finz movements confirm" before each installment posts.`,
	}

	cmd.AddCommand(addMovementCmd())
	cmd.AddCommand(listMovementsCmd())
	cmd.AddCommand(showMovementCmd())
	cmd.AddCommand(updateMovementCmd())
	cmd.AddCommand(confirmMovementCmd())
	cmd.AddCommand(deleteMovementCmd())
	cmd.AddCommand(pendingMovementsCmd())

	return cmd
}

func parseDirection(s string) (model.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income", "in":
		return model.DirectionIncome, nil
	case "expense", "out", "":
		return model.DirectionExpense, nil
	default:
		return "", common.Validationf("unknown movement type %q (income or expense)", s)
	}
}

func parseKind(s string) (model.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "recurring", "fixed":
		return model.KindRecurring, nil
	case "one-off", "oneoff", "variable", "":
		return model.KindOneOff, nil
	default:
		return "", common.Validationf("unknown movement kind %q (recurring or one-off)", s)
	}
}

func parseStatus(s string) (model.ExpenseStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "paid":
		return model.ExpensePaid, nil
	case "pending":
		return model.ExpensePending, nil
	default:
		return "", common.Validationf("unknown status %q (paid or pending)", s)
	}
}

// describeAction reports what the first accrual step did to a new movement.
func describeAction(m *model.Movement, action accrual.Action) string {
	switch action.Kind {
	case accrual.PostAutomatic:
		return fmt.Sprintf("Posted installment %d of %d: %s",
			action.Index+1, m.InstallmentCount, cli.FormatAmount(m.Signed(action.Amount)))
	case accrual.MarkPending:
		return fmt.Sprintf("Installment due %s awaits confirmation", action.Due.Format(dateLayout))
	default:
		if due, ok := m.NextDueDate(); ok {
			return "Next installment due " + due.Format(dateLayout)
		}
		return "Nothing due"
	}
}

func movementState(m *model.Movement) string {
	switch {
	case m.PendingConfirmation:
		return cli.WarningStyle.Render("to confirm")
	case m.FullyProcessed():
		return cli.SubtleStyle.Render("done")
	default:
		return cli.SuccessStyle.Render("active")
	}
}

func addMovementCmd() *cobra.Command {
	var (
		kind         string
		amount       string
		frequency    string
		start        string
		category     string
		status       string
		description  string
		installments int
		requireOK    bool
	)

	cmd := &cobra.Command{
		Use:   "add <income|expense> <name>",
		Short: "Record an income or an expense",
		Example: `  # A salary paid every month
  finz movements add income Salary --amount 3200 --kind recurring

  # A laptop paid in 12 monthly installments
  finz movements add expense Laptop --amount 1800 --installments 12 --category Technology

  # Rent that should wait for confirmation every month
  finz movements add expense Rent --amount 950 --kind recurring --confirm`,
		Args: cobra.ExactArgs(2),
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
			direction, err := parseDirection(args[0])
			if err != nil {
				return err
			}
			k, err := parseKind(kind)
			if err != nil {
				return err
			}
			total, err := parseAmount(amount)
			if err != nil {
				return err
			}
			startDate, err := parseDate(start, a.clock.Now())
			if err != nil {
				return err
			}
			st, err := parseStatus(status)
			if err != nil {
				return err
			}
			catID, err := a.categoryID(ctx, owner, category)
			if err != nil {
				return err
			}

			m, action, err := a.movements.Create(ctx, accrual.CreateInput{
				OwnerID:          owner,
				Name:             args[1],
				Description:      description,
				Direction:        direction,
				Kind:             k,
				Frequency:        frequency,
				Amount:           total,
				InstallmentCount: installments,
				StartDate:        startDate,
				Status:           st,
				CategoryID:       catID,
				AutoPost:         !requireOK,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s Recorded %s %s (%s)\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				directionLabel(m.Direction),
				cli.InfoStyle.Render(m.Name),
				m.ID)
			fmt.Fprintf(out, "  %s\n", describeAction(m, action))
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "Total amount of the movement (required)")
	cmd.Flags().StringVar(&kind, "kind", "one-off", "Movement kind: recurring or one-off")
	cmd.Flags().StringVar(&frequency, "frequency", string(period.Monthly), "Installment frequency: monthly, biweekly or weekly")
	cmd.Flags().IntVar(&installments, "installments", 1, "Number of installments the amount is split into")
	cmd.Flags().StringVar(&start, "start", "", "Date of the first installment, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVar(&category, "category", "", "Expense category name")
	cmd.Flags().StringVar(&status, "status", "", "Expense status: paid or pending")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Free-form description")
	cmd.Flags().BoolVar(&requireOK, "confirm", false, "Require confirmation before each installment posts")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func listMovementsCmd() *cobra.Command {
	var (
		direction string
		kind      string
		active    bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List movements",
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
			filter := service.MovementFilter{OwnerID: owner, Unfinished: active}
			if direction != "" {
				if filter.Direction, err = parseDirection(direction); err != nil {
					return err
				}
			}
			if kind != "" {
				if filter.Kind, err = parseKind(kind); err != nil {
					return err
				}
			}

			list, err := a.movements.List(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list movements: %w", err)
			}
			return printMovements(cmd.OutOrStdout(), list)
		},
	}

	cmd.Flags().StringVar(&direction, "type", "", "Only incomes or only expenses")
	cmd.Flags().StringVar(&kind, "kind", "", "Only recurring or only one-off movements")
	cmd.Flags().BoolVar(&active, "active", false, "Only movements with installments left")

	return cmd
}

func printMovements(out io.Writer, list []model.Movement) error {
	if len(list) == 0 {
		fmt.Fprintln(out, cli.SubtleStyle.Render("No movements found."))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, header("ID", "NAME", "KIND", "AMOUNT", "INSTALLMENTS", "NEXT DUE", "STATE"))
	for i := range list {
		m := &list[i]
		next := "-"
		if due, ok := m.NextDueDate(); ok {
			next = due.Format(dateLayout)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d %s\t%s\t%s\n",
			cli.InfoStyle.Render(shortID(m.ID)),
			m.Name,
			m.Kind,
			cli.FormatAmount(m.Signed(m.Amount)),
			m.InstallmentsProcessed, m.InstallmentCount, m.Frequency,
			next,
			movementState(m))
	}
	return w.Flush()
}

// resolveMovement finds a movement by full id or by a unique id prefix as
// printed by list.
func (a *app) resolveMovement(cmd *cobra.Command, ref string) (*model.Movement, error) {
	ctx := cmd.Context()
	m, err := a.movements.Get(ctx, ref)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	owner, ownerErr := a.owner(ctx)
	if ownerErr != nil {
		return nil, err
	}
	list, listErr := a.movements.List(ctx, service.MovementFilter{OwnerID: owner})
	if listErr != nil {
		return nil, listErr
	}
	var match *model.Movement
	for i := range list {
		if strings.HasPrefix(list[i].ID, ref) {
			if match != nil {
				return nil, common.NewUserError(fmt.Sprintf("movement id %q is ambiguous", ref), common.ErrValidation)
			}
			match = &list[i]
		}
	}
	if match == nil {
		return nil, common.NewUserError(fmt.Sprintf("movement %q not found", ref), err)
	}
	return match, nil
}

func showMovementCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a movement and its installment schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.resolveMovement(cmd, args[0])
			if err != nil {
				return err
			}

			var b strings.Builder
			fmt.Fprintf(&b, "ID:          %s\n", m.ID)
			fmt.Fprintf(&b, "Type:        %s, %s, %s\n", directionLabel(m.Direction), m.Kind, m.Frequency)
			fmt.Fprintf(&b, "Amount:      %s\n", cli.FormatAmount(m.Signed(m.Amount)))
			fmt.Fprintf(&b, "Posted:      %s\n", model.FormatMoney(m.PostedAmount()))
			if m.Description != "" {
				fmt.Fprintf(&b, "Description: %s\n", m.Description)
			}
			if m.Status != "" {
				fmt.Fprintf(&b, "Status:      %s\n", m.Status)
			}
			if m.CategoryID != 0 {
				fmt.Fprintf(&b, "Category:    %s\n", a.categoryNames(ctx, m.OwnerID)[m.CategoryID])
			}
			fmt.Fprintf(&b, "Auto-post:   %t\n\n", m.AutoPost)

			for i := 0; i < m.InstallmentCount; i++ {
				state := "upcoming"
				switch {
				case i < m.InstallmentsProcessed:
					state = "posted"
				case i == m.InstallmentsProcessed && m.PendingConfirmation:
					state = "to confirm"
				}
				fmt.Fprintf(&b, "  %2d. %s  %s  %s\n", i+1,
					period.DueDate(m.StartDate, m.Frequency, i).Format(dateLayout),
					model.FormatMoney(m.InstallmentAmount(i)),
					state)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox(m.Name, strings.TrimRight(b.String(), "\n")))
			return nil
		},
	}
}

func updateMovementCmd() *cobra.Command {
	var (
		name        string
		description string
		status      string
		category    string
		autoPost    bool
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the descriptive fields of a movement",
		Long: `Change the name, description, status, category or auto-post flag of a
movement. Amounts and schedules cannot change once installments may have
posted; delete and re-create the movement instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.resolveMovement(cmd, args[0])
			if err != nil {
				return err
			}

			var patch service.MovementPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("status") {
				st, err := parseStatus(status)
				if err != nil {
					return err
				}
				patch.Status = &st
			}
			if flags.Changed("category") {
				id, err := a.categoryID(ctx, m.OwnerID, category)
				if err != nil {
					return err
				}
				patch.CategoryID = &id
			}
			if flags.Changed("auto-post") {
				patch.AutoPost = &autoPost
			}

			updated, err := a.movements.Update(ctx, m.ID, patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Updated %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon), cli.InfoStyle.Render(updated.Name))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	cmd.Flags().StringVar(&status, "status", "", "Expense status: paid or pending")
	cmd.Flags().StringVar(&category, "category", "", "Category name, empty to clear")
	cmd.Flags().BoolVar(&autoPost, "auto-post", true, "Post installments without confirmation")

	return cmd
}

func confirmMovementCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm the pending installment of a movement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.resolveMovement(cmd, args[0])
			if err != nil {
				return err
			}
			confirmed, err := a.movements.Confirm(ctx, m.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Confirmed %s installment %d of %d: %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				cli.InfoStyle.Render(confirmed.Name),
				confirmed.InstallmentsProcessed, confirmed.InstallmentCount,
				cli.FormatAmount(confirmed.Signed(confirmed.InstallmentAmount(confirmed.InstallmentsProcessed-1))))
			return nil
		},
	}
}

func deleteMovementCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a movement and reverse what it posted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.resolveMovement(cmd, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !yes {
				question := fmt.Sprintf("Delete %s and reverse %s already posted?",
					m.Name, model.FormatMoney(m.PostedAmount()))
				ok, err := cli.NewNonBlockingReader(cmd.InOrStdin()).Confirm(ctx, out, question)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, cli.SubtleStyle.Render("Canceled."))
					return nil
				}
			}

			reversal, err := a.movements.Delete(ctx, m.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s Deleted %s, balance adjusted by %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				cli.InfoStyle.Render(m.Name),
				cli.FormatAmount(reversal))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

func pendingMovementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List movements awaiting confirmation",
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
			list, err := a.movements.Pending(ctx, owner)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Nothing to confirm."))
				return nil
			}
			return printMovements(cmd.OutOrStdout(), list)
		},
	}
}
