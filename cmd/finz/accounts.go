package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/finz/internal/cli"
	"github.com/Veraticus/finz/internal/model"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))

func header(cols ...string) string {
	rendered := make([]string, len(cols))
	for i, c := range cols {
		rendered[i] = headerStyle.Render(c)
	}
	return strings.Join(rendered, "\t")
}

func accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		Short:   "Manage accounts and their balances",
	}

	cmd.AddCommand(createAccountCmd())
	cmd.AddCommand(listAccountsCmd())
	cmd.AddCommand(showAccountCmd())

	return cmd
}

func createAccountCmd() *cobra.Command {
	var (
		id      string
		email   string
		balance string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an account",
		Example: `  # Create an account with an opening balance
  finz accounts create "Household" --id home --balance 2500`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opening, err := parseOptionalDecimal(balance, "balance")
			if err != nil {
				return err
			}
			if id == "" {
				id = uuid.NewString()
			}

			account := &model.Account{
				ID:      id,
				Name:    strings.TrimSpace(args[0]),
				Email:   email,
				Balance: opening.Round(model.CurrencyPlaces),
			}
			if err := a.store.CreateAccount(ctx, account); err != nil {
				return fmt.Errorf("failed to create account: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s Created account %s (%s) with balance %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon),
				cli.InfoStyle.Render(account.Name),
				account.ID,
				model.FormatMoney(account.Balance))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Account identifier (generated if not provided)")
	cmd.Flags().StringVar(&email, "email", "", "Contact email")
	cmd.Flags().StringVar(&balance, "balance", "0", "Opening balance")

	return cmd
}

func listAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			accounts, err := a.store.ListAccounts(ctx)
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				fmt.Fprintln(out, cli.SubtleStyle.Render("No accounts found."))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, header("ID", "NAME", "BALANCE", "CREATED"))
			for _, acc := range accounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					cli.InfoStyle.Render(acc.ID),
					acc.Name,
					cli.FormatAmount(acc.Balance),
					acc.CreatedAt.Format(dateLayout))
			}
			return w.Flush()
		},
	}
}

func showAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the balance and open items of an account",
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
			acc, err := a.store.GetAccount(ctx, owner)
			if err != nil {
				return err
			}
			pending, err := a.movements.Pending(ctx, owner)
			if err != nil {
				return err
			}
			goalList, err := a.goals.List(ctx, owner)
			if err != nil {
				return err
			}

			saved := decimal.Zero
			for i := range goalList {
				saved = saved.Add(goalList[i].Progress())
			}

			var b strings.Builder
			fmt.Fprintf(&b, "ID:        %s\n", acc.ID)
			if acc.Email != "" {
				fmt.Fprintf(&b, "Email:     %s\n", acc.Email)
			}
			fmt.Fprintf(&b, "Balance:   %s\n", cli.FormatAmount(acc.Balance))
			fmt.Fprintf(&b, "Pending:   %d to confirm\n", len(pending))
			fmt.Fprintf(&b, "Goals:     %d (%s saved)", len(goalList), model.FormatMoney(saved))

			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderBox(cli.MoneyIcon+" "+acc.Name, b.String()))
			return nil
		},
	}
}
