package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/Veraticus/finz/internal/cli"
	"github.com/Veraticus/finz/internal/model"
	"github.com/spf13/cobra"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "categories",
		Aliases: []string{"category", "cat"},
		Short:   "Manage expense categories",
		Long: `Expense categories group spending for reporting. Every account shares the
default categories and can add its own.`,
	}

	cmd.AddCommand(addCategoryCmd())
	cmd.AddCommand(listCategoriesCmd())
	cmd.AddCommand(categoryTotalsCmd())

	return cmd
}

func addCategoryCmd() *cobra.Command {
	var icon string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a category for the current account",
		Args:  cobra.ExactArgs(1),
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
			cat := &model.Category{OwnerID: owner, Name: args[0], Icon: icon}
			if err := a.store.CreateCategory(ctx, cat); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created category %s\n",
				cli.SuccessStyle.Render(cli.SuccessIcon), cli.InfoStyle.Render(cat.Name))
			return nil
		},
	}

	cmd.Flags().StringVar(&icon, "icon", "", "Icon shown next to the category")

	return cmd
}

func listCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List categories available to the current account",
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
			cats, err := a.store.GetCategories(ctx, owner)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, header("ID", "NAME", "SOURCE"))
			for _, c := range cats {
				source := "custom"
				if c.Default {
					source = cli.SubtleStyle.Render("default")
				}
				fmt.Fprintf(w, "%d\t%s %s\t%s\n", c.ID, c.Icon, c.Name, source)
			}
			return w.Flush()
		},
	}
}

func categoryTotalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "totals",
		Short: "Show expense totals per category",
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
			totals, err := a.projector.CategoryTotals(ctx, owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(totals) == 0 {
				fmt.Fprintln(out, cli.SubtleStyle.Render("No categorized expenses yet."))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, header("CATEGORY", "TOTAL", "EXPENSES"))
			for _, t := range totals {
				fmt.Fprintf(w, "%s %s\t%s\t%d\n", t.Category.Icon, t.Category.Name, model.FormatMoney(t.Total), t.Count)
			}
			return w.Flush()
		},
	}
}
