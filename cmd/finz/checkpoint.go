package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/finz/internal/cli"
	"github.com/Veraticus/finz/internal/storage"
	"github.com/spf13/cobra"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage database checkpoints",
		Long: `Create, list, and delete database checkpoints.

Checkpoints save the current state of the database before risky changes such
as a large import.`,
		Example: `  # Create a checkpoint before importing a year of statements
  finz checkpoint create --tag pre-2024-import

  # List all checkpoints
  finz checkpoint list

  # Delete an old checkpoint
  finz checkpoint delete old-checkpoint`,
	}

	cmd.AddCommand(createCheckpointCmd())
	cmd.AddCommand(listCheckpointsCmd())
	cmd.AddCommand(deleteCheckpointCmd())

	return cmd
}

// withCheckpoints opens the database and hands its checkpoint manager to fn.
func withCheckpoints(ctx context.Context, fn func(*storage.CheckpointManager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := initStorage(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	manager, err := store.NewCheckpointManager()
	if err != nil {
		return fmt.Errorf("failed to create checkpoint manager: %w", err)
	}
	return fn(manager)
}

func createCheckpointCmd() *cobra.Command {
	var tag string
	var description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new checkpoint",
		Long:  `Create a snapshot of the current database state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(cmd.Context(), func(manager *storage.CheckpointManager) error {
				info, err := manager.Create(cmd.Context(), tag, description)
				if err != nil {
					return fmt.Errorf("failed to create checkpoint: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s Created checkpoint %s (%s)\n",
					cli.SuccessStyle.Render(cli.SuccessIcon),
					cli.InfoStyle.Render(info.ID),
					formatFileSize(info.FileSize))
				if info.Description != "" {
					fmt.Fprintf(out, "  Description: %s\n", info.Description)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Checkpoint tag/name (auto-generated if not provided)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description of the checkpoint")

	return cmd
}

func listCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all checkpoints",
		Long:  `Display all available checkpoints with their metadata.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(cmd.Context(), func(manager *storage.CheckpointManager) error {
				checkpoints, err := manager.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list checkpoints: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(checkpoints) == 0 {
					fmt.Fprintln(out, cli.SubtleStyle.Render("No checkpoints found."))
					return nil
				}

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, header("NAME", "CREATED", "SIZE", "SCHEMA", "ROWS", "TYPE"))
				for _, cp := range checkpoints {
					typeLabel := "manual"
					if cp.IsAuto {
						typeLabel = "auto"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
						cli.InfoStyle.Render(cp.ID),
						formatRelativeTime(cp.CreatedAt),
						formatFileSize(cp.FileSize),
						cp.SchemaVersion,
						formatRowCounts(cp.RowCounts),
						cli.SubtleStyle.Render(typeLabel))
				}
				return w.Flush()
			})
		},
	}
}

// formatRowCounts renders the tables that hold rows, e.g. "movements=12 goals=2".
func formatRowCounts(counts map[string]int) string {
	tables := make([]string, 0, len(counts))
	for table, n := range counts {
		if n > 0 {
			tables = append(tables, table)
		}
	}
	if len(tables) == 0 {
		return "empty"
	}
	sort.Strings(tables)
	parts := make([]string, len(tables))
	for i, table := range tables {
		parts[i] = fmt.Sprintf("%s=%d", table, counts[table])
	}
	return strings.Join(parts, " ")
}

func deleteCheckpointCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <checkpoint-id>",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if !force {
				ok, err := cli.NewNonBlockingReader(cmd.InOrStdin()).Confirm(ctx, out,
					fmt.Sprintf("Delete checkpoint %s?", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, cli.SubtleStyle.Render("Canceled."))
					return nil
				}
			}

			return withCheckpoints(ctx, func(manager *storage.CheckpointManager) error {
				if err := manager.Delete(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to delete checkpoint: %w", err)
				}
				fmt.Fprintf(out, "%s Deleted checkpoint %s\n",
					cli.SuccessStyle.Render(cli.SuccessIcon), cli.InfoStyle.Render(args[0]))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}
