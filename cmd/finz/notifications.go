package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/Veraticus/finz/internal/cli"
	"github.com/spf13/cobra"
)

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notification", "inbox"},
		Short:   "Read and clear notifications",
	}

	cmd.AddCommand(listNotificationsCmd())
	cmd.AddCommand(readNotificationCmd())
	cmd.AddCommand(deleteNotificationCmd())

	return cmd
}

func listNotificationsCmd() *cobra.Command {
	var unread bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
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
			list, err := a.store.ListNotifications(ctx, owner)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, header("ID", "WHEN", "TITLE", "MESSAGE"))
			shown := 0
			for _, n := range list {
				if unread && n.Read {
					continue
				}
				title := cli.BoldStyle.Render(n.Title)
				if n.Read {
					title = cli.SubtleStyle.Render(n.Title)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortID(n.ID), formatRelativeTime(n.CreatedAt), title, n.Body)
				shown++
			}
			if shown == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.SubtleStyle.Render("No notifications."))
				return nil
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&unread, "unread", false, "Only unread notifications")

	return cmd
}

// resolveNotification expands an id prefix as printed by list.
func (a *app) resolveNotification(cmd *cobra.Command, ref string) (string, error) {
	ctx := cmd.Context()
	owner, err := a.owner(ctx)
	if err != nil {
		return "", err
	}
	list, err := a.store.ListNotifications(ctx, owner)
	if err != nil {
		return "", err
	}
	match := ""
	for _, n := range list {
		if n.ID == ref {
			return n.ID, nil
		}
		if len(ref) >= 4 && len(n.ID) >= len(ref) && n.ID[:len(ref)] == ref {
			if match != "" {
				return "", fmt.Errorf("notification id %q is ambiguous", ref)
			}
			match = n.ID
		}
	}
	if match == "" {
		return ref, nil
	}
	return match, nil
}

func readNotificationCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "read [id]",
		Short: "Mark notifications as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !all && len(args) == 0 {
				return fmt.Errorf("pass a notification id or --all")
			}

			var ids []string
			if all {
				owner, err := a.owner(ctx)
				if err != nil {
					return err
				}
				list, err := a.store.ListNotifications(ctx, owner)
				if err != nil {
					return err
				}
				for _, n := range list {
					if !n.Read {
						ids = append(ids, n.ID)
					}
				}
			} else {
				id, err := a.resolveNotification(cmd, args[0])
				if err != nil {
					return err
				}
				ids = []string{id}
			}

			for _, id := range ids {
				if err := a.store.MarkNotificationRead(ctx, id); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Marked %d read\n", cli.SuccessStyle.Render(cli.SuccessIcon), len(ids))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Mark every unread notification")

	return cmd
}

func deleteNotificationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.resolveNotification(cmd, args[0])
			if err != nil {
				return err
			}
			if err := a.store.DeleteNotification(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted notification %s\n", cli.SuccessStyle.Render(cli.SuccessIcon), shortID(id))
			return nil
		},
	}
}
