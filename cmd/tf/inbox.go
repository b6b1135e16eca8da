package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskflow/internal/app"
	"taskflow/internal/domain"
	"taskflow/internal/repo"
)

func inboxCmd() *cobra.Command {
	var f repo.InboxFilters
	var types string
	inbox := &cobra.Command{
		Use:   "inbox",
		Short: "Show your attention items",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range splitCSV(types) {
				f.Types = append(f.Types, domain.AttentionType(t))
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				items, err := a.Facade.Inbox(ctx, who, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					state := "unread"
					if it.ReadAt != nil {
						state = "read"
					}
					rows = append(rows, table.Row{it.ID, it.Type, it.Priority, state, it.Title})
				}
				return render(items, table.Row{"ID", "Type", "Priority", "State", "Title"}, rows)
			})
		},
	}
	inbox.Flags().BoolVar(&f.UnreadOnly, "unread", false, "only unread items")
	inbox.Flags().BoolVar(&f.IncludeDismissed, "all", false, "include dismissed items")
	inbox.Flags().StringVar(&types, "types", "", "comma separated item types")
	inbox.Flags().IntVar(&f.Limit, "limit", 50, "maximum items")

	inbox.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Unread item count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				n, err := a.Facade.UnreadCount(ctx, who)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]int{"count": n})
				}
				fmt.Println(n)
				return nil
			})
		},
	})

	inbox.AddCommand(&cobra.Command{
		Use:   "read [item-id...]",
		Short: "Mark items read; without ids marks everything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				var n int64
				var err error
				if len(args) == 0 {
					n, err = a.Facade.MarkAllRead(ctx, who)
				} else {
					n, err = a.Facade.MarkRead(ctx, who, args)
				}
				if err != nil {
					return err
				}
				fmt.Printf("marked %d item(s) read\n", n)
				return nil
			})
		},
	})

	inbox.AddCommand(&cobra.Command{
		Use:   "dismiss <item-id>",
		Short: "Dismiss an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				return a.Facade.Dismiss(ctx, who, args[0])
			})
		},
	})

	var unreadMentions bool
	mentions := &cobra.Command{
		Use:   "mentions",
		Short: "Comments that mention you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				items, err := a.Facade.Mentions(ctx, who, unreadMentions)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, m := range items {
					rows = append(rows, table.Row{m.ID, m.MentionerUserID, deref(m.TaskID), m.Context})
				}
				return render(items, table.Row{"ID", "From", "Task", "Context"}, rows)
			})
		},
	}
	mentions.Flags().BoolVar(&unreadMentions, "unread", false, "only unread mentions")
	inbox.AddCommand(mentions)
	return inbox
}
