package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskflow/internal/app"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
)

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Manage organizations"}
	org.AddCommand(orgCreateCmd())
	org.AddCommand(orgListCmd())
	org.AddCommand(orgMembersCmd())
	org.AddCommand(orgAddCmd())
	org.AddCommand(orgRemoveCmd())
	org.AddCommand(orgStatsCmd())
	org.AddCommand(teamCmd())
	return org
}

func orgCreateCmd() *cobra.Command {
	var name, slug string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an organization; you become its owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				o, err := a.Facade.CreateOrg(ctx, who, name, slug)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "organization name")
	cmd.Flags().StringVar(&slug, "slug", "", "url-safe identifier")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("slug")
	return cmd
}

func orgListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				items, err := a.Facade.ListOrgs(ctx, who)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, o := range items {
					rows = append(rows, table.Row{o.ID, o.Slug, o.Name})
				}
				return render(items, table.Row{"ID", "Slug", "Name"}, rows)
			})
		},
	}
}

func orgMembersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members <org-id>",
		Short: "List members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				items, err := a.Facade.ListOrgMembers(ctx, who, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, m := range items {
					rows = append(rows, table.Row{m.UserID, m.Role, m.CreatedAt})
				}
				return render(items, table.Row{"User", "Role", "Since"}, rows)
			})
		},
	}
}

func orgAddCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "add <org-id> <user-id>",
		Short: "Add a member or change their role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				m, err := a.Facade.AddOrgMember(ctx, who, args[0], args[1], r)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "editor", "owner, admin, editor or reader")
	return cmd
}

func orgRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <org-id> <user-id>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				return a.Facade.RemoveOrgMember(ctx, who, args[0], args[1])
			})
		},
	}
}

func orgStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <org-id>",
		Short: "Completed (approved) task count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				s, err := a.Facade.OrgStats(ctx, who, args[0])
				if err != nil {
					return err
				}
				return render(s, table.Row{"Org", "Completed"}, []table.Row{{s.OrgID, s.Completed}})
			})
		},
	}
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage teams"}
	team.AddCommand(&cobra.Command{
		Use:   "create <org-id> <name>",
		Short: "Create a team",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				t, err := a.Facade.CreateTeam(ctx, who, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	})
	var role string
	add := &cobra.Command{
		Use:   "add <team-id> <user-id>",
		Short: "Add a team member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseTeamRole(role)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				return a.Facade.SetTeamMember(ctx, who, args[0], args[1], r)
			})
		},
	}
	add.Flags().StringVar(&role, "role", "member", "owner, admin or member")
	team.AddCommand(add)
	return team
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectBoardCmd())
	prj.AddCommand(projectStatsCmd())
	prj.AddCommand(projectGrantCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectChangesCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project with the default workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				p, err := a.Facade.CreateProject(ctx, who, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.OrgID, "org", "", "organization id")
	cmd.Flags().StringVar(&opts.TeamID, "team", "", "owning team id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("org")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects you can read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				items, err := a.Facade.ListProjects(ctx, who)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					rows = append(rows, table.Row{p.ID, p.OrgID, p.Name, len(p.Stages)})
				}
				return render(items, table.Row{"ID", "Org", "Name", "Stages"}, rows)
			})
		},
	}
}

func projectBoardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board <project-id>",
		Short: "Show the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				b, err := a.Facade.Board(ctx, who, args[0])
				if err != nil {
					return err
				}
				var rows []table.Row
				for _, col := range b.Columns {
					limit := "-"
					if col.Stage.WIPLimit != nil {
						limit = fmt.Sprintf("%d (%s)", *col.Stage.WIPLimit, col.Stage.WIPMode)
					}
					for _, t := range col.Tasks {
						rows = append(rows, table.Row{col.Stage.Name, limit, t.Position, t.ID, t.Title, t.ApprovalStatus})
					}
					if len(col.Tasks) == 0 {
						rows = append(rows, table.Row{col.Stage.Name, limit, "", "", "", ""})
					}
				}
				return render(b, table.Row{"Stage", "WIP", "#", "Task", "Title", "Approval"}, rows)
			})
		},
	}
}

func projectStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <project-id>",
		Short: "Project counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				s, err := a.Facade.ProjectStats(ctx, who, args[0])
				if err != nil {
					return err
				}
				return render(s, table.Row{"Total", "Completed", "Pending", "Rejected"}, []table.Row{
					{s.Total, s.Completed, s.Pending, s.Rejected},
				})
			})
		},
	}
}

func projectGrantCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "grant <project-id> <user-id>",
		Short: "Grant a project role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				m, err := a.Facade.AddProjectMember(ctx, who, args[0], args[1], r)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "editor", "owner, admin, editor or reader")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and all its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				return a.Facade.DeleteProject(ctx, who, args[0])
			})
		},
	}
}

func projectChangesCmd() *cobra.Command {
	var after int64
	var limit int
	cmd := &cobra.Command{
		Use:   "changes <project-id>",
		Short: "Read the change feed after a cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				events, err := a.Facade.Changes(ctx, who, args[0], after, limit)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(events))
				for _, e := range events {
					rows = append(rows, table.Row{e.ID, e.TS, e.Type, e.EntityID, e.ActorID})
				}
				return render(events, table.Row{"ID", "At", "Type", "Entity", "Actor"}, rows)
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "cursor (last seen event id)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum events")
	return cmd
}
