package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskflow/internal/app"
	"taskflow/internal/engine"
	"taskflow/internal/repo"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskApproveCmd())
	task.AddCommand(taskRejectCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskCommentCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskOptions
	var hours float64
	var assignees string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("hours") {
				opts.EstimatedHours = &hours
			}
			opts.Assignees = splitCSV(assignees)
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				t, err := a.Facade.CreateTask(ctx, who, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.ProjectID, "project", "p", "", "project id")
	cmd.Flags().StringVarP(&opts.Title, "title", "t", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "none, low, medium, high or urgent")
	cmd.Flags().StringVar(&opts.StageID, "stage", "", "initial stage (defaults to the first)")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date YYYY-MM-DD")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated hours")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&opts.MilestoneID, "milestone", "", "milestone id")
	cmd.Flags().StringVar(&opts.Color, "color", "", "card color")
	cmd.Flags().StringVar(&assignees, "assignees", "", "comma separated user ids")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in board order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				items, err := a.Facade.ListTasks(ctx, who, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, t := range items {
					rows = append(rows, table.Row{t.ID, t.StageID, t.Position, t.Title, t.Priority, t.ApprovalStatus, deref(t.DueDate)})
				}
				return render(items, table.Row{"ID", "Stage", "#", "Title", "Priority", "Approval", "Due"}, rows)
			})
		},
	}
	cmd.Flags().StringVarP(&f.ProjectID, "project", "p", "", "project id")
	cmd.Flags().StringVar(&f.StageID, "stage", "", "only this stage")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "only subtasks of this task")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "only tasks assigned to this user")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "maximum tasks")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its links and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				d, err := a.Facade.GetTask(ctx, who, args[0])
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(d)
				}
				fmt.Printf("%s  %s\n", d.Task.ID, d.Task.Title)
				fmt.Printf("stage: %s  approval: %s  blocked: %t\n", d.Stage.Name, d.Task.ApprovalStatus, d.IsBlocked)
				for _, b := range d.Blockers {
					fmt.Printf("  blocked by %s (%s) %s\n", b.TaskID, b.Type, b.Title)
				}
				for _, as := range d.Assignments {
					fmt.Printf("  %s: %s\n", as.Role, as.UserID)
				}
				for _, c := range d.Comments {
					fmt.Printf("  [%s] %s: %s\n", c.CreatedAt, c.AuthorID, c.Content)
				}
				return nil
			})
		},
	}
}

func taskMoveCmd() *cobra.Command {
	var index int
	cmd := &cobra.Command{
		Use:   "move <task-id> <stage-id>",
		Short: "Move a task to a stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.MoveOptions{TaskID: args[0], ToStageID: args[1]}
			if cmd.Flags().Changed("index") {
				opts.Index = &index
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				res, err := a.Facade.MoveTask(ctx, who, opts)
				if err != nil {
					return err
				}
				if res.Warning != nil && !jsonOutput() {
					fmt.Fprintf(os.Stderr, "warning: stage %s is at its WIP limit (%d/%d)\n",
						res.Warning.StageID, res.Warning.Count, res.Warning.Limit)
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntVar(&index, "index", 0, "position within the destination stage")
	return cmd
}

func taskApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve a task waiting in the done stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				t, err := a.Facade.Approve(ctx, who, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskRejectCmd() *cobra.Command {
	var opts engine.RejectOptions
	cmd := &cobra.Command{
		Use:   "reject <task-id>",
		Short: "Reject a pending task and send it back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				res, err := a.Facade.Reject(ctx, who, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ReturnStageID, "to", "", "non-terminal stage to return the task to")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "rejection reason")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var role string
	var remove bool
	cmd := &cobra.Command{
		Use:   "assign <task-id> <user-id>",
		Short: "Assign a user to a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				if remove {
					return a.Facade.Unassign(ctx, who, args[0], args[1])
				}
				as, err := a.Facade.Assign(ctx, who, engine.AssignOptions{TaskID: args[0], UserID: args[1], Role: role})
				if err != nil {
					return err
				}
				return printJSONOrTable(as)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "assignee", "owner, assignee, reviewer or collaborator")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the assignment instead")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <task-id> <text>",
		Short: "Comment on a task; @username mentions notify",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args[1:], " ")
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				c, err := a.Facade.AddComment(ctx, who, args[0], text)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				return a.Facade.DeleteTask(ctx, who, args[0])
			})
		},
	}
}

func depCmd() *cobra.Command {
	dep := &cobra.Command{Use: "dep", Short: "Manage task dependencies"}

	var depType string
	var lag int
	add := &cobra.Command{
		Use:   "add <blocking-task-id> <blocked-task-id>",
		Short: "Record that one task blocks another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				d, err := a.Facade.AddDependency(ctx, who, engine.DependencyOptions{
					BlockingTaskID: args[0],
					BlockedTaskID:  args[1],
					Type:           depType,
					LagDays:        lag,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	add.Flags().StringVar(&depType, "type", "finish_to_start", "dependency type")
	add.Flags().IntVar(&lag, "lag", 0, "lag in days")
	dep.AddCommand(add)

	dep.AddCommand(&cobra.Command{
		Use:   "remove <blocking-task-id> <blocked-task-id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				return a.Facade.RemoveDependency(ctx, who, args[0], args[1])
			})
		},
	})

	dep.AddCommand(&cobra.Command{
		Use:   "blocked <task-id>",
		Short: "Report whether a task has incomplete blockers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				blocked, err := a.Facade.IsBlocked(ctx, who, args[0])
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]bool{"blocked": blocked})
				}
				fmt.Println(blocked)
				return nil
			})
		},
	})

	dep.AddCommand(&cobra.Command{
		Use:   "critical-path <project-id>",
		Short: "Longest chain of dependent open tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				path, err := a.Facade.CriticalPath(ctx, who, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(path))
				for i, t := range path {
					rows = append(rows, table.Row{i + 1, t.ID, t.Title, deref(t.DueDate)})
				}
				return render(path, table.Row{"#", "Task", "Title", "Due"}, rows)
			})
		},
	})
	return dep
}

func recurCmd() *cobra.Command {
	recur := &cobra.Command{Use: "recur", Short: "Manage recurring tasks"}

	var opts engine.RecurrenceOptions
	var days string
	var dayOfMonth, monthOfYear, maxOcc int
	set := &cobra.Command{
		Use:   "set <task-id>",
		Short: "Make a task a recurrence template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			for _, d := range splitCSV(days) {
				n, err := strconv.Atoi(d)
				if err != nil {
					return fmt.Errorf("invalid weekday %q", d)
				}
				opts.DaysOfWeek = append(opts.DaysOfWeek, n)
			}
			if cmd.Flags().Changed("day-of-month") {
				opts.DayOfMonth = &dayOfMonth
			}
			if cmd.Flags().Changed("month") {
				opts.MonthOfYear = &monthOfYear
			}
			if cmd.Flags().Changed("max") {
				opts.MaxOccurrences = &maxOcc
			}
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				r, err := a.Facade.SetRecurrence(ctx, who, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	set.Flags().StringVar(&opts.Frequency, "frequency", "weekly", "daily, weekly, biweekly, monthly, quarterly, yearly or custom")
	set.Flags().IntVar(&opts.Interval, "interval", 1, "repeat every N periods")
	set.Flags().StringVar(&days, "days", "", "weekdays, 0=Sunday, comma separated")
	set.Flags().IntVar(&dayOfMonth, "day-of-month", 0, "day of month (1-31)")
	set.Flags().IntVar(&monthOfYear, "month", 0, "month of year (1-12)")
	set.Flags().StringVar(&opts.StartDate, "start", "", "first occurrence YYYY-MM-DD")
	set.Flags().StringVar(&opts.EndDate, "end", "", "last possible date YYYY-MM-DD")
	set.Flags().IntVar(&maxOcc, "max", 0, "maximum occurrences")
	_ = set.MarkFlagRequired("start")
	recur.AddCommand(set)

	recur.AddCommand(&cobra.Command{
		Use:   "clear <task-id>",
		Short: "Stop a task from recurring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, who string) error {
				return a.Facade.ClearRecurrence(ctx, who, args[0])
			})
		},
	})
	return recur
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
