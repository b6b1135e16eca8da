// Package mcptools exposes the command facade as MCP tools so assistants can
// move work across a board on behalf of one configured user.
//
// Each tool is a struct holding the facade and the acting user; Definition
// returns the schema and Handle runs the command. Domain failures come back as
// tool errors carrying the stable error code, never as protocol errors.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/facade"
	"taskflow/internal/repo"
)

// Tool is the common shape of every handler in this package.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// NewServer registers every tool for actor on a fresh MCP server.
func NewServer(f facade.Facade, actor, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"taskflow",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Tools act as user "+actor+". Moving a task into the done stage submits it for approval."),
	)
	for _, t := range All(f, actor) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}

func All(f facade.Facade, actor string) []Tool {
	return []Tool{
		&BoardTool{f: f, actor: actor},
		&CreateTaskTool{f: f, actor: actor},
		&MoveTool{f: f, actor: actor},
		&ApproveTool{f: f, actor: actor},
		&RejectTool{f: f, actor: actor},
		&DependencyTool{f: f, actor: actor},
		&InboxTool{f: f, actor: actor},
		&MarkReadTool{f: f, actor: actor},
	}
}

// ─── Board ──────────────────────────────────────────────────────────────────

type BoardTool struct {
	f     facade.Facade
	actor string
}

func (t *BoardTool) Definition() mcp.Tool {
	return mcp.NewTool("board_get",
		mcp.WithDescription("Show a project board: stages in order with their tasks, WIP counts and limits."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project ID")),
	)
}

func (t *BoardTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	if projectID == "" {
		return mcp.NewToolResultError("'project_id' is required"), nil
	}
	board, err := t.f.Board(t.f.WithRequest(ctx), t.actor, projectID)
	if err != nil {
		return failure(err), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", board.Project.Name)
	for _, col := range board.Columns {
		limit := "-"
		if col.Stage.WIPLimit != nil {
			limit = fmt.Sprintf("%d", *col.Stage.WIPLimit)
		}
		fmt.Fprintf(&b, "\n## %s (%s) %d/%s\n", col.Stage.Name, col.Stage.ID, col.WIPCount, limit)
		for _, task := range col.Tasks {
			fmt.Fprintf(&b, "- %s %s [%s]\n", task.ID, task.Title, task.ApprovalStatus)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

type CreateTaskTool struct {
	f     facade.Facade
	actor string
}

func (t *CreateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("task_create",
		mcp.WithDescription("Create a task in a project. Without stage_id it lands in the first stage."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project ID")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Markdown description; @username mentions notify members")),
		mcp.WithString("stage_id", mcp.Description("Initial stage")),
		mcp.WithString("due_date", mcp.Description("Due date, YYYY-MM-DD")),
		mcp.WithString("parent_id", mcp.Description("Parent task for a subtask")),
	)
}

func (t *CreateTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := engine.TaskOptions{
		ProjectID:   req.GetString("project_id", ""),
		Title:       req.GetString("title", ""),
		Description: req.GetString("description", ""),
		StageID:     req.GetString("stage_id", ""),
		DueDate:     req.GetString("due_date", ""),
		ParentID:    req.GetString("parent_id", ""),
	}
	if opts.ProjectID == "" || opts.Title == "" {
		return mcp.NewToolResultError("'project_id' and 'title' are required"), nil
	}
	task, err := t.f.CreateTask(t.f.WithRequest(ctx), t.actor, opts)
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(task)
}

type MoveTool struct {
	f     facade.Facade
	actor string
}

func (t *MoveTool) Definition() mcp.Tool {
	return mcp.NewTool("task_move",
		mcp.WithDescription(
			"Move a task to another stage. Strict WIP limits reject the move; warning limits move it and report a warning. "+
				"Moving into the done stage submits the task for approval.",
		),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
		mcp.WithString("to_stage_id", mcp.Required(), mcp.Description("Destination stage ID")),
		mcp.WithNumber("index", mcp.Description("Position within the destination stage; appended when omitted")),
	)
}

func (t *MoveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := engine.MoveOptions{
		TaskID:    req.GetString("task_id", ""),
		ToStageID: req.GetString("to_stage_id", ""),
	}
	if opts.TaskID == "" || opts.ToStageID == "" {
		return mcp.NewToolResultError("'task_id' and 'to_stage_id' are required"), nil
	}
	if idx, ok := req.GetArguments()["index"].(float64); ok {
		i := int(idx)
		opts.Index = &i
	}
	res, err := t.f.MoveTask(t.f.WithRequest(ctx), t.actor, opts)
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(res)
}

type ApproveTool struct {
	f     facade.Facade
	actor string
}

func (t *ApproveTool) Definition() mcp.Tool {
	return mcp.NewTool("task_approve",
		mcp.WithDescription("Approve a task waiting for approval in the done stage. Requires admin on the project."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	)
}

func (t *ApproveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	task, err := t.f.Approve(t.f.WithRequest(ctx), t.actor, taskID)
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(task)
}

type RejectTool struct {
	f     facade.Facade
	actor string
}

func (t *RejectTool) Definition() mcp.Tool {
	return mcp.NewTool("task_reject",
		mcp.WithDescription("Send a pending task back to an earlier stage with an optional reason."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
		mcp.WithString("return_stage_id", mcp.Required(), mcp.Description("Non-terminal stage to return the task to")),
		mcp.WithString("reason", mcp.Description("Shown to the submitter")),
	)
}

func (t *RejectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := engine.RejectOptions{
		TaskID:        req.GetString("task_id", ""),
		ReturnStageID: req.GetString("return_stage_id", ""),
		Reason:        req.GetString("reason", ""),
	}
	if opts.TaskID == "" || opts.ReturnStageID == "" {
		return mcp.NewToolResultError("'task_id' and 'return_stage_id' are required"), nil
	}
	res, err := t.f.Reject(t.f.WithRequest(ctx), t.actor, opts)
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(res)
}

// ─── Dependencies ───────────────────────────────────────────────────────────

type DependencyTool struct {
	f     facade.Facade
	actor string
}

func (t *DependencyTool) Definition() mcp.Tool {
	return mcp.NewTool("dependency_add",
		mcp.WithDescription("Record that one task blocks another. Cycles and self-dependencies are rejected."),
		mcp.WithString("blocking_task_id", mcp.Required(), mcp.Description("Task that must finish first")),
		mcp.WithString("blocked_task_id", mcp.Required(), mcp.Description("Task that waits")),
		mcp.WithString("type", mcp.Description("finish_to_start (default), start_to_start, finish_to_finish or start_to_finish")),
		mcp.WithNumber("lag_days", mcp.Description("Days to wait after the blocking condition")),
	)
}

func (t *DependencyTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := engine.DependencyOptions{
		BlockingTaskID: req.GetString("blocking_task_id", ""),
		BlockedTaskID:  req.GetString("blocked_task_id", ""),
		Type:           req.GetString("type", ""),
	}
	if opts.BlockingTaskID == "" || opts.BlockedTaskID == "" {
		return mcp.NewToolResultError("'blocking_task_id' and 'blocked_task_id' are required"), nil
	}
	if lag, ok := req.GetArguments()["lag_days"].(float64); ok {
		opts.LagDays = int(lag)
	}
	dep, err := t.f.AddDependency(t.f.WithRequest(ctx), t.actor, opts)
	if err != nil {
		return failure(err), nil
	}
	return jsonResult(dep)
}

// ─── Inbox ──────────────────────────────────────────────────────────────────

type InboxTool struct {
	f     facade.Facade
	actor string
}

func (t *InboxTool) Definition() mcp.Tool {
	return mcp.NewTool("inbox_list",
		mcp.WithDescription("List attention items (mentions, assignments, deadlines, comments), most recent first."),
		mcp.WithBoolean("unread_only", mcp.Description("Only unread items (default: true)")),
		mcp.WithNumber("limit", mcp.Description("Maximum items (default: 20)")),
	)
}

func (t *InboxTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filters := repo.InboxFilters{UnreadOnly: true, Limit: 20}
	if v, ok := req.GetArguments()["unread_only"].(bool); ok {
		filters.UnreadOnly = v
	}
	if v, ok := req.GetArguments()["limit"].(float64); ok && v > 0 {
		filters.Limit = int(v)
	}
	items, err := t.f.Inbox(ctx, t.actor, filters)
	if err != nil {
		return failure(err), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("Inbox is empty."), nil
	}
	var b strings.Builder
	for _, it := range items {
		mark := " "
		if it.ReadAt == nil {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %s [%s] %s\n", mark, it.ID, it.Type, it.Title)
	}
	return mcp.NewToolResultText(b.String()), nil
}

type MarkReadTool struct {
	f     facade.Facade
	actor string
}

func (t *MarkReadTool) Definition() mcp.Tool {
	return mcp.NewTool("inbox_mark_read",
		mcp.WithDescription("Mark attention items read. Pass ids as a comma separated list, or all=true."),
		mcp.WithString("ids", mcp.Description("Comma separated item IDs")),
		mcp.WithBoolean("all", mcp.Description("Mark every item read")),
	)
}

func (t *MarkReadTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		n   int64
		err error
	)
	if all, _ := req.GetArguments()["all"].(bool); all {
		n, err = t.f.MarkAllRead(ctx, t.actor)
	} else {
		var ids []string
		for _, id := range strings.Split(req.GetString("ids", ""), ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return mcp.NewToolResultError("pass 'ids' or all=true"), nil
		}
		n, err = t.f.MarkRead(ctx, t.actor, ids)
	}
	if err != nil {
		return failure(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Marked %d item(s) read.", n)), nil
}

// failure renders a domain error with its stable code so callers can branch
// on it.
func failure(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", domain.CodeOf(err), err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
