package mcptools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/facade"
	"taskflow/internal/migrate"
	"taskflow/internal/notify"
	"taskflow/internal/pin"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

type env struct {
	f       facade.Facade
	project domain.Project
}

// newEnv builds a project owned by u-grace with u-ada as editor.
func newEnv(t *testing.T) env {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "mcp.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	d := notify.NewDispatcher(nil, nil, 8, 0, nil)
	d.Start()
	t.Cleanup(d.Close)
	f := facade.New(engine.New(conn, config.Default()), pin.New(conn), d, nil)

	ctx := context.Background()
	for _, u := range []domain.User{{ID: "u-grace", Username: "grace"}, {ID: "u-ada", Username: "ada"}} {
		if _, err := f.EnsureUser(ctx, u); err != nil {
			t.Fatalf("ensure user: %v", err)
		}
	}
	org, err := f.CreateOrg(ctx, "u-grace", "Acme", "acme")
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	if _, err := f.AddOrgMember(ctx, "u-grace", org.ID, "u-ada", domain.RoleEditor); err != nil {
		t.Fatalf("add member: %v", err)
	}
	p, err := f.CreateProject(ctx, "u-grace", engine.ProjectOptions{OrgID: org.ID, Name: "Website"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return env{f: f, project: p}
}

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func call(t *testing.T, tool Tool, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	res, err := tool.Handle(context.Background(), makeReq(args))
	if err != nil {
		t.Fatalf("%s: unexpected protocol error: %v", tool.Definition().Name, err)
	}
	return res
}

func createTask(t *testing.T, e env, actor, title string) domain.Task {
	t.Helper()
	res := call(t, &CreateTaskTool{f: e.f, actor: actor}, map[string]interface{}{
		"project_id": e.project.ID,
		"title":      title,
	})
	if res.IsError {
		t.Fatalf("create task: %s", resultText(res))
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(resultText(res)), &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	return task
}

// ─── Definitions ─────────────────────────────────────────────────────────────

func TestDefinitionsAreUniqueAndDeclareRequired(t *testing.T) {
	e := newEnv(t)
	seen := map[string]bool{}
	for _, tool := range All(e.f, "u-ada") {
		def := tool.Definition()
		if seen[def.Name] {
			t.Errorf("duplicate tool name %q", def.Name)
		}
		seen[def.Name] = true
		for _, r := range def.InputSchema.Required {
			if _, ok := def.InputSchema.Properties[r]; !ok {
				t.Errorf("%s: required %q has no property", def.Name, r)
			}
		}
	}
	for _, name := range []string{"task_move", "task_approve", "task_reject", "dependency_add", "inbox_list", "inbox_mark_read"} {
		if !seen[name] {
			t.Errorf("missing tool %q", name)
		}
	}
}

// ─── Workflow ────────────────────────────────────────────────────────────────

func TestMoveApproveAndReject(t *testing.T) {
	e := newEnv(t)
	task := createTask(t, e, "u-ada", "Landing page")

	res := call(t, &MoveTool{f: e.f, actor: "u-ada"}, map[string]interface{}{"task_id": task.ID, "to_stage_id": "done"})
	if res.IsError {
		t.Fatalf("move: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), `"approval_status": "pending"`) {
		t.Errorf("expected pending task, got %s", resultText(res))
	}

	res = call(t, &ApproveTool{f: e.f, actor: "u-ada"}, map[string]interface{}{"task_id": task.ID})
	if !res.IsError || !strings.HasPrefix(resultText(res), "forbidden:") {
		t.Errorf("editor approval should fail with forbidden, got %q", resultText(res))
	}

	res = call(t, &RejectTool{f: e.f, actor: "u-grace"}, map[string]interface{}{
		"task_id":         task.ID,
		"return_stage_id": "done",
	})
	if !res.IsError || !strings.HasPrefix(resultText(res), "invalid_return_stage:") {
		t.Errorf("reject into done should fail, got %q", resultText(res))
	}

	res = call(t, &RejectTool{f: e.f, actor: "u-grace"}, map[string]interface{}{
		"task_id":         task.ID,
		"return_stage_id": "doing",
		"reason":          "copy is stale",
	})
	if res.IsError {
		t.Fatalf("reject: %s", resultText(res))
	}

	res = call(t, &ApproveTool{f: e.f, actor: "u-grace"}, map[string]interface{}{"task_id": task.ID})
	if !res.IsError || !strings.HasPrefix(resultText(res), "not_pending:") {
		t.Errorf("approving a rejected task should fail with not_pending, got %q", resultText(res))
	}
}

func TestMoveRequiresArguments(t *testing.T) {
	e := newEnv(t)
	res := call(t, &MoveTool{f: e.f, actor: "u-ada"}, map[string]interface{}{"task_id": "x"})
	if !res.IsError {
		t.Error("expected error without to_stage_id")
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	e := newEnv(t)
	a := createTask(t, e, "u-ada", "Schema")
	b := createTask(t, e, "u-ada", "API")
	tool := &DependencyTool{f: e.f, actor: "u-ada"}

	res := call(t, tool, map[string]interface{}{"blocking_task_id": a.ID, "blocked_task_id": b.ID})
	if res.IsError {
		t.Fatalf("add dependency: %s", resultText(res))
	}
	res = call(t, tool, map[string]interface{}{"blocking_task_id": b.ID, "blocked_task_id": a.ID})
	if !res.IsError || !strings.HasPrefix(resultText(res), "circular_dependency:") {
		t.Errorf("expected circular_dependency, got %q", resultText(res))
	}
	res = call(t, tool, map[string]interface{}{"blocking_task_id": a.ID, "blocked_task_id": a.ID})
	if !res.IsError || !strings.HasPrefix(resultText(res), "self_dependency:") {
		t.Errorf("expected self_dependency, got %q", resultText(res))
	}
}

func TestBoardListsStages(t *testing.T) {
	e := newEnv(t)
	createTask(t, e, "u-ada", "Landing page")
	res := call(t, &BoardTool{f: e.f, actor: "u-ada"}, map[string]interface{}{"project_id": e.project.ID})
	if res.IsError {
		t.Fatalf("board: %s", resultText(res))
	}
	text := resultText(res)
	if !strings.Contains(text, "## To Do (todo)") || !strings.Contains(text, "Landing page") {
		t.Errorf("unexpected board:\n%s", text)
	}
}

// ─── Inbox ───────────────────────────────────────────────────────────────────

func TestInboxListAndMarkRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task := createTask(t, e, "u-grace", "Review copy")
	if _, err := e.f.AddComment(ctx, "u-grace", task.ID, "@ada can you take a look?"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	list := &InboxTool{f: e.f, actor: "u-ada"}
	res := call(t, list, map[string]interface{}{})
	text := resultText(res)
	if res.IsError || !strings.Contains(text, "[mention]") {
		t.Fatalf("expected an unread mention, got %q", text)
	}

	res = call(t, &MarkReadTool{f: e.f, actor: "u-ada"}, map[string]interface{}{})
	if !res.IsError {
		t.Error("mark read without ids or all should fail")
	}
	res = call(t, &MarkReadTool{f: e.f, actor: "u-ada"}, map[string]interface{}{"all": true})
	if res.IsError || !strings.Contains(resultText(res), "Marked 1 item(s) read.") {
		t.Errorf("mark all read: %q", resultText(res))
	}

	res = call(t, list, map[string]interface{}{})
	if resultText(res) != "Inbox is empty." {
		t.Errorf("expected empty unread inbox, got %q", resultText(res))
	}
	res = call(t, list, map[string]interface{}{"unread_only": false})
	if !strings.Contains(resultText(res), "[mention]") {
		t.Errorf("read items should still be listed, got %q", resultText(res))
	}
}
