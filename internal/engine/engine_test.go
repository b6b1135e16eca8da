package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/inbox"
	"taskflow/internal/migrate"
	"taskflow/internal/repo"
)

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Project domain.Project
}

// Users seeded by newTestEnv, keyed by id; ids double as usernames.
const (
	owner    = "owner"
	editor   = "editor"
	reader   = "reader"
	alice    = "alice"
	bob      = "bob"
	carol    = "carol"
	outsider = "outsider"
)

func intPtr(n int) *int { return &n }

// boardStages is the three-stage board used across the tests:
// s1 todo, s2 doing (WIP 2 strict), s3 done.
func boardStages(mode domain.StageMode) []domain.Stage {
	return []domain.Stage{
		{ID: "s1", Name: "todo", WIPMode: domain.ModeWarning},
		{ID: "s2", Name: "doing", WIPLimit: intPtr(2), WIPMode: mode},
		{ID: "s3", Name: "done", WIPMode: domain.ModeWarning, IsDone: true},
	}
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Path: t.TempDir() + "/taskflow.db"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	for _, id := range []string{owner, editor, reader, alice, bob, carol, outsider} {
		if _, err := eng.EnsureUser(ctx, domain.User{ID: id, Username: id, Email: id + "@example.com"}); err != nil {
			t.Fatalf("ensure user %s: %v", id, err)
		}
	}
	org, err := eng.CreateOrg(ctx, "Acme", "acme", owner)
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	p, err := eng.CreateProject(ctx, engine.ProjectOptions{OrgID: org.ID, Name: "Board", Stages: boardStages(domain.ModeStrict), ActorID: owner})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	members := map[string]domain.Role{editor: domain.RoleEditor, reader: domain.RoleReader, alice: domain.RoleEditor, bob: domain.RoleEditor, carol: domain.RoleReader}
	for id, role := range members {
		if _, err := eng.SetProjectMember(ctx, p.ID, id, role, owner); err != nil {
			t.Fatalf("add member %s: %v", id, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx, Project: p}
}

func (env testEnv) task(t *testing.T, title, stage string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: title, ActorID: owner})
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	if stage != "" && stage != task.StageID {
		res, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: stage, ActorID: owner})
		if err != nil {
			t.Fatalf("move %s to %s: %v", title, stage, err)
		}
		task = res.Task
	}
	return task
}

func (env testEnv) get(t *testing.T, id string) domain.Task {
	t.Helper()
	task, err := env.Engine.GetTask(env.Ctx, id, owner)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return task
}

func (env testEnv) completed(t *testing.T) int {
	t.Helper()
	stats, err := env.Engine.ProjectStats(env.Ctx, env.Project.ID, owner)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	return stats.Completed
}

func (env testEnv) inbox(t *testing.T, userID string, types ...domain.AttentionType) []domain.AttentionItem {
	t.Helper()
	items, err := env.Engine.ListInbox(env.Ctx, repo.InboxFilters{UserID: userID, Types: types})
	if err != nil {
		t.Fatalf("inbox %s: %v", userID, err)
	}
	return items
}

func TestMoveRespectsWIPLimit(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "t1", "s2")
	env.task(t, "t2", "s2")
	t3 := env.task(t, "t3", "")

	_, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: t3.ID, ToStageID: "s2", ActorID: editor})
	if !errors.Is(err, domain.ErrWIPLimitExceeded) {
		t.Fatalf("expected WIP limit error, got %v", err)
	}
	if got := env.get(t, t3.ID); got.StageID != "s1" {
		t.Fatalf("task moved despite strict limit: %s", got.StageID)
	}

	if _, err := env.Engine.ConfigureStages(env.Ctx, env.Project.ID, boardStages(domain.ModeWarning), owner); err != nil {
		t.Fatalf("configure: %v", err)
	}
	res, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: t3.ID, ToStageID: "s2", ActorID: editor})
	if err != nil {
		t.Fatalf("warning-mode move: %v", err)
	}
	if res.Warning == nil || res.Warning.Limit != 2 || res.Warning.Count != 2 {
		t.Fatalf("expected advisory warning, got %+v", res.Warning)
	}
}

func TestSubtasksIgnoreWIPLimit(t *testing.T) {
	env := newTestEnv(t)
	parent := env.task(t, "parent", "s2")
	env.task(t, "other", "s2")
	child, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: "child", ParentID: parent.ID, ActorID: owner})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	res, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: child.ID, ToStageID: "s2", ActorID: owner})
	if err != nil || res.Warning != nil {
		t.Fatalf("subtask move should bypass WIP: %v %+v", err, res.Warning)
	}
	// the subtask does not count either
	if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: parent.ID, ToStageID: "s1", ActorID: owner}); err != nil {
		t.Fatal(err)
	}
	third := env.task(t, "third", "")
	if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: third.ID, ToStageID: "s2", ActorID: owner}); err != nil {
		t.Fatalf("second slot should be free: %v", err)
	}
}

func TestMoveUnknownStageAndSameStage(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "t", "")
	if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "nope", ActorID: owner}); !errors.Is(err, domain.ErrUnknownStage) {
		t.Fatalf("expected unknown stage, got %v", err)
	}
	res, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "s1", ActorID: owner})
	if err != nil || res.Moved {
		t.Fatalf("same-stage move should be a no-op: %v %+v", err, res)
	}
	if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "s2", ActorID: reader}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("reader move should be forbidden, got %v", err)
	}
	if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "s2", ActorID: outsider}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("outsider should not see the project, got %v", err)
	}
}

func TestPositionsStayDense(t *testing.T) {
	env := newTestEnv(t)
	a := env.task(t, "a", "")
	b := env.task(t, "b", "")
	c := env.task(t, "c", "")
	d := env.task(t, "d", "s2")

	idx := 0
	if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: b.ID, ToStageID: "s2", Index: &idx, ActorID: owner}); err != nil {
		t.Fatal(err)
	}
	want := map[string]struct {
		stage string
		pos   int
	}{a.ID: {"s1", 0}, c.ID: {"s1", 1}, b.ID: {"s2", 0}, d.ID: {"s2", 1}}
	for id, w := range want {
		got := env.get(t, id)
		if got.StageID != w.stage || got.Position != w.pos {
			t.Fatalf("%s: got %s/%d want %s/%d", got.Title, got.StageID, got.Position, w.stage, w.pos)
		}
	}

	// reorder within a stage
	idx = 0
	if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: c.ID, ToStageID: "s1", Index: &idx, ActorID: owner}); err != nil {
		t.Fatal(err)
	}
	if env.get(t, c.ID).Position != 0 || env.get(t, a.ID).Position != 1 {
		t.Fatalf("reorder did not renumber")
	}

	if err := env.Engine.DeleteTask(env.Ctx, c.ID, owner); err != nil {
		t.Fatal(err)
	}
	if env.get(t, a.ID).Position != 0 {
		t.Fatalf("delete left a gap")
	}
}

func TestApprovalLifecycle(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "ship it", "s2")

	res, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "s3", ActorID: editor})
	if err != nil {
		t.Fatalf("move to done: %v", err)
	}
	if res.Task.ApprovalStatus != domain.ApprovalPending || deref(res.Task.MovedToDoneBy) != editor {
		t.Fatalf("expected pending submitted by editor, got %+v", res.Task)
	}
	before := env.completed(t)

	if _, err := env.Engine.Approve(env.Ctx, task.ID, editor); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("editor approve should be forbidden, got %v", err)
	}
	approved, err := env.Engine.Approve(env.Ctx, task.ID, owner)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.CompletedAt == nil || deref(approved.ApprovedBy) != owner {
		t.Fatalf("approval fields not set: %+v", approved)
	}
	if got := env.completed(t); got != before+1 {
		t.Fatalf("completed count %d, want %d", got, before+1)
	}
	if _, err := env.Engine.Approve(env.Ctx, task.ID, owner); !errors.Is(err, domain.ErrNotPending) {
		t.Fatalf("second approve should fail not pending, got %v", err)
	}

	// approved is sticky
	res, err = env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "s1", ActorID: owner})
	if err != nil {
		t.Fatalf("move back: %v", err)
	}
	if res.Task.ApprovalStatus != domain.ApprovalApproved {
		t.Fatalf("approved should be sticky, got %s", res.Task.ApprovalStatus)
	}
	if got := env.completed(t); got != before+1 {
		t.Fatalf("completed count changed on move: %d", got)
	}
}

func TestRejectAndMoveOut(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "draft", "s3")
	if task.ApprovalStatus != domain.ApprovalPending {
		t.Fatalf("expected pending, got %s", task.ApprovalStatus)
	}
	if _, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{TaskID: task.ID, ActorID: owner, ReturnStageID: "s3"}); !errors.Is(err, domain.ErrInvalidReturnStage) {
		t.Fatalf("terminal return stage should be invalid, got %v", err)
	}
	if _, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{TaskID: task.ID, ActorID: owner, ReturnStageID: "zz"}); !errors.Is(err, domain.ErrInvalidReturnStage) {
		t.Fatalf("unknown return stage should be invalid, got %v", err)
	}
	if _, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{TaskID: task.ID, ActorID: editor, ReturnStageID: "s1"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("editor reject should be forbidden, got %v", err)
	}
	res, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{TaskID: task.ID, ActorID: owner, ReturnStageID: "s1", Reason: "needs tests"})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	got := res.Task
	if got.ApprovalStatus != domain.ApprovalRejected || got.StageID != "s1" || deref(got.RejectionReason) != "needs tests" || got.MovedToDoneAt != nil {
		t.Fatalf("unexpected rejected task: %+v", got)
	}
	if _, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{TaskID: task.ID, ActorID: owner, ReturnStageID: "s1"}); !errors.Is(err, domain.ErrNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}

	// resubmitting clears the reason; leaving the terminal stage resets pending
	res, err = env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "s3", ActorID: owner})
	if err != nil || res.Task.ApprovalStatus != domain.ApprovalPending || res.Task.RejectionReason != nil {
		t.Fatalf("resubmit: %v %+v", err, res.Task)
	}
	res, err = env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "s2", ActorID: owner})
	if err != nil || res.Task.ApprovalStatus != domain.ApprovalNone || res.Task.MovedToDoneAt != nil {
		t.Fatalf("move out: %v %+v", err, res.Task)
	}
	if env.completed(t) != 0 {
		t.Fatalf("rejections must not count as completed")
	}
}

func TestConfigureStages(t *testing.T) {
	env := newTestEnv(t)
	inDoing := env.task(t, "doing", "s2")
	inDone := env.task(t, "finished", "s3")

	_, err := env.Engine.ConfigureStages(env.Ctx, env.Project.ID, []domain.Stage{
		{ID: "s1", Name: "todo"}, {ID: "s3", Name: "done", IsDone: true},
	}, owner)
	if !errors.Is(err, domain.ErrStageInUseByTasks) {
		t.Fatalf("expected stage in use, got %v", err)
	}
	_, err = env.Engine.ConfigureStages(env.Ctx, env.Project.ID, []domain.Stage{
		{ID: "s1", Name: "todo", IsDone: true}, {ID: "s2", Name: "doing"}, {ID: "s3", Name: "done", IsDone: true},
	}, owner)
	if !errors.Is(err, domain.ErrStageConfigInvalid) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if _, err := env.Engine.ConfigureStages(env.Ctx, env.Project.ID, boardStages(domain.ModeStrict), editor); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("editor configure should be forbidden, got %v", err)
	}

	// making s2 terminal opens approval there and closes it on the old terminal stage
	p, err := env.Engine.ConfigureStages(env.Ctx, env.Project.ID, []domain.Stage{
		{ID: "s1", Name: "todo"}, {ID: "s2", Name: "review", IsDone: true}, {ID: "s3", Name: "archive"},
	}, owner)
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if p.WorkflowVersion != 2 {
		t.Fatalf("expected workflow version 2, got %d", p.WorkflowVersion)
	}
	if got := env.get(t, inDoing.ID); got.ApprovalStatus != domain.ApprovalPending {
		t.Fatalf("task in new terminal stage should be pending, got %s", got.ApprovalStatus)
	}
	if got := env.get(t, inDone.ID); got.ApprovalStatus != domain.ApprovalNone {
		t.Fatalf("task outside terminal stage should not be pending, got %s", got.ApprovalStatus)
	}
}

func TestDependencyGraph(t *testing.T) {
	env := newTestEnv(t)
	a := env.task(t, "a", "")
	b := env.task(t, "b", "")
	c := env.task(t, "c", "")
	add := func(from, to string) error {
		_, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{BlockingTaskID: from, BlockedTaskID: to, ActorID: editor})
		return err
	}
	if err := add(a.ID, b.ID); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if err := add(b.ID, c.ID); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	if err := add(c.ID, a.ID); !errors.Is(err, domain.ErrCircularDependency) {
		t.Fatalf("expected cycle, got %v", err)
	}
	if err := add(a.ID, a.ID); !errors.Is(err, domain.ErrSelfDependency) {
		t.Fatalf("expected self dependency, got %v", err)
	}
	if err := add(a.ID, b.ID); !errors.Is(err, domain.ErrDuplicateDependency) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	blocked := func() bool {
		ok, err := env.Engine.IsBlocked(env.Ctx, b.ID, reader)
		if err != nil {
			t.Fatal(err)
		}
		return ok
	}
	if !blocked() {
		t.Fatalf("b should be blocked by a")
	}
	if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: a.ID, ToStageID: "s3", ActorID: owner}); err != nil {
		t.Fatal(err)
	}
	if !blocked() {
		t.Fatalf("a pending approval must still block b")
	}
	if _, err := env.Engine.Approve(env.Ctx, a.ID, owner); err != nil {
		t.Fatal(err)
	}
	if blocked() {
		t.Fatalf("approved a should unblock b")
	}
	if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: a.ID, ToStageID: "s1", ActorID: owner}); err != nil {
		t.Fatal(err)
	}
	if !blocked() {
		t.Fatalf("approved a outside the terminal stage blocks again")
	}

	path, err := env.Engine.CriticalPath(env.Ctx, env.Project.ID, reader)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 3 || path[0].ID != a.ID || path[1].ID != b.ID || path[2].ID != c.ID {
		t.Fatalf("unexpected critical path %v", path)
	}

	if err := env.Engine.RemoveDependency(env.Ctx, a.ID, b.ID, editor); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveDependency(env.Ctx, a.ID, b.ID, editor); err != nil {
		t.Fatalf("remove should be idempotent: %v", err)
	}
	if blocked() {
		t.Fatalf("b has no blockers left")
	}
}

func TestNestingDepth(t *testing.T) {
	env := newTestEnv(t)
	parent := env.task(t, "parent", "")
	child, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: "child", ParentID: parent.ID, ActorID: owner})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: "grandchild", ParentID: child.ID, ActorID: owner})
	if !errors.Is(err, domain.ErrNestingTooDeep) {
		t.Fatalf("expected nesting error, got %v", err)
	}
	other := env.task(t, "other", "")
	pid := other.ID
	if _, err := env.Engine.UpdateTask(env.Ctx, parent.ID, engine.TaskPatch{ParentID: &pid}, owner); !errors.Is(err, domain.ErrNestingTooDeep) {
		t.Fatalf("a parent cannot become a subtask, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: "x", StageID: "s3", ActorID: owner}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("creating in the terminal stage should fail, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: "x", Color: "chartreuse", ActorID: owner}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("unknown color should fail, got %v", err)
	}
}

func TestMentionFanout(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "T", "")

	c, err := env.Engine.AddComment(env.Ctx, task.ID, "Hi @alice and @bob, @Alice please review @nobody", carol)
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if len(c.Mentions) != 2 || c.Mentions[0] != alice || c.Mentions[1] != bob {
		t.Fatalf("unexpected mentions %v", c.Mentions)
	}
	items := env.inbox(t, alice, domain.AttentionMention)
	if len(items) != 1 || items[0].DedupKey != inbox.MentionKey(c.ID, alice) || items[0].Priority != domain.AttentionUrgent {
		t.Fatalf("alice mention items: %+v", items)
	}
	if len(env.inbox(t, carol)) != 0 {
		t.Fatalf("actor must not be notified")
	}
	if items := env.inbox(t, owner, domain.AttentionComment); len(items) != 1 {
		t.Fatalf("creator should get one comment item, got %d", len(items))
	}

	if _, err := env.Engine.MarkAllRead(env.Ctx, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpdateComment(env.Ctx, c.ID, c.Content, carol); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	items = env.inbox(t, alice, domain.AttentionMention)
	if len(items) != 1 || items[0].ID == "" || items[0].ReadAt != nil {
		t.Fatalf("re-save should refresh the single item as unread: %+v", items)
	}
	if _, err := env.Engine.UpdateComment(env.Ctx, c.ID, "edited", alice); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("non-author edit should be forbidden, got %v", err)
	}
}

func TestAssignmentInbox(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "work", "")

	if _, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{TaskID: task.ID, UserID: alice, ActorID: owner}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{TaskID: task.ID, UserID: owner, ActorID: owner}); err != nil {
		t.Fatalf("self assign: %v", err)
	}
	if _, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{TaskID: task.ID, UserID: outsider, ActorID: owner}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("non-member assignment should fail, got %v", err)
	}
	if len(env.inbox(t, owner, domain.AttentionAssignment)) != 0 {
		t.Fatalf("self assignment must not notify")
	}
	items := env.inbox(t, alice, domain.AttentionAssignment)
	if len(items) != 1 {
		t.Fatalf("expected one assignment item, got %d", len(items))
	}

	// status change goes to assignees other than the actor
	if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "s2", ActorID: alice}); err != nil {
		t.Fatal(err)
	}
	if len(env.inbox(t, alice, domain.AttentionStatusChange)) != 0 {
		t.Fatalf("mover must not be notified")
	}
	if got := env.inbox(t, owner, domain.AttentionStatusChange); len(got) != 1 || got[0].DedupKey != inbox.StatusKey(task.ID, "s2") {
		t.Fatalf("owner status items: %+v", got)
	}

	// dismissing retires the key; a fresh event opens a new item
	if err := env.Engine.Dismiss(env.Ctx, alice, items[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Unassign(env.Ctx, task.ID, alice, owner); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{TaskID: task.ID, UserID: alice, ActorID: owner}); err != nil {
		t.Fatal(err)
	}
	live := env.inbox(t, alice, domain.AttentionAssignment)
	if len(live) != 1 || live[0].ID == items[0].ID {
		t.Fatalf("expected a new live assignment item, got %+v", live)
	}
	if len(env.inbox(t, alice, domain.AttentionUnassignment)) != 1 {
		t.Fatalf("expected an unassignment item")
	}
	n, err := env.Engine.UnreadCount(env.Ctx, alice)
	if err != nil || n != 2 {
		t.Fatalf("unread count %d (%v)", n, err)
	}
	if err := env.Engine.Dismiss(env.Ctx, bob, live[0].ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("dismissing another user's item should be not found, got %v", err)
	}
}

func TestSweepDeadlines(t *testing.T) {
	env := newTestEnv(t)
	soon, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: "soon", DueDate: "2024-01-02", Assignees: []string{alice}, ActorID: owner})
	if err != nil {
		t.Fatal(err)
	}
	late, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: "late", DueDate: "2023-12-28", Assignees: []string{alice}, ActorID: owner})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: "later", DueDate: "2024-02-01", Assignees: []string{alice}, ActorID: owner}); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		rep, err := env.Engine.SweepDeadlines(env.Ctx, now)
		if err != nil {
			t.Fatal(err)
		}
		if rep.DueSoon != 1 || rep.Overdue != 1 {
			t.Fatalf("sweep %d: %+v", i, rep)
		}
	}
	due := env.inbox(t, alice, domain.AttentionDueSoon)
	if len(due) != 1 || deref(due[0].TaskID) != soon.ID {
		t.Fatalf("due soon items: %+v", due)
	}
	over := env.inbox(t, alice, domain.AttentionOverdue)
	if len(over) != 1 || deref(over[0].TaskID) != late.ID || over[0].ActorID != nil {
		t.Fatalf("overdue items: %+v", over)
	}
}

func TestMaterializeRecurrences(t *testing.T) {
	env := newTestEnv(t)
	tmpl, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: "standup", Assignees: []string{alice}, ActorID: owner})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := env.Engine.SetRecurrence(env.Ctx, engine.RecurrenceOptions{TaskID: tmpl.ID, Frequency: "daily", Interval: 1, StartDate: "2024-01-01", MaxOccurrences: intPtr(3), ActorID: owner})
	if err != nil {
		t.Fatalf("set recurrence: %v", err)
	}
	if deref(rec.NextOccurrence) != "2024-01-02" {
		t.Fatalf("next occurrence %v", deref(rec.NextOccurrence))
	}
	if _, err := env.Engine.SetRecurrence(env.Ctx, engine.RecurrenceOptions{TaskID: tmpl.ID, Frequency: "hourly", StartDate: "2024-01-01", ActorID: owner}); !errors.Is(err, domain.ErrRecurrenceInvalid) {
		t.Fatalf("expected invalid recurrence, got %v", err)
	}

	day3 := time.Date(2024, 1, 3, 6, 0, 0, 0, time.UTC)
	rep, err := env.Engine.MaterializeRecurrences(env.Ctx, day3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Created) != 2 {
		t.Fatalf("expected 2 instances, got %+v", rep)
	}
	again, err := env.Engine.MaterializeRecurrences(env.Ctx, day3)
	if err != nil || len(again.Created) != 0 {
		t.Fatalf("re-run must be idempotent: %v %+v", err, again)
	}
	inst := env.get(t, rep.Created[0])
	if deref(inst.DueDate) != "2024-01-02" || deref(inst.RecurrenceTemplateID) != tmpl.ID || inst.StageID != "s1" {
		t.Fatalf("unexpected instance %+v", inst)
	}
	assignments, err := env.Engine.ListAssignments(env.Ctx, inst.ID, owner)
	if err != nil || len(assignments) != 1 || assignments[0].UserID != alice {
		t.Fatalf("instance assignments %v %+v", err, assignments)
	}

	rep, err = env.Engine.MaterializeRecurrences(env.Ctx, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Created) != 1 || rep.Deactivated != 1 {
		t.Fatalf("max occurrences should stop the series: %+v", rep)
	}
	rec, err = env.Engine.GetRecurrence(env.Ctx, tmpl.ID, owner)
	if err != nil || rec.IsActive || rec.OccurrencesCreated != 3 || rec.NextOccurrence != nil {
		t.Fatalf("final recurrence %v %+v", err, rec)
	}
}

func TestMaterializeSkipsBrokenTemplate(t *testing.T) {
	env := newTestEnv(t)
	healthy, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: env.Project.ID, Title: "standup", ActorID: owner})
	if err != nil {
		t.Fatal(err)
	}
	other, err := env.Engine.CreateProject(env.Ctx, engine.ProjectOptions{OrgID: env.Project.OrgID, Name: "Other", Stages: boardStages(domain.ModeWarning), ActorID: owner})
	if err != nil {
		t.Fatal(err)
	}
	broken, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: other.ID, Title: "report", ActorID: owner})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{healthy.ID, broken.ID} {
		if _, err := env.Engine.SetRecurrence(env.Ctx, engine.RecurrenceOptions{TaskID: id, Frequency: "daily", Interval: 1, StartDate: "2024-01-01", ActorID: owner}); err != nil {
			t.Fatalf("set recurrence: %v", err)
		}
	}
	// leave the second project without an open stage to create instances in
	doneOnly, err := repo.EncodeWorkflow([]domain.Stage{{ID: "s3", Name: "done", WIPMode: domain.ModeWarning, IsDone: true}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE projects SET workflow_json=? WHERE id=?`, doneOnly, other.ID); err != nil {
		t.Fatal(err)
	}

	day3 := time.Date(2024, 1, 3, 6, 0, 0, 0, time.UTC)
	for run := 0; run < 2; run++ {
		rep, err := env.Engine.MaterializeRecurrences(env.Ctx, day3)
		if err != nil {
			t.Fatalf("run %d: a broken template must not fail the run: %v", run, err)
		}
		want := 2
		if run > 0 {
			want = 0
		}
		if len(rep.Created) != want {
			t.Fatalf("run %d: expected %d instances, got %+v", run, want, rep)
		}
		for _, id := range rep.Created {
			if inst := env.get(t, id); deref(inst.RecurrenceTemplateID) != healthy.ID {
				t.Fatalf("reported instance %s belongs to %v", id, deref(inst.RecurrenceTemplateID))
			}
		}
	}
	rec, err := env.Engine.GetRecurrence(env.Ctx, healthy.ID, owner)
	if err != nil || rec.OccurrencesCreated != 2 || deref(rec.NextOccurrence) != "2024-01-04" {
		t.Fatalf("healthy recurrence %v %+v", err, rec)
	}
	var orphans int
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM tasks WHERE recurrence_template_id=?`, broken.ID).Scan(&orphans); err != nil || orphans != 0 {
		t.Fatalf("broken template instances %v %d", err, orphans)
	}
}

func TestFailingRecipientDoesNotFailMove(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "work", "")
	if _, err := env.Engine.Assign(env.Ctx, engine.AssignOptions{TaskID: task.ID, UserID: alice, ActorID: owner}); err != nil {
		t.Fatal(err)
	}
	// an assignee with no users row makes its attention insert fail
	conn := env.Engine.DB
	if _, err := conn.ExecContext(env.Ctx, `PRAGMA foreign_keys=OFF`); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(env.Ctx, `INSERT INTO task_assignments(task_id,user_id,role,assigned_by,assigned_at) VALUES (?,?,?,?,?)`,
		task.ID, "ghost", "assignee", owner, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(env.Ctx, `PRAGMA foreign_keys=ON`); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: task.ID, ToStageID: "s2", ActorID: owner})
	if err != nil {
		t.Fatalf("move must succeed despite a failing recipient: %v", err)
	}
	if res.Task.StageID != "s2" || env.get(t, task.ID).StageID != "s2" {
		t.Fatalf("move not committed: %+v", res.Task)
	}
	if got := env.inbox(t, alice, domain.AttentionStatusChange); len(got) != 1 {
		t.Fatalf("alice status items: %+v", got)
	}
	var ghostItems int
	if err := conn.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM attention_items WHERE user_id='ghost'`).Scan(&ghostItems); err != nil || ghostItems != 0 {
		t.Fatalf("ghost items %v %d", err, ghostItems)
	}
}

func TestLinkedTasksHiddenOutsideReadableProjects(t *testing.T) {
	env := newTestEnv(t)
	visible := env.task(t, "launch", "")
	other, err := env.Engine.CreateProject(env.Ctx, engine.ProjectOptions{OrgID: env.Project.OrgID, Name: "Private", Stages: boardStages(domain.ModeWarning), ActorID: owner})
	if err != nil {
		t.Fatal(err)
	}
	secret, err := env.Engine.CreateTask(env.Ctx, engine.TaskOptions{ProjectID: other.ID, Title: "acquisition talks", ActorID: owner})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddDependency(env.Ctx, engine.DependencyOptions{BlockingTaskID: secret.ID, BlockedTaskID: visible.ID, ActorID: owner}); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	d, err := env.Engine.TaskDetail(env.Ctx, visible.ID, carol)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(d.Blockers) != 1 {
		t.Fatalf("expected 1 blocker, got %d", len(d.Blockers))
	}
	b := d.Blockers[0]
	if !b.Redacted || b.Title != "" || b.StageID != "" || b.ApprovalStatus != "" {
		t.Fatalf("blocker in unreadable project leaked: %+v", b)
	}
	if b.TaskID != secret.ID || b.Complete {
		t.Fatalf("unexpected blocker identity: %+v", b)
	}
	if !d.IsBlocked {
		t.Fatalf("redacted incomplete blocker must still block")
	}

	blockers, err := env.Engine.BlockersOf(env.Ctx, visible.ID, carol)
	if err != nil {
		t.Fatal(err)
	}
	if len(blockers) != 1 || blockers[0].Title != "" {
		t.Fatalf("blockers leaked title: %+v", blockers)
	}

	d, err = env.Engine.TaskDetail(env.Ctx, visible.ID, owner)
	if err != nil {
		t.Fatal(err)
	}
	if d.Blockers[0].Redacted || d.Blockers[0].Title != "acquisition talks" {
		t.Fatalf("org owner should see the blocker: %+v", d.Blockers[0])
	}
}

func TestOrgOwnership(t *testing.T) {
	env := newTestEnv(t)
	org := env.Project.OrgID
	if _, _, err := env.Engine.SetOrgMember(env.Ctx, org, owner, domain.RoleAdmin, owner); !errors.Is(err, domain.ErrLastOwner) {
		t.Fatalf("demoting the last owner should fail, got %v", err)
	}
	if err := env.Engine.RemoveOrgMember(env.Ctx, org, owner, owner); !errors.Is(err, domain.ErrLastOwner) {
		t.Fatalf("removing the last owner should fail, got %v", err)
	}
	if _, isNew, err := env.Engine.SetOrgMember(env.Ctx, org, alice, domain.RoleAdmin, owner); err != nil || !isNew {
		t.Fatalf("add admin: %v %v", isNew, err)
	}
	if _, _, err := env.Engine.SetOrgMember(env.Ctx, org, bob, domain.RoleOwner, alice); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("admins cannot grant ownership, got %v", err)
	}
	if _, _, err := env.Engine.SetOrgMember(env.Ctx, org, bob, domain.RoleOwner, owner); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.RemoveOrgMember(env.Ctx, org, owner, owner); err != nil {
		t.Fatalf("with a second owner removal should succeed: %v", err)
	}
	if _, err := env.Engine.CreateOrg(env.Ctx, "Dup", "acme", bob); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("duplicate slug should conflict, got %v", err)
	}
}

func TestCompletedCountMatchesApproved(t *testing.T) {
	env := newTestEnv(t)
	var ids []string
	for _, title := range []string{"a", "b", "c", "d"} {
		ids = append(ids, env.task(t, title, "s3").ID)
	}
	for _, id := range ids[:3] {
		if _, err := env.Engine.Approve(env.Ctx, id, owner); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.Reject(env.Ctx, engine.RejectOptions{TaskID: ids[3], ActorID: owner, ReturnStageID: "s1"}); err != nil {
		t.Fatal(err)
	}
	moves := []struct{ id, stage string }{{ids[0], "s1"}, {ids[1], "s2"}, {ids[0], "s3"}, {ids[3], "s3"}, {ids[3], "s2"}}
	for _, m := range moves {
		if _, err := env.Engine.MoveTask(env.Ctx, engine.MoveOptions{TaskID: m.id, ToStageID: m.stage, ActorID: owner}); err != nil {
			t.Fatal(err)
		}
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{ProjectID: env.Project.ID}, owner)
	if err != nil {
		t.Fatal(err)
	}
	approved := 0
	for _, task := range tasks {
		if task.ApprovalStatus == domain.ApprovalApproved {
			approved++
		}
		if task.ApprovalStatus == domain.ApprovalPending && task.StageID != "s3" {
			t.Fatalf("pending task %s outside terminal stage", task.Title)
		}
	}
	if got := env.completed(t); got != approved || got != 3 {
		t.Fatalf("completed %d approved %d", got, approved)
	}
	stats, err := env.Engine.OrgStats(env.Ctx, env.Project.OrgID, owner)
	if err != nil || stats.Completed != 3 {
		t.Fatalf("org stats %v %+v", err, stats)
	}
}

func TestChangeFeed(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "feed", "s3")
	evts, err := env.Engine.Changes(env.Ctx, env.Project.ID, 0, 0, reader)
	if err != nil {
		t.Fatal(err)
	}
	var moved, requested bool
	var last int64
	for _, e := range evts {
		if e.EntityID == task.ID && e.Type == "task.moved" {
			moved = true
		}
		if e.EntityID == task.ID && e.Type == "task.approval_requested" {
			requested = true
		}
		last = e.ID
	}
	if !moved || !requested {
		t.Fatalf("move into done should log moved and approval_requested: %+v", evts)
	}
	rest, err := env.Engine.Changes(env.Ctx, env.Project.ID, last, 0, reader)
	if err != nil || len(rest) != 0 {
		t.Fatalf("cursor should exclude seen events: %v %d", err, len(rest))
	}
	if _, err := env.Engine.Changes(env.Ctx, env.Project.ID, 0, 0, outsider); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("outsider feed should be not found, got %v", err)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
