package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taskflow/internal/domain"
	"taskflow/internal/events"
	"taskflow/internal/repo"
)

const maxTitleLen = 500

type TaskOptions struct {
	ProjectID      string
	Title          string
	Description    string
	Priority       string
	StageID        string
	StartDate      string
	DueDate        string
	EstimatedHours *float64
	ParentID       string
	MilestoneID    string
	Color          string
	Assignees      []string
	ActorID        string
}

// CreateTask adds a task to an open stage (the first one by default) at the
// end of that stage. Tasks never start in the terminal stage.
func (e Engine) CreateTask(ctx context.Context, opts TaskOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" || len(title) > maxTitleLen {
		return domain.Task{}, fmt.Errorf("%w: title must be 1-%d characters", domain.ErrInvalidArgument, maxTitleLen)
	}
	priority, err := domain.ParsePriority(opts.Priority)
	if err != nil {
		return domain.Task{}, err
	}
	if err := checkTaskFields(opts.StartDate, opts.DueDate, opts.Color, opts.EstimatedHours); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, opts.ProjectID, opts.ActorID, domain.RoleEditor); err != nil {
		return domain.Task{}, err
	}
	p, err := e.Repo.GetProject(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, wrapNotFound(err, "project", opts.ProjectID)
	}
	stage, err := openStage(p, opts.StageID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.stamp()
	t := domain.Task{
		ID:             uuid.NewString(),
		ProjectID:      p.ID,
		Title:          title,
		Description:    opts.Description,
		Priority:       priority,
		StageID:        stage.ID,
		StartDate:      optionalString(opts.StartDate),
		DueDate:        optionalString(opts.DueDate),
		EstimatedHours: opts.EstimatedHours,
		ParentID:       optionalString(opts.ParentID),
		MilestoneID:    optionalString(opts.MilestoneID),
		Color:          optionalString(opts.Color),
		CreatedBy:      opts.ActorID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ApprovalStatus: domain.ApprovalNone,
	}
	if err := e.checkParent(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.checkMilestone(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.insertTask(ctx, tx, &t, opts.ActorID); err != nil {
		return t, err
	}
	for _, userID := range opts.Assignees {
		if _, err := e.assign(ctx, tx, t, userID, domain.AssignAssignee, opts.ActorID); err != nil {
			return t, err
		}
	}
	return t, tx.Commit()
}

func (e Engine) insertTask(ctx context.Context, tx *sql.Tx, t *domain.Task, actorID string) error {
	pos, err := e.Repo.NextPosition(ctx, tx, t.ProjectID, t.StageID)
	if err != nil {
		return err
	}
	t.Position = pos
	if err := e.Repo.InsertTask(ctx, tx, *t); err != nil {
		return err
	}
	return e.emit(ctx, tx, events.TaskCreated, t.ProjectID, events.KindTask, t.ID, actorID, events.EventPayload{
		"title": t.Title, "stage_id": t.StageID, "parent_id": deref(t.ParentID),
	})
}

func openStage(p domain.Project, stageID string) (domain.Stage, error) {
	if stageID == "" {
		s, ok := p.FirstOpenStage()
		if !ok {
			return s, fmt.Errorf("%w: project %s has no open stage", domain.ErrStageConfigInvalid, p.ID)
		}
		return s, nil
	}
	s, ok := p.Stage(stageID)
	if !ok {
		return s, fmt.Errorf("%w: %s", domain.ErrUnknownStage, stageID)
	}
	if s.IsDone {
		return s, fmt.Errorf("%w: tasks cannot be created in the terminal stage", domain.ErrInvalidArgument)
	}
	return s, nil
}

func checkTaskFields(start, due, color string, hours *float64) error {
	if err := validDate(start); err != nil {
		return err
	}
	if err := validDate(due); err != nil {
		return err
	}
	if start != "" && due != "" && due < start {
		return fmt.Errorf("%w: due date %s precedes start date %s", domain.ErrInvalidArgument, due, start)
	}
	if color != "" && !domain.ValidTaskColor(color) {
		return fmt.Errorf("%w: color %q is not in the palette", domain.ErrInvalidArgument, color)
	}
	if hours != nil && *hours < 0 {
		return fmt.Errorf("%w: estimated hours must not be negative", domain.ErrInvalidArgument)
	}
	return nil
}

// checkParent enforces the two-level nesting rule: a parent may not itself be
// a subtask, and a task with subtasks may not become one.
func (e Engine) checkParent(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if !t.IsSubtask() {
		return nil
	}
	if *t.ParentID == t.ID {
		return fmt.Errorf("%w: task cannot be its own parent", domain.ErrInvalidArgument)
	}
	parent, err := e.Repo.GetTask(ctx, tx, *t.ParentID)
	if err != nil {
		return wrapNotFound(err, "parent task", *t.ParentID)
	}
	if parent.ProjectID != t.ProjectID {
		return fmt.Errorf("%w: parent belongs to another project", domain.ErrInvalidArgument)
	}
	if parent.IsSubtask() {
		return fmt.Errorf("%w: %s is already a subtask", domain.ErrNestingTooDeep, parent.ID)
	}
	children, err := e.Repo.CountChildren(ctx, tx, t.ID)
	if err != nil {
		return err
	}
	if children > 0 {
		return fmt.Errorf("%w: %s has subtasks", domain.ErrNestingTooDeep, t.ID)
	}
	return nil
}

func (e Engine) checkMilestone(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if t.MilestoneID == nil {
		return nil
	}
	m, err := e.Repo.GetMilestone(ctx, tx, *t.MilestoneID)
	if err != nil {
		return wrapNotFound(err, "milestone", *t.MilestoneID)
	}
	if m.ProjectID != t.ProjectID {
		return fmt.Errorf("%w: milestone belongs to another project", domain.ErrInvalidArgument)
	}
	return nil
}

// TaskPatch lists fields to change; nil leaves a field alone and an empty
// string clears an optional one.
type TaskPatch struct {
	Title          *string
	Description    *string
	Priority       *string
	StartDate      *string
	DueDate        *string
	EstimatedHours *float64
	ClearEstimate  bool
	ParentID       *string
	MilestoneID    *string
	Color          *string
}

func (e Engine) UpdateTask(ctx context.Context, taskID string, patch TaskPatch, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleEditor)
	if err != nil {
		return t, err
	}
	var changed []string
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" || len(title) > maxTitleLen {
			return t, fmt.Errorf("%w: title must be 1-%d characters", domain.ErrInvalidArgument, maxTitleLen)
		}
		t.Title = title
		changed = append(changed, "title")
	}
	if patch.Description != nil {
		t.Description = *patch.Description
		changed = append(changed, "description")
	}
	if patch.Priority != nil {
		p, err := domain.ParsePriority(*patch.Priority)
		if err != nil {
			return t, err
		}
		t.Priority = p
		changed = append(changed, "priority")
	}
	if patch.StartDate != nil {
		t.StartDate = optionalString(*patch.StartDate)
		changed = append(changed, "start_date")
	}
	if patch.DueDate != nil {
		t.DueDate = optionalString(*patch.DueDate)
		changed = append(changed, "due_date")
	}
	if patch.ClearEstimate {
		t.EstimatedHours = nil
		changed = append(changed, "estimated_hours")
	} else if patch.EstimatedHours != nil {
		t.EstimatedHours = patch.EstimatedHours
		changed = append(changed, "estimated_hours")
	}
	if patch.Color != nil {
		t.Color = optionalString(*patch.Color)
		changed = append(changed, "color")
	}
	if err := checkTaskFields(deref(t.StartDate), deref(t.DueDate), deref(t.Color), t.EstimatedHours); err != nil {
		return t, err
	}
	if patch.ParentID != nil {
		t.ParentID = optionalString(*patch.ParentID)
		if err := e.checkParent(ctx, tx, t); err != nil {
			return t, err
		}
		changed = append(changed, "parent_id")
	}
	if patch.MilestoneID != nil {
		t.MilestoneID = optionalString(*patch.MilestoneID)
		if err := e.checkMilestone(ctx, tx, t); err != nil {
			return t, err
		}
		changed = append(changed, "milestone_id")
	}
	if len(changed) == 0 {
		return t, nil
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.emit(ctx, tx, events.TaskUpdated, t.ProjectID, events.KindTask, t.ID, actorID, events.EventPayload{"fields": changed}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// DeleteTask removes a task with its subtasks and closes the position gaps
// left in every affected stage.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleEditor)
	if err != nil {
		return err
	}
	children, err := e.Repo.ListTasks(ctx, tx, repo.TaskFilters{ParentID: t.ID})
	if err != nil {
		return err
	}
	stages := []string{t.StageID}
	for _, c := range children {
		stages = append(stages, c.StageID)
	}
	if err := e.Repo.DeleteTask(ctx, tx, t.ID); err != nil {
		return err
	}
	done := map[string]bool{}
	for _, s := range stages {
		if done[s] {
			continue
		}
		done[s] = true
		ids, err := e.Repo.StageTaskIDs(ctx, tx, t.ProjectID, s)
		if err != nil {
			return err
		}
		if err := e.Repo.SetPositions(ctx, tx, ids); err != nil {
			return err
		}
	}
	if err := e.emit(ctx, tx, events.TaskDeleted, t.ProjectID, events.KindTask, t.ID, actorID, events.EventPayload{
		"title": t.Title, "subtasks": len(children),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleReader)
	return t, err
}

// TaskDetail is a task with everything a detail view shows.
type TaskDetail struct {
	Task        domain.Task         `json:"task"`
	Stage       domain.Stage        `json:"stage"`
	Assignments []domain.Assignment `json:"assignments"`
	Blockers    []domain.LinkedTask `json:"blockers"`
	Blocking    []domain.LinkedTask `json:"blocking"`
	IsBlocked   bool                `json:"is_blocked"`
	Subtasks    []domain.Task       `json:"subtasks"`
	Comments    []domain.Comment    `json:"comments"`
	Recurrence  *domain.Recurrence  `json:"recurrence,omitempty"`
}

func (e Engine) TaskDetail(ctx context.Context, taskID, actorID string) (TaskDetail, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TaskDetail{}, err
	}
	defer tx.Rollback()
	t, p, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleReader)
	if err != nil {
		return TaskDetail{}, err
	}
	d := TaskDetail{Task: t}
	d.Stage, _ = p.Stage(t.StageID)
	if d.Assignments, err = e.Repo.ListAssignments(ctx, tx, t.ID); err != nil {
		return d, err
	}
	if d.Blockers, err = e.Repo.Blockers(ctx, tx, t.ID); err != nil {
		return d, err
	}
	if d.Blockers, err = e.redactLinked(ctx, tx, d.Blockers, actorID); err != nil {
		return d, err
	}
	if d.Blocking, err = e.Repo.Blocking(ctx, tx, t.ID); err != nil {
		return d, err
	}
	if d.Blocking, err = e.redactLinked(ctx, tx, d.Blocking, actorID); err != nil {
		return d, err
	}
	d.IsBlocked = anyIncomplete(d.Blockers)
	if d.Subtasks, err = e.Repo.ListTasks(ctx, tx, repo.TaskFilters{ParentID: t.ID}); err != nil {
		return d, err
	}
	if d.Comments, err = e.Repo.ListComments(ctx, tx, t.ID); err != nil {
		return d, err
	}
	rec, err := e.Repo.GetRecurrence(ctx, tx, t.ID)
	switch {
	case err == nil:
		d.Recurrence = &rec
	case !errors.Is(err, repo.ErrNotFound):
		return d, err
	}
	return d, nil
}

// ListTasks lists a project's tasks in board order.
func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters, actorID string) ([]domain.Task, error) {
	if f.ProjectID == "" {
		return nil, fmt.Errorf("%w: project required", domain.ErrInvalidArgument)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, f.ProjectID, actorID, domain.RoleReader); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, tx, f)
}
