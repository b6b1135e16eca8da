package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"taskflow/internal/domain"
	"taskflow/internal/events"
	"taskflow/internal/inbox"
	"taskflow/internal/recurrence"
	"taskflow/internal/repo"
	"taskflow/internal/schema"
)

// validateStages defaults missing modes and checks the list against the
// workflow schema and the structural stage rules.
func (e Engine) validateStages(stages []domain.Stage) ([]domain.Stage, error) {
	out := make([]domain.Stage, len(stages))
	for i, s := range stages {
		s.ID = strings.TrimSpace(s.ID)
		s.Name = strings.TrimSpace(s.Name)
		if s.WIPMode == "" {
			s.WIPMode = domain.ModeWarning
		}
		out[i] = s
	}
	if err := schema.CheckStages(out); err != nil {
		return nil, err
	}
	doc, err := repo.EncodeWorkflow(out)
	if err != nil {
		return nil, err
	}
	reg, err := e.schemas()
	if err != nil {
		return nil, err
	}
	if err := reg.ValidateWorkflow([]byte(doc)); err != nil {
		return nil, err
	}
	return out, nil
}

func validDate(s string) error {
	if s == "" {
		return nil
	}
	if _, err := recurrence.ParseDate(s); err != nil {
		return fmt.Errorf("%w: date %q must be YYYY-MM-DD", domain.ErrInvalidArgument, s)
	}
	return nil
}

// ConfigureStages replaces a project's stage list. Stages being removed must
// be empty. Approval states are re-derived against the new terminal stage.
func (e Engine) ConfigureStages(ctx context.Context, projectID string, stages []domain.Stage, actorID string) (domain.Project, error) {
	stages, err := e.validateStages(stages)
	if err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, projectID, actorID, domain.RoleAdmin); err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProject(ctx, tx, projectID)
	if err != nil {
		return p, wrapNotFound(err, "project", projectID)
	}
	keep := map[string]bool{}
	for _, s := range stages {
		keep[s.ID] = true
	}
	var removed []string
	for _, s := range p.Stages {
		if !keep[s.ID] {
			removed = append(removed, s.ID)
		}
	}
	counts, err := e.Repo.CountInStages(ctx, tx, projectID, removed)
	if err != nil {
		return p, err
	}
	for _, id := range removed {
		if counts[id] > 0 {
			return p, fmt.Errorf("%w: stage %s holds %d task(s)", domain.ErrStageInUseByTasks, id, counts[id])
		}
	}
	version, err := e.Repo.ReplaceStages(ctx, tx, projectID, stages)
	if err != nil {
		return p, err
	}
	p.Stages = stages
	p.WorkflowVersion = version
	terminal, _ := p.TerminalStage()
	now := e.stamp()
	reset, err := e.Repo.ResetPendingOutside(ctx, tx, projectID, terminal.ID, now)
	if err != nil {
		return p, err
	}
	pending, err := e.Repo.MarkPendingIn(ctx, tx, projectID, terminal.ID, actorID, now)
	if err != nil {
		return p, err
	}
	if err := e.emit(ctx, tx, events.StagesConfigured, projectID, events.KindProject, projectID, actorID, events.EventPayload{
		"version":         version,
		"stages":          len(stages),
		"removed":         removed,
		"approval_reset":  reset,
		"approval_opened": pending,
	}); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

type MoveOptions struct {
	TaskID    string
	ToStageID string
	// Index places the task within the destination stage; nil appends.
	Index   *int
	ActorID string
}

// WIPWarning is the advisory returned when a warning-mode limit is reached.
type WIPWarning struct {
	StageID string `json:"stage_id"`
	Limit   int    `json:"limit"`
	Count   int    `json:"count"`
}

func (w *WIPWarning) String() string {
	return fmt.Sprintf("stage %s is at its WIP limit (%d/%d)", w.StageID, w.Count, w.Limit)
}

type MoveResult struct {
	Task        domain.Task `json:"task"`
	FromStageID string      `json:"from_stage_id"`
	Moved       bool        `json:"moved"`
	Warning     *WIPWarning `json:"warning,omitempty"`
}

// MoveTask moves a task to another stage of its project, enforcing the WIP
// limit of the destination and coupling approval state to the terminal stage.
func (e Engine) MoveTask(ctx context.Context, opts MoveOptions) (MoveResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return MoveResult{}, err
	}
	defer tx.Rollback()
	t, p, err := e.loadTask(ctx, tx, opts.TaskID, opts.ActorID, domain.RoleEditor)
	if err != nil {
		return MoveResult{}, err
	}
	to, ok := p.Stage(opts.ToStageID)
	if !ok {
		return MoveResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownStage, opts.ToStageID)
	}
	res := MoveResult{FromStageID: t.StageID}
	if t.StageID == to.ID {
		if opts.Index == nil {
			res.Task = t
			return res, nil
		}
		if err := e.relocate(ctx, tx, &t, to.ID, opts.Index); err != nil {
			return res, err
		}
		if err := e.emit(ctx, tx, events.TaskMoved, t.ProjectID, events.KindTask, t.ID, opts.ActorID, events.EventPayload{
			"from": to.ID, "to": to.ID, "position": t.Position,
		}); err != nil {
			return res, err
		}
		res.Task = t
		return res, tx.Commit()
	}

	warning, err := e.checkWIP(ctx, tx, t, to)
	if err != nil {
		return res, err
	}
	res.Warning = warning

	from, _ := p.Stage(t.StageID)
	requested := e.coupleApproval(&t, from, to, opts.ActorID)
	t.UpdatedAt = e.stamp()
	if err := e.relocate(ctx, tx, &t, to.ID, opts.Index); err != nil {
		return res, err
	}
	if err := e.emit(ctx, tx, events.TaskMoved, t.ProjectID, events.KindTask, t.ID, opts.ActorID, events.EventPayload{
		"from": res.FromStageID, "to": to.ID, "position": t.Position, "approval_status": t.ApprovalStatus,
	}); err != nil {
		return res, err
	}
	if requested {
		if err := e.emit(ctx, tx, events.ApprovalRequested, t.ProjectID, events.KindTask, t.ID, opts.ActorID, nil); err != nil {
			return res, err
		}
	}
	assignees, err := e.responsible(ctx, tx, t.ID)
	if err != nil {
		return res, err
	}
	e.notify(ctx, tx, inbox.StatusChanged(inbox.RefOf(t), to, assignees, opts.ActorID))
	res.Task = t
	res.Moved = true
	return res, tx.Commit()
}

// checkWIP counts top-level tasks already in the stage. Subtasks neither count
// nor are checked.
func (e Engine) checkWIP(ctx context.Context, tx *sql.Tx, t domain.Task, to domain.Stage) (*WIPWarning, error) {
	if to.WIPLimit == nil || t.IsSubtask() {
		return nil, nil
	}
	limit := *to.WIPLimit
	count, err := e.Repo.CountWIP(ctx, tx, t.ProjectID, to.ID, t.ID)
	if err != nil {
		return nil, err
	}
	if count < limit {
		return nil, nil
	}
	if to.WIPMode == domain.ModeStrict {
		return nil, fmt.Errorf("%w: stage %s holds %d of %d", domain.ErrWIPLimitExceeded, to.ID, count, limit)
	}
	return &WIPWarning{StageID: to.ID, Limit: limit, Count: count}, nil
}

// coupleApproval applies the approval transitions of a stage change and
// reports whether approval was newly requested.
func (e Engine) coupleApproval(t *domain.Task, from, to domain.Stage, actorID string) bool {
	switch {
	case to.IsDone && t.ApprovalStatus != domain.ApprovalApproved:
		now := e.stamp()
		t.ApprovalStatus = domain.ApprovalPending
		t.MovedToDoneAt = &now
		t.MovedToDoneBy = &actorID
		t.RejectionReason = nil
		return true
	case from.IsDone && t.ApprovalStatus == domain.ApprovalPending:
		t.ApprovalStatus = domain.ApprovalNone
		t.MovedToDoneAt = nil
		t.MovedToDoneBy = nil
	}
	return false
}

// relocate writes t into stage toStageID at index (nil appends) and renumbers
// both the source and the destination stage densely from zero.
func (e Engine) relocate(ctx context.Context, tx *sql.Tx, t *domain.Task, toStageID string, index *int) error {
	fromStageID := t.StageID
	src, err := e.Repo.StageTaskIDs(ctx, tx, t.ProjectID, fromStageID)
	if err != nil {
		return err
	}
	src = without(src, t.ID)
	dst := src
	if toStageID != fromStageID {
		if dst, err = e.Repo.StageTaskIDs(ctx, tx, t.ProjectID, toStageID); err != nil {
			return err
		}
		dst = without(dst, t.ID)
	}
	pos := len(dst)
	if index != nil && *index >= 0 && *index < pos {
		pos = *index
	}
	dst = append(dst[:pos:pos], append([]string{t.ID}, dst[pos:]...)...)
	t.StageID = toStageID
	t.Position = pos
	if err := e.Repo.UpdateTask(ctx, tx, *t); err != nil {
		return err
	}
	if toStageID != fromStageID {
		if err := e.Repo.SetPositions(ctx, tx, src); err != nil {
			return err
		}
	}
	return e.Repo.SetPositions(ctx, tx, dst)
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Column is one stage of a board with its tasks in position order.
type Column struct {
	Stage     domain.Stage  `json:"stage"`
	Tasks     []domain.Task `json:"tasks"`
	WIPCount  int           `json:"wip_count"`
	OverLimit bool          `json:"over_limit"`
}

type Board struct {
	Project domain.Project `json:"project"`
	Columns []Column       `json:"columns"`
}

func (e Engine) GetBoard(ctx context.Context, projectID, actorID string) (Board, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Board{}, err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, projectID, actorID, domain.RoleReader); err != nil {
		return Board{}, err
	}
	p, err := e.Repo.GetProject(ctx, tx, projectID)
	if err != nil {
		return Board{}, wrapNotFound(err, "project", projectID)
	}
	tasks, err := e.Repo.ListTasks(ctx, tx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return Board{}, err
	}
	byStage := map[string][]domain.Task{}
	for _, t := range tasks {
		byStage[t.StageID] = append(byStage[t.StageID], t)
	}
	b := Board{Project: p}
	for _, s := range p.Stages {
		col := Column{Stage: s, Tasks: byStage[s.ID]}
		sort.SliceStable(col.Tasks, func(i, j int) bool { return col.Tasks[i].Position < col.Tasks[j].Position })
		for _, t := range col.Tasks {
			if !t.IsSubtask() {
				col.WIPCount++
			}
		}
		col.OverLimit = s.WIPLimit != nil && col.WIPCount > *s.WIPLimit
		b.Columns = append(b.Columns, col)
	}
	return b, nil
}

func (e Engine) ProjectStats(ctx context.Context, projectID, actorID string) (domain.ProjectStats, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectStats{}, err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, projectID, actorID, domain.RoleReader); err != nil {
		return domain.ProjectStats{}, err
	}
	return e.Repo.ProjectStats(ctx, tx, projectID)
}

type OrgStats struct {
	OrgID     string `json:"org_id"`
	Completed int    `json:"completed"`
}

// OrgStats reports the organization-wide completed count (approved tasks).
func (e Engine) OrgStats(ctx context.Context, orgID, actorID string) (OrgStats, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return OrgStats{}, err
	}
	defer tx.Rollback()
	if _, err := e.requireOrg(ctx, tx, orgID, actorID, domain.RoleReader); err != nil {
		return OrgStats{}, err
	}
	n, err := e.Repo.CountCompletedInOrg(ctx, tx, orgID)
	return OrgStats{OrgID: orgID, Completed: n}, err
}
