package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskflow/internal/domain"
	"taskflow/internal/events"
)

type DependencyOptions struct {
	BlockingTaskID string
	BlockedTaskID  string
	Type           string
	LagDays        int
	ActorID        string
}

// AddDependency records blocking -> blocked. Both endpoints need editor access
// and must belong to the same organization; the edge may not close a cycle.
func (e Engine) AddDependency(ctx context.Context, opts DependencyOptions) (domain.Dependency, error) {
	if opts.BlockingTaskID == opts.BlockedTaskID {
		return domain.Dependency{}, fmt.Errorf("%w: %s", domain.ErrSelfDependency, opts.BlockedTaskID)
	}
	depType, err := domain.ParseDependencyType(opts.Type)
	if err != nil {
		return domain.Dependency{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dependency{}, err
	}
	defer tx.Rollback()
	_, blockingProject, err := e.loadTask(ctx, tx, opts.BlockingTaskID, opts.ActorID, domain.RoleEditor)
	if err != nil {
		return domain.Dependency{}, err
	}
	blocked, blockedProject, err := e.loadTask(ctx, tx, opts.BlockedTaskID, opts.ActorID, domain.RoleEditor)
	if err != nil {
		return domain.Dependency{}, err
	}
	if blockingProject.OrgID != blockedProject.OrgID {
		return domain.Dependency{}, domain.ErrCrossOrgDependency
	}
	exists, err := e.Repo.DependencyExists(ctx, tx, opts.BlockingTaskID, opts.BlockedTaskID)
	if err != nil {
		return domain.Dependency{}, err
	}
	if exists {
		return domain.Dependency{}, fmt.Errorf("%w: %s -> %s", domain.ErrDuplicateDependency, opts.BlockingTaskID, opts.BlockedTaskID)
	}
	cycle, err := e.reaches(ctx, tx, opts.BlockedTaskID, opts.BlockingTaskID)
	if err != nil {
		return domain.Dependency{}, err
	}
	if cycle {
		return domain.Dependency{}, fmt.Errorf("%w: %s -> %s", domain.ErrCircularDependency, opts.BlockingTaskID, opts.BlockedTaskID)
	}
	d := domain.Dependency{
		BlockingTaskID: opts.BlockingTaskID,
		BlockedTaskID:  opts.BlockedTaskID,
		Type:           depType,
		LagDays:        opts.LagDays,
		CreatedBy:      opts.ActorID,
		CreatedAt:      e.stamp(),
	}
	if d.ID, err = e.Repo.InsertDependency(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.emit(ctx, tx, events.DependencyAdded, blocked.ProjectID, events.KindDependency, fmt.Sprint(d.ID), opts.ActorID, events.EventPayload{
		"blocking": d.BlockingTaskID, "blocked": d.BlockedTaskID, "type": d.Type, "lag_days": d.LagDays,
	}); err != nil {
		return d, err
	}
	return d, tx.Commit()
}

// reaches walks outgoing blocking -> blocked arrows breadth-first from start.
func (e Engine) reaches(ctx context.Context, tx *sql.Tx, start, target string) (bool, error) {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == target {
			return true, nil
		}
		next, err := e.Repo.BlockedIDs(ctx, tx, cur)
		if err != nil {
			return false, err
		}
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false, nil
}

// RemoveDependency is idempotent: removing a missing edge succeeds.
func (e Engine) RemoveDependency(ctx context.Context, blockingID, blockedID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	blocked, _, err := e.loadTask(ctx, tx, blockedID, actorID, domain.RoleEditor)
	if err != nil {
		return err
	}
	existed, err := e.Repo.DeleteDependency(ctx, tx, blockingID, blockedID)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	if err := e.emit(ctx, tx, events.DependencyRemoved, blocked.ProjectID, events.KindDependency, blockedID, actorID, events.EventPayload{
		"blocking": blockingID, "blocked": blockedID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// BlockersOf lists tasks blocking taskID, each marked complete when it sits in
// its terminal stage with approval granted.
func (e Engine) BlockersOf(ctx context.Context, taskID, actorID string) ([]domain.LinkedTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleReader); err != nil {
		return nil, err
	}
	links, err := e.Repo.Blockers(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	return e.redactLinked(ctx, tx, links, actorID)
}

// BlockedBy lists the tasks taskID blocks.
func (e Engine) BlockedBy(ctx context.Context, taskID, actorID string) ([]domain.LinkedTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleReader); err != nil {
		return nil, err
	}
	links, err := e.Repo.Blocking(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	return e.redactLinked(ctx, tx, links, actorID)
}

// redactLinked blanks the title, stage and approval of linked tasks in
// projects the actor cannot read. Completion stays so blocked state holds.
func (e Engine) redactLinked(ctx context.Context, tx *sql.Tx, links []domain.LinkedTask, actorID string) ([]domain.LinkedTask, error) {
	visible := map[string]bool{}
	for i, l := range links {
		ok, seen := visible[l.ProjectID]
		if !seen {
			_, err := e.requireProject(ctx, tx, l.ProjectID, actorID, domain.RoleReader)
			switch {
			case err == nil:
				ok = true
			case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden):
				ok = false
			default:
				return nil, err
			}
			visible[l.ProjectID] = ok
		}
		if !ok {
			links[i] = domain.LinkedTask{
				TaskID:    l.TaskID,
				ProjectID: l.ProjectID,
				Type:      l.Type,
				LagDays:   l.LagDays,
				Complete:  l.Complete,
				Redacted:  true,
			}
		}
	}
	return links, nil
}

func (e Engine) IsBlocked(ctx context.Context, taskID, actorID string) (bool, error) {
	blockers, err := e.BlockersOf(ctx, taskID, actorID)
	if err != nil {
		return false, err
	}
	return anyIncomplete(blockers), nil
}

func anyIncomplete(blockers []domain.LinkedTask) bool {
	for _, b := range blockers {
		if !b.Complete {
			return true
		}
	}
	return false
}

// CriticalPath returns the project's tasks that take part in an intra-project
// dependency, in topological order. Ties go to the task created first.
func (e Engine) CriticalPath(ctx context.Context, projectID, actorID string) ([]domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, projectID, actorID, domain.RoleReader); err != nil {
		return nil, err
	}
	edges, err := e.Repo.ProjectEdges(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	ids, err := e.Repo.ProjectTaskIDs(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	order := topoOrder(ids, edges)
	out := make([]domain.Task, 0, len(order))
	for _, id := range order {
		t, err := e.Repo.GetTask(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// topoOrder runs Kahn's algorithm over the tasks touching an edge, always
// taking the earliest ready task in ids order.
func topoOrder(ids []string, edges []domain.Dependency) []string {
	indeg := map[string]int{}
	out := map[string][]string{}
	touched := map[string]bool{}
	for _, d := range edges {
		touched[d.BlockingTaskID] = true
		touched[d.BlockedTaskID] = true
		indeg[d.BlockedTaskID]++
		out[d.BlockingTaskID] = append(out[d.BlockingTaskID], d.BlockedTaskID)
	}
	var nodes []string
	for _, id := range ids {
		if touched[id] {
			nodes = append(nodes, id)
		}
	}
	done := map[string]bool{}
	var order []string
	for len(order) < len(nodes) {
		picked := ""
		for _, id := range nodes {
			if !done[id] && indeg[id] == 0 {
				picked = id
				break
			}
		}
		if picked == "" {
			// unreachable while the graph stays acyclic
			break
		}
		done[picked] = true
		order = append(order, picked)
		for _, n := range out[picked] {
			indeg[n]--
		}
	}
	return order
}
