package engine

import (
	"context"
	"database/sql"
	"fmt"

	"taskflow/internal/domain"
	"taskflow/internal/events"
	"taskflow/internal/inbox"
)

type AssignOptions struct {
	TaskID  string
	UserID  string
	Role    string
	ActorID string
}

// Assign adds or re-roles an assignment. Only a new assignment notifies.
func (e Engine) Assign(ctx context.Context, opts AssignOptions) (domain.Assignment, error) {
	role, err := domain.ParseAssignmentRole(opts.Role)
	if err != nil {
		return domain.Assignment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Assignment{}, err
	}
	defer tx.Rollback()
	t, _, err := e.loadTask(ctx, tx, opts.TaskID, opts.ActorID, domain.RoleEditor)
	if err != nil {
		return domain.Assignment{}, err
	}
	a, err := e.assign(ctx, tx, t, opts.UserID, role, opts.ActorID)
	if err != nil {
		return a, err
	}
	return a, tx.Commit()
}

// assign requires the assignee to have access to the task's project.
func (e Engine) assign(ctx context.Context, tx *sql.Tx, t domain.Task, userID string, role domain.AssignmentRole, actorID string) (domain.Assignment, error) {
	access, err := e.resolver(ctx).ProjectRole(ctx, tx, t.ProjectID, userID)
	if err != nil {
		return domain.Assignment{}, err
	}
	if access == "" {
		return domain.Assignment{}, fmt.Errorf("%w: user %s is not a member of the project", domain.ErrInvalidArgument, userID)
	}
	a := domain.Assignment{TaskID: t.ID, UserID: userID, Role: role, AssignedBy: actorID, AssignedAt: e.stamp()}
	isNew, err := e.Repo.UpsertAssignment(ctx, tx, a)
	if err != nil {
		return a, err
	}
	if err := e.emit(ctx, tx, events.TaskAssigned, t.ProjectID, events.KindAssignment, t.ID, actorID, events.EventPayload{
		"user_id": userID, "role": role, "new": isNew,
	}); err != nil {
		return a, err
	}
	if isNew {
		e.notify(ctx, tx, inbox.Assigned(inbox.RefOf(t), userID, notifyActor(actorID)))
	}
	return a, nil
}

// Unassign is idempotent; only an existing assignment notifies.
func (e Engine) Unassign(ctx context.Context, taskID, userID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleEditor)
	if err != nil {
		return err
	}
	existed, err := e.Repo.DeleteAssignment(ctx, tx, taskID, userID)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	if err := e.emit(ctx, tx, events.TaskUnassigned, t.ProjectID, events.KindAssignment, t.ID, actorID, events.EventPayload{"user_id": userID}); err != nil {
		return err
	}
	e.notify(ctx, tx, inbox.Unassigned(inbox.RefOf(t), userID, actorID, e.now()))
	return tx.Commit()
}

func (e Engine) ListAssignments(ctx context.Context, taskID, actorID string) ([]domain.Assignment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleReader); err != nil {
		return nil, err
	}
	return e.Repo.ListAssignments(ctx, tx, taskID)
}

// notifyActor maps the system actor to no actor on attention items.
func notifyActor(actorID string) string {
	if actorID == SystemActor {
		return ""
	}
	return actorID
}
