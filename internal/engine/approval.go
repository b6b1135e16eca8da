package engine

import (
	"context"
	"fmt"
	"strings"

	"taskflow/internal/domain"
	"taskflow/internal/events"
	"taskflow/internal/inbox"
)

// Approve completes a pending task. Owners and admins only.
func (e Engine) Approve(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleAdmin)
	if err != nil {
		return t, err
	}
	if t.ApprovalStatus != domain.ApprovalPending {
		return t, fmt.Errorf("%w: task %s is %s", domain.ErrNotPending, t.ID, t.ApprovalStatus)
	}
	now := e.stamp()
	submitter := deref(t.MovedToDoneBy)
	t.ApprovalStatus = domain.ApprovalApproved
	t.ApprovedAt = &now
	t.ApprovedBy = &actorID
	t.CompletedAt = &now
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.emit(ctx, tx, events.TaskApproved, t.ProjectID, events.KindTask, t.ID, actorID, nil); err != nil {
		return t, err
	}
	recipients, err := e.responsible(ctx, tx, t.ID)
	if err != nil {
		return t, err
	}
	e.notify(ctx, tx, inbox.ApprovalDecided(inbox.RefOf(t), true, "", append(recipients, submitter), actorID))
	return t, tx.Commit()
}

type RejectOptions struct {
	TaskID        string
	ActorID       string
	ReturnStageID string
	Reason        string
}

// Reject sends a pending task back to a non-terminal stage. The return move
// obeys the destination's WIP limit like any other move.
func (e Engine) Reject(ctx context.Context, opts RejectOptions) (MoveResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return MoveResult{}, err
	}
	defer tx.Rollback()
	t, p, err := e.loadTask(ctx, tx, opts.TaskID, opts.ActorID, domain.RoleAdmin)
	if err != nil {
		return MoveResult{}, err
	}
	if t.ApprovalStatus != domain.ApprovalPending {
		return MoveResult{}, fmt.Errorf("%w: task %s is %s", domain.ErrNotPending, t.ID, t.ApprovalStatus)
	}
	ret, ok := p.Stage(opts.ReturnStageID)
	if !ok || ret.IsDone {
		return MoveResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidReturnStage, opts.ReturnStageID)
	}
	res := MoveResult{FromStageID: t.StageID}
	if res.Warning, err = e.checkWIP(ctx, tx, t, ret); err != nil {
		return res, err
	}
	now := e.stamp()
	submitter := deref(t.MovedToDoneBy)
	t.ApprovalStatus = domain.ApprovalRejected
	t.RejectedAt = &now
	t.RejectedBy = &opts.ActorID
	t.RejectionReason = optionalString(strings.TrimSpace(opts.Reason))
	t.MovedToDoneAt = nil
	t.MovedToDoneBy = nil
	t.UpdatedAt = now
	if err := e.relocate(ctx, tx, &t, ret.ID, nil); err != nil {
		return res, err
	}
	if err := e.emit(ctx, tx, events.TaskRejected, t.ProjectID, events.KindTask, t.ID, opts.ActorID, events.EventPayload{
		"return_stage": ret.ID, "reason": deref(t.RejectionReason),
	}); err != nil {
		return res, err
	}
	recipients, err := e.responsible(ctx, tx, t.ID)
	if err != nil {
		return res, err
	}
	e.notify(ctx, tx, inbox.ApprovalDecided(inbox.RefOf(t), false, deref(t.RejectionReason), append(recipients, submitter), opts.ActorID))
	res.Task = t
	res.Moved = true
	return res, tx.Commit()
}
