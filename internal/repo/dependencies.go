package repo

import (
	"context"
	"database/sql"

	"taskflow/internal/domain"
)

func (r Repo) InsertDependency(ctx context.Context, tx *sql.Tx, d domain.Dependency) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_dependencies(blocking_task_id,blocked_task_id,type,lag_days,created_by,created_at) VALUES (?,?,?,?,?,?)`,
		d.BlockingTaskID, d.BlockedTaskID, string(d.Type), d.LagDays, d.CreatedBy, d.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) DependencyExists(ctx context.Context, tx *sql.Tx, blocking, blocked string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM task_dependencies WHERE blocking_task_id=? AND blocked_task_id=?`, blocking, blocked).Scan(&n)
	return n > 0, err
}

// DeleteDependency removes an edge and reports whether it existed.
func (r Repo) DeleteDependency(ctx context.Context, tx *sql.Tx, blocking, blocked string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM task_dependencies WHERE blocking_task_id=? AND blocked_task_id=?`, blocking, blocked)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// BlockedIDs returns the tasks that taskID blocks (outgoing arrows).
func (r Repo) BlockedIDs(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT blocked_task_id FROM task_dependencies WHERE blocking_task_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

const linkedColumns = `t.id,t.project_id,t.title,t.stage_id,t.approval_status,d.type,d.lag_days,p.workflow_json`

func scanLinked(rows *sql.Rows) ([]domain.LinkedTask, error) {
	defer rows.Close()
	var out []domain.LinkedTask
	for rows.Next() {
		var l domain.LinkedTask
		var approval, depType, workflow string
		if err := rows.Scan(&l.TaskID, &l.ProjectID, &l.Title, &l.StageID, &approval, &depType, &l.LagDays, &workflow); err != nil {
			return nil, err
		}
		l.ApprovalStatus = domain.ApprovalStatus(approval)
		l.Type = domain.DependencyType(depType)
		stages, err := DecodeWorkflow(workflow)
		if err != nil {
			return nil, err
		}
		l.Complete = isComplete(stages, l.StageID, l.ApprovalStatus)
		out = append(out, l)
	}
	return out, rows.Err()
}

func isComplete(stages []domain.Stage, stageID string, status domain.ApprovalStatus) bool {
	if status != domain.ApprovalApproved {
		return false
	}
	for _, s := range stages {
		if s.ID == stageID {
			return s.IsDone
		}
	}
	return false
}

// Blockers returns tasks with an edge into taskID, with completion resolved.
func (r Repo) Blockers(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.LinkedTask, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+linkedColumns+`
FROM task_dependencies d JOIN tasks t ON t.id=d.blocking_task_id JOIN projects p ON p.id=t.project_id
WHERE d.blocked_task_id=? ORDER BY d.id`, taskID)
	if err != nil {
		return nil, err
	}
	return scanLinked(rows)
}

// Blocking returns tasks taskID has an edge into.
func (r Repo) Blocking(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.LinkedTask, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+linkedColumns+`
FROM task_dependencies d JOIN tasks t ON t.id=d.blocked_task_id JOIN projects p ON p.id=t.project_id
WHERE d.blocking_task_id=? ORDER BY d.id`, taskID)
	if err != nil {
		return nil, err
	}
	return scanLinked(rows)
}

// ProjectEdges returns dependency edges whose endpoints both belong to the project, in insertion order.
func (r Repo) ProjectEdges(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Dependency, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT d.id,d.blocking_task_id,d.blocked_task_id,d.type,d.lag_days,d.created_by,d.created_at
FROM task_dependencies d
JOIN tasks a ON a.id=d.blocking_task_id
JOIN tasks b ON b.id=d.blocked_task_id
WHERE a.project_id=? AND b.project_id=?
ORDER BY d.id`, projectID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Dependency
	for rows.Next() {
		var d domain.Dependency
		var depType string
		if err := rows.Scan(&d.ID, &d.BlockingTaskID, &d.BlockedTaskID, &depType, &d.LagDays, &d.CreatedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Type = domain.DependencyType(depType)
		out = append(out, d)
	}
	return out, rows.Err()
}
