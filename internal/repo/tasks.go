package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"taskflow/internal/domain"
)

const taskColumns = `id,project_id,title,COALESCE(description,''),priority,stage_id,position,start_date,due_date,estimated_hours,parent_id,milestone_id,color,
created_by,created_at,updated_at,approval_status,moved_to_done_at,moved_to_done_by,approved_at,approved_by,rejected_at,rejected_by,rejection_reason,
completed_at,chat_thread_ref,chat_thread_day,recurrence_template_id,recurrence_date`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var priority, approval string
	var startDate, dueDate, parentID, milestoneID, color sql.NullString
	var movedAt, movedBy, approvedAt, approvedBy, rejectedAt, rejectedBy, reason sql.NullString
	var completedAt, threadRef, threadDay, templateID, recurrenceDate sql.NullString
	var hours sql.NullFloat64
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &priority, &t.StageID, &t.Position,
		&startDate, &dueDate, &hours, &parentID, &milestoneID, &color,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt, &approval, &movedAt, &movedBy, &approvedAt, &approvedBy,
		&rejectedAt, &rejectedBy, &reason, &completedAt, &threadRef, &threadDay, &templateID, &recurrenceDate)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Priority = domain.Priority(priority)
	t.ApprovalStatus = domain.ApprovalStatus(approval)
	t.StartDate = stringPtr(startDate)
	t.DueDate = stringPtr(dueDate)
	if hours.Valid {
		h := hours.Float64
		t.EstimatedHours = &h
	}
	t.ParentID = stringPtr(parentID)
	t.MilestoneID = stringPtr(milestoneID)
	t.Color = stringPtr(color)
	t.MovedToDoneAt = stringPtr(movedAt)
	t.MovedToDoneBy = stringPtr(movedBy)
	t.ApprovedAt = stringPtr(approvedAt)
	t.ApprovedBy = stringPtr(approvedBy)
	t.RejectedAt = stringPtr(rejectedAt)
	t.RejectedBy = stringPtr(rejectedBy)
	t.RejectionReason = stringPtr(reason)
	t.CompletedAt = stringPtr(completedAt)
	t.ChatThreadRef = stringPtr(threadRef)
	t.ChatThreadDay = stringPtr(threadDay)
	t.RecurrenceTemplateID = stringPtr(templateID)
	t.RecurrenceDate = stringPtr(recurrenceDate)
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,project_id,title,description,priority,stage_id,position,start_date,due_date,estimated_hours,
parent_id,milestone_id,color,created_by,created_at,updated_at,approval_status,recurrence_template_id,recurrence_date)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.Title, nullable(t.Description), string(t.Priority), t.StageID, t.Position,
		nullableStringPtr(t.StartDate), nullableStringPtr(t.DueDate), nullableFloatPtr(t.EstimatedHours),
		nullableStringPtr(t.ParentID), nullableStringPtr(t.MilestoneID), nullableStringPtr(t.Color),
		t.CreatedBy, t.CreatedAt, t.UpdatedAt, string(t.ApprovalStatus),
		nullableStringPtr(t.RecurrenceTemplateID), nullableStringPtr(t.RecurrenceDate))
	return err
}

// UpdateTask writes every mutable column of t.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET title=?, description=?, priority=?, stage_id=?, position=?, start_date=?, due_date=?,
estimated_hours=?, parent_id=?, milestone_id=?, color=?, updated_at=?, approval_status=?, moved_to_done_at=?, moved_to_done_by=?,
approved_at=?, approved_by=?, rejected_at=?, rejected_by=?, rejection_reason=?, completed_at=?, chat_thread_ref=?, chat_thread_day=?
WHERE id=?`,
		t.Title, nullable(t.Description), string(t.Priority), t.StageID, t.Position, nullableStringPtr(t.StartDate), nullableStringPtr(t.DueDate),
		nullableFloatPtr(t.EstimatedHours), nullableStringPtr(t.ParentID), nullableStringPtr(t.MilestoneID), nullableStringPtr(t.Color),
		t.UpdatedAt, string(t.ApprovalStatus), nullableStringPtr(t.MovedToDoneAt), nullableStringPtr(t.MovedToDoneBy),
		nullableStringPtr(t.ApprovedAt), nullableStringPtr(t.ApprovedBy), nullableStringPtr(t.RejectedAt), nullableStringPtr(t.RejectedBy),
		nullableStringPtr(t.RejectionReason), nullableStringPtr(t.CompletedAt), nullableStringPtr(t.ChatThreadRef), nullableStringPtr(t.ChatThreadDay),
		t.ID)
	return err
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	return err
}

type TaskFilters struct {
	ProjectID  string
	StageID    string
	ParentID   string
	AssigneeID string
	Limit      int
}

// ListTasks returns tasks in board order: stage, then position.
func (r Repo) ListTasks(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.StageID != "" {
		clauses = append(clauses, "stage_id=?")
		args = append(args, f.StageID)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "id IN (SELECT task_id FROM task_assignments WHERE user_id=?)")
		args = append(args, f.AssigneeID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks %s ORDER BY stage_id, position, rowid`, taskColumns, where)
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// StageTaskIDs returns the ids of a stage's tasks in position order.
func (r Repo) StageTaskIDs(ctx context.Context, tx *sql.Tx, projectID, stageID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id FROM tasks WHERE project_id=? AND stage_id=? ORDER BY position, rowid`, projectID, stageID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

// SetPositions renumbers the given tasks 0..n-1 in slice order.
func (r Repo) SetPositions(ctx context.Context, tx *sql.Tx, ids []string) error {
	for i, id := range ids {
		if _, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET position=? WHERE id=?`, i, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) NextPosition(ctx context.Context, tx *sql.Tx, projectID, stageID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE project_id=? AND stage_id=?`, projectID, stageID).Scan(&n)
	return n, err
}

// CountWIP counts top-level tasks in a stage, ignoring excludeID.
func (r Repo) CountWIP(ctx context.Context, tx *sql.Tx, projectID, stageID, excludeID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE project_id=? AND stage_id=? AND parent_id IS NULL AND id<>?`,
		projectID, stageID, excludeID).Scan(&n)
	return n, err
}

// CountInStages counts tasks of a project sitting in any of the given stages.
func (r Repo) CountInStages(ctx context.Context, tx *sql.Tx, projectID string, stageIDs []string) (map[string]int, error) {
	out := map[string]int{}
	if len(stageIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(stageIDs)), ",")
	args := []any{projectID}
	for _, id := range stageIDs {
		args = append(args, id)
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT stage_id, COUNT(1) FROM tasks WHERE project_id=? AND stage_id IN (`+placeholders+`) GROUP BY stage_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

func (r Repo) CountChildren(ctx context.Context, tx *sql.Tx, taskID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE parent_id=?`, taskID).Scan(&n)
	return n, err
}

// CountCompleted is the canonical completed count: tasks whose approval is approved.
func (r Repo) CountCompleted(ctx context.Context, tx *sql.Tx, projectID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE project_id=? AND approval_status='approved'`, projectID).Scan(&n)
	return n, err
}

func (r Repo) CountCompletedInOrg(ctx context.Context, tx *sql.Tx, orgID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks t JOIN projects p ON p.id=t.project_id WHERE p.org_id=? AND t.approval_status='approved'`, orgID).Scan(&n)
	return n, err
}

func (r Repo) ProjectStats(ctx context.Context, tx *sql.Tx, projectID string) (domain.ProjectStats, error) {
	stats := domain.ProjectStats{ProjectID: projectID, ByStage: map[string]int{}}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT stage_id, approval_status, COUNT(1) FROM tasks WHERE project_id=? GROUP BY stage_id, approval_status`, projectID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var stage, approval string
		var n int
		if err := rows.Scan(&stage, &approval, &n); err != nil {
			return stats, err
		}
		stats.Total += n
		stats.ByStage[stage] += n
		switch domain.ApprovalStatus(approval) {
		case domain.ApprovalApproved:
			stats.Completed += n
		case domain.ApprovalPending:
			stats.Pending += n
		case domain.ApprovalRejected:
			stats.Rejected += n
		}
	}
	return stats, rows.Err()
}

// ResetPendingOutside clears pending approvals on tasks not in the terminal stage.
func (r Repo) ResetPendingOutside(ctx context.Context, tx *sql.Tx, projectID, terminalStageID, now string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET approval_status='none', moved_to_done_at=NULL, moved_to_done_by=NULL, updated_at=?
WHERE project_id=? AND stage_id<>? AND approval_status='pending'`, now, projectID, terminalStageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkPendingIn requests approval for tasks already sitting in a newly designated terminal stage.
func (r Repo) MarkPendingIn(ctx context.Context, tx *sql.Tx, projectID, terminalStageID, actorID, now string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET approval_status='pending', moved_to_done_at=?, moved_to_done_by=?, rejection_reason=NULL, updated_at=?
WHERE project_id=? AND stage_id=? AND approval_status IN ('none','rejected')`, now, actorID, now, projectID, terminalStageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TasksDueBetween lists unfinished tasks with a due date in [from, to].
func (r Repo) TasksDueBetween(ctx context.Context, tx *sql.Tx, from, to string) ([]domain.Task, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE due_date IS NOT NULL AND due_date>=? AND due_date<=? AND approval_status<>'approved'
ORDER BY due_date, rowid`, from, to)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

// TasksOverdue lists unfinished tasks due strictly before the given date.
func (r Repo) TasksOverdue(ctx context.Context, tx *sql.Tx, before string) ([]domain.Task, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
WHERE due_date IS NOT NULL AND due_date<? AND approval_status<>'approved'
ORDER BY due_date, rowid`, before)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (r Repo) SetChatThread(ctx context.Context, tx *sql.Tx, taskID, ref, day string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET chat_thread_ref=?, chat_thread_day=? WHERE id=?`, ref, day, taskID)
	return err
}

// ProjectTaskIDs lists a project's task ids in insertion order.
func (r Repo) ProjectTaskIDs(ctx context.Context, tx *sql.Tx, projectID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id FROM tasks WHERE project_id=? ORDER BY rowid`, projectID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

func (r Repo) RecurrenceInstanceExists(ctx context.Context, tx *sql.Tx, templateID, date string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE recurrence_template_id=? AND recurrence_date=?`, templateID, date).Scan(&n)
	return n > 0, err
}
