package repo

import (
	"context"
	"database/sql"

	"taskflow/internal/domain"
)

// UpsertAssignment inserts or updates the single (task, user) assignment.
// It reports whether the row is new.
func (r Repo) UpsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) (bool, error) {
	var existing int
	if err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM task_assignments WHERE task_id=? AND user_id=?`, a.TaskID, a.UserID).Scan(&existing); err != nil {
		return false, err
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_assignments(task_id,user_id,role,assigned_by,assigned_at) VALUES (?,?,?,?,?)
ON CONFLICT(task_id,user_id) DO UPDATE SET role=excluded.role`, a.TaskID, a.UserID, string(a.Role), a.AssignedBy, a.AssignedAt)
	return existing == 0, err
}

// DeleteAssignment removes the assignment and reports whether one existed.
func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, taskID, userID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM task_assignments WHERE task_id=? AND user_id=?`, taskID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) ListAssignments(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.Assignment, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT task_id,user_id,role,assigned_by,assigned_at FROM task_assignments WHERE task_id=? ORDER BY assigned_at, user_id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		var role string
		if err := rows.Scan(&a.TaskID, &a.UserID, &role, &a.AssignedBy, &a.AssignedAt); err != nil {
			return nil, err
		}
		a.Role = domain.AssignmentRole(role)
		out = append(out, a)
	}
	return out, rows.Err()
}
