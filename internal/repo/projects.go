package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"taskflow/internal/domain"
)

// WorkflowSchemaVersion tags the stored workflow document layout.
const WorkflowSchemaVersion = 1

// WorkflowDocument is the persisted form of a project's stage list.
type WorkflowDocument struct {
	Schema int            `json:"schema"`
	Stages []domain.Stage `json:"stages"`
}

func EncodeWorkflow(stages []domain.Stage) (string, error) {
	return marshalJSON(WorkflowDocument{Schema: WorkflowSchemaVersion, Stages: stages})
}

func DecodeWorkflow(raw string) ([]domain.Stage, error) {
	var doc WorkflowDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	if doc.Schema != WorkflowSchemaVersion {
		return nil, fmt.Errorf("decode workflow: unsupported schema %d", doc.Schema)
	}
	return doc.Stages, nil
}

const projectColumns = `id,org_id,team_id,name,COALESCE(description,''),workflow_json,workflow_version,created_by,created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var teamID sql.NullString
	var workflow string
	err := row.Scan(&p.ID, &p.OrgID, &teamID, &p.Name, &p.Description, &workflow, &p.WorkflowVersion, &p.CreatedBy, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.TeamID = stringPtr(teamID)
	p.Stages, err = DecodeWorkflow(workflow)
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	workflow, err := EncodeWorkflow(p.Stages)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,org_id,team_id,name,description,workflow_json,workflow_version,created_by,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OrgID, nullableStringPtr(p.TeamID), p.Name, nullable(p.Description), workflow, p.WorkflowVersion, p.CreatedBy, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// ReplaceStages swaps the workflow document and bumps its version.
func (r Repo) ReplaceStages(ctx context.Context, tx *sql.Tx, projectID string, stages []domain.Stage) (int, error) {
	workflow, err := EncodeWorkflow(stages)
	if err != nil {
		return 0, err
	}
	if _, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET workflow_json=?, workflow_version=workflow_version+1 WHERE id=?`, workflow, projectID); err != nil {
		return 0, err
	}
	var v int
	err = r.q(tx).QueryRowContext(ctx, `SELECT workflow_version FROM projects WHERE id=?`, projectID).Scan(&v)
	return v, err
}

// ListProjectsForUser returns projects visible to the user through any membership.
func (r Repo) ListProjectsForUser(ctx context.Context, tx *sql.Tx, userID string) ([]domain.Project, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+projectColumns+` FROM projects p
WHERE EXISTS (SELECT 1 FROM project_members WHERE project_id=p.id AND user_id=?)
   OR EXISTS (SELECT 1 FROM org_members WHERE org_id=p.org_id AND user_id=?)
   OR EXISTS (SELECT 1 FROM team_members WHERE team_id=p.team_id AND user_id=?)
ORDER BY p.created_at, p.id`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertMilestone(ctx context.Context, tx *sql.Tx, m domain.Milestone) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO milestones(id,project_id,name,target_date,completed_at,color,created_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Name, nullableStringPtr(m.TargetDate), nullableStringPtr(m.CompletedAt), nullable(m.Color), m.CreatedAt)
	return err
}

func (r Repo) GetMilestone(ctx context.Context, tx *sql.Tx, id string) (domain.Milestone, error) {
	var m domain.Milestone
	var target, completed sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,project_id,name,target_date,completed_at,COALESCE(color,''),created_at FROM milestones WHERE id=?`, id).
		Scan(&m.ID, &m.ProjectID, &m.Name, &target, &completed, &m.Color, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.TargetDate = stringPtr(target)
	m.CompletedAt = stringPtr(completed)
	return m, err
}
