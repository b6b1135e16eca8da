package repo

import (
	"context"
	"database/sql"

	"taskflow/internal/domain"
)

func (r Repo) SetOrgRole(ctx context.Context, tx *sql.Tx, orgID, userID string, role domain.Role, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO org_members(org_id,user_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(org_id,user_id) DO UPDATE SET role=excluded.role`, orgID, userID, string(role), now)
	return err
}

func (r Repo) RemoveOrgMember(ctx context.Context, tx *sql.Tx, orgID, userID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM org_members WHERE org_id=? AND user_id=?`, orgID, userID)
	return err
}

func (r Repo) CountOrgOwners(ctx context.Context, tx *sql.Tx, orgID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM org_members WHERE org_id=? AND role='owner'`, orgID).Scan(&n)
	return n, err
}

func (r Repo) OrgRole(ctx context.Context, tx *sql.Tx, orgID, userID string) (domain.Role, error) {
	var role string
	err := r.q(tx).QueryRowContext(ctx, `SELECT role FROM org_members WHERE org_id=? AND user_id=?`, orgID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return domain.Role(role), err
}

func (r Repo) ListOrgMembers(ctx context.Context, tx *sql.Tx, orgID string) ([]domain.OrgMember, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT org_id,user_id,role,created_at FROM org_members WHERE org_id=? ORDER BY created_at, user_id`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.OrgMember
	for rows.Next() {
		var m domain.OrgMember
		var role string
		if err := rows.Scan(&m.OrgID, &m.UserID, &role, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r Repo) SetTeamRole(ctx context.Context, tx *sql.Tx, teamID, userID string, role domain.TeamRole, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO team_members(team_id,user_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(team_id,user_id) DO UPDATE SET role=excluded.role`, teamID, userID, string(role), now)
	return err
}

func (r Repo) TeamRole(ctx context.Context, tx *sql.Tx, teamID, userID string) (domain.TeamRole, error) {
	var role string
	err := r.q(tx).QueryRowContext(ctx, `SELECT role FROM team_members WHERE team_id=? AND user_id=?`, teamID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return domain.TeamRole(role), err
}

func (r Repo) SetProjectRole(ctx context.Context, tx *sql.Tx, projectID, userID string, role domain.Role, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role`, projectID, userID, string(role), now)
	return err
}

func (r Repo) RemoveProjectMember(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	return err
}

func (r Repo) ProjectRole(ctx context.Context, tx *sql.Tx, projectID, userID string) (domain.Role, error) {
	var role string
	err := r.q(tx).QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return domain.Role(role), err
}

// MembershipRoles collects every role a user holds that bears on one project:
// direct project membership, organization membership and team membership.
type MembershipRoles struct {
	Project domain.Role
	Org     domain.Role
	Team    domain.TeamRole
}

func (r Repo) MembershipRolesFor(ctx context.Context, tx *sql.Tx, projectID, userID string) (MembershipRoles, error) {
	var projectRole, orgRole, teamRole sql.NullString
	err := r.q(tx).QueryRowContext(ctx, `
SELECT pm.role, om.role, tm.role
FROM projects p
LEFT JOIN project_members pm ON pm.project_id=p.id AND pm.user_id=?
LEFT JOIN org_members om ON om.org_id=p.org_id AND om.user_id=?
LEFT JOIN team_members tm ON tm.team_id=p.team_id AND tm.user_id=?
WHERE p.id=?`, userID, userID, userID, projectID).Scan(&projectRole, &orgRole, &teamRole)
	if err == sql.ErrNoRows {
		return MembershipRoles{}, ErrNotFound
	}
	if err != nil {
		return MembershipRoles{}, err
	}
	return MembershipRoles{
		Project: domain.Role(projectRole.String),
		Org:     domain.Role(orgRole.String),
		Team:    domain.TeamRole(teamRole.String),
	}, nil
}

// ProjectMemberUsers returns every user with access to the project, keyed by
// lowercase username. Used to resolve @mentions.
func (r Repo) ProjectMemberUsers(ctx context.Context, tx *sql.Tx, projectID string) (map[string]domain.User, error) {
	rows, err := r.q(tx).QueryContext(ctx, `
SELECT DISTINCT u.id, u.username, COALESCE(u.email,''), COALESCE(u.display_name,''), u.created_at
FROM projects p
JOIN users u ON u.id IN (
  SELECT user_id FROM project_members WHERE project_id=p.id
  UNION SELECT user_id FROM org_members WHERE org_id=p.org_id
  UNION SELECT user_id FROM team_members WHERE team_id=p.team_id
)
WHERE p.id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, err
		}
		out[u.Username] = u
	}
	return out, rows.Err()
}

func (r Repo) ListProjectMembers(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.ProjectMember, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT project_id,user_id,role,created_at FROM project_members WHERE project_id=? ORDER BY created_at, user_id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ProjectMember
	for rows.Next() {
		var m domain.ProjectMember
		var role string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &role, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}
