package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskflow/internal/domain"
)

// UpsertUser inserts or refreshes a profile mirrored from the identity provider.
func (r Repo) UpsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,username,email,display_name,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET username=excluded.username, email=excluded.email, display_name=excluded.display_name`,
		u.ID, strings.ToLower(u.Username), nullable(u.Email), nullable(u.DisplayName), u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT id,username,COALESCE(email,''),COALESCE(display_name,''),created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByUsername(ctx context.Context, tx *sql.Tx, username string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, `SELECT id,username,COALESCE(email,''),COALESCE(display_name,''),created_at FROM users WHERE username=?`, strings.ToLower(username)))
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) InsertOrg(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO organizations(id,name,slug,created_by,created_at) VALUES (?,?,?,?,?)`,
		o.ID, o.Name, o.Slug, o.CreatedBy, o.CreatedAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, tx *sql.Tx, id string) (domain.Organization, error) {
	var o domain.Organization
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,slug,created_by,created_at FROM organizations WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.Slug, &o.CreatedBy, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) SlugTaken(ctx context.Context, tx *sql.Tx, slug string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM organizations WHERE slug=?`, slug).Scan(&n)
	return n > 0, err
}

// ListOrgsForUser returns organizations where the user holds a membership.
func (r Repo) ListOrgsForUser(ctx context.Context, tx *sql.Tx, userID string) ([]domain.Organization, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT o.id,o.name,o.slug,o.created_by,o.created_at
FROM organizations o JOIN org_members m ON m.org_id=o.id
WHERE m.user_id=? ORDER BY o.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Slug, &o.CreatedBy, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r Repo) InsertTeam(ctx context.Context, tx *sql.Tx, t domain.Team) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO teams(id,org_id,name,created_by,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.OrgID, t.Name, t.CreatedBy, t.CreatedAt)
	return err
}

func (r Repo) GetTeam(ctx context.Context, tx *sql.Tx, id string) (domain.Team, error) {
	var t domain.Team
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,org_id,name,created_by,created_at FROM teams WHERE id=?`, id).
		Scan(&t.ID, &t.OrgID, &t.Name, &t.CreatedBy, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}
