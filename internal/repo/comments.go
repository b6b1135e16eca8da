package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"taskflow/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	mentions, err := marshalJSON(nonNil(c.Mentions))
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO comments(id,task_id,project_id,author_id,content,mentions_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.ProjectID, c.AuthorID, c.Content, mentions, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateComment(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	mentions, err := marshalJSON(nonNil(c.Mentions))
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `UPDATE comments SET content=?, mentions_json=?, updated_at=? WHERE id=?`, c.Content, mentions, c.UpdatedAt, c.ID)
	return err
}

func (r Repo) GetComment(ctx context.Context, tx *sql.Tx, id string) (domain.Comment, error) {
	row := r.q(tx).QueryRowContext(ctx, `SELECT id,task_id,project_id,author_id,content,mentions_json,created_at,updated_at FROM comments WHERE id=?`, id)
	return scanComment(row)
}

func scanComment(row rowScanner) (domain.Comment, error) {
	var c domain.Comment
	var mentions string
	err := row.Scan(&c.ID, &c.TaskID, &c.ProjectID, &c.AuthorID, &c.Content, &mentions, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(mentions), &c.Mentions); err != nil {
		return c, err
	}
	return c, nil
}

func (r Repo) ListComments(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.Comment, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,task_id,project_id,author_id,content,mentions_json,created_at,updated_at FROM comments WHERE task_id=? ORDER BY created_at, rowid`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertMention records one mention per (comment, user) and returns the stored id.
func (r Repo) UpsertMention(ctx context.Context, tx *sql.Tx, m domain.Mention) (string, error) {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO mentions(id,mentioned_user_id,mentioner_user_id,task_id,comment_id,context,created_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(comment_id,mentioned_user_id) DO UPDATE SET context=excluded.context`,
		m.ID, m.MentionedUserID, m.MentionerUserID, nullableStringPtr(m.TaskID), nullableStringPtr(m.CommentID), nullable(m.Context), m.CreatedAt)
	if err != nil {
		return "", err
	}
	if m.CommentID == nil {
		return m.ID, nil
	}
	var id string
	err = r.q(tx).QueryRowContext(ctx, `SELECT id FROM mentions WHERE comment_id=? AND mentioned_user_id=?`, *m.CommentID, m.MentionedUserID).Scan(&id)
	return id, err
}

func (r Repo) ListMentionsForUser(ctx context.Context, tx *sql.Tx, userID string, unreadOnly bool) ([]domain.Mention, error) {
	query := `SELECT id,mentioned_user_id,mentioner_user_id,task_id,comment_id,COALESCE(context,''),created_at,read_at FROM mentions WHERE mentioned_user_id=?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	rows, err := r.q(tx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Mention
	for rows.Next() {
		var m domain.Mention
		var taskID, commentID, readAt sql.NullString
		if err := rows.Scan(&m.ID, &m.MentionedUserID, &m.MentionerUserID, &taskID, &commentID, &m.Context, &m.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		m.TaskID = stringPtr(taskID)
		m.CommentID = stringPtr(commentID)
		m.ReadAt = stringPtr(readAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
