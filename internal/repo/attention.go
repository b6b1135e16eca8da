package repo

import (
	"context"
	"database/sql"
	"strings"

	"taskflow/internal/domain"
)

const attentionColumns = `id,user_id,type,priority,title,COALESCE(body,''),task_id,comment_id,mention_id,project_id,actor_id,dedup_key,
read_at,dismissed_at,actioned_at,created_at,updated_at`

func scanAttention(row rowScanner) (domain.AttentionItem, error) {
	var it domain.AttentionItem
	var typ, prio string
	var taskID, commentID, mentionID, projectID, actorID, readAt, dismissedAt, actionedAt sql.NullString
	err := row.Scan(&it.ID, &it.UserID, &typ, &prio, &it.Title, &it.Body, &taskID, &commentID, &mentionID, &projectID, &actorID,
		&it.DedupKey, &readAt, &dismissedAt, &actionedAt, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Type = domain.AttentionType(typ)
	it.Priority = domain.AttentionPriority(prio)
	it.TaskID = stringPtr(taskID)
	it.CommentID = stringPtr(commentID)
	it.MentionID = stringPtr(mentionID)
	it.ProjectID = stringPtr(projectID)
	it.ActorID = stringPtr(actorID)
	it.ReadAt = stringPtr(readAt)
	it.DismissedAt = stringPtr(dismissedAt)
	it.ActionedAt = stringPtr(actionedAt)
	return it, nil
}

// UpsertAttentionItem inserts the item or, when a live (undismissed) item with the
// same (user, dedup key) exists, refreshes its content and marks it unread again.
// It returns the stored row.
func (r Repo) UpsertAttentionItem(ctx context.Context, tx *sql.Tx, it domain.AttentionItem) (domain.AttentionItem, error) {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO attention_items(id,user_id,type,priority,title,body,task_id,comment_id,mention_id,project_id,actor_id,dedup_key,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(user_id,dedup_key) WHERE dismissed_at IS NULL DO UPDATE SET
  title=excluded.title, body=excluded.body, priority=excluded.priority, actor_id=excluded.actor_id,
  comment_id=COALESCE(excluded.comment_id, comment_id), mention_id=COALESCE(excluded.mention_id, mention_id),
  read_at=NULL, updated_at=excluded.updated_at`,
		it.ID, it.UserID, string(it.Type), string(it.Priority), it.Title, nullable(it.Body), nullableStringPtr(it.TaskID),
		nullableStringPtr(it.CommentID), nullableStringPtr(it.MentionID), nullableStringPtr(it.ProjectID), nullableStringPtr(it.ActorID),
		it.DedupKey, it.CreatedAt, it.UpdatedAt)
	if err != nil {
		return domain.AttentionItem{}, err
	}
	return scanAttention(r.q(tx).QueryRowContext(ctx, `SELECT `+attentionColumns+` FROM attention_items
WHERE user_id=? AND dedup_key=? AND dismissed_at IS NULL`, it.UserID, it.DedupKey))
}

func (r Repo) GetAttentionItem(ctx context.Context, tx *sql.Tx, userID, id string) (domain.AttentionItem, error) {
	return scanAttention(r.q(tx).QueryRowContext(ctx, `SELECT `+attentionColumns+` FROM attention_items WHERE id=? AND user_id=?`, id, userID))
}

type InboxFilters struct {
	UserID           string
	UnreadOnly       bool
	IncludeDismissed bool
	Types            []domain.AttentionType
	Limit            int
}

// ListInbox returns a user's items, newest activity first.
func (r Repo) ListInbox(ctx context.Context, tx *sql.Tx, f InboxFilters) ([]domain.AttentionItem, error) {
	query := `SELECT ` + attentionColumns + ` FROM attention_items WHERE user_id=?`
	args := []any{f.UserID}
	if !f.IncludeDismissed {
		query += ` AND dismissed_at IS NULL`
	}
	if f.UnreadOnly {
		query += ` AND read_at IS NULL`
	}
	if len(f.Types) > 0 {
		query += ` AND type IN (` + strings.TrimSuffix(strings.Repeat("?,", len(f.Types)), ",") + `)`
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	query += ` ORDER BY updated_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AttentionItem
	for rows.Next() {
		it, err := scanAttention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r Repo) UnreadCount(ctx context.Context, tx *sql.Tx, userID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM attention_items WHERE user_id=? AND dismissed_at IS NULL AND read_at IS NULL`, userID).Scan(&n)
	return n, err
}

// MarkRead sets read_at on the user's items; ids outside the user's inbox are ignored.
func (r Repo) MarkRead(ctx context.Context, tx *sql.Tx, userID string, ids []string, now string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := []any{now, userID}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE attention_items SET read_at=? WHERE user_id=? AND read_at IS NULL AND id IN (`+
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) MarkAllRead(ctx context.Context, tx *sql.Tx, userID, now string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE attention_items SET read_at=? WHERE user_id=? AND read_at IS NULL AND dismissed_at IS NULL`, now, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Dismiss retires a live item so the same dedup key can open a fresh one.
func (r Repo) Dismiss(ctx context.Context, tx *sql.Tx, userID, id, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE attention_items SET dismissed_at=?, read_at=COALESCE(read_at, ?) WHERE id=? AND user_id=? AND dismissed_at IS NULL`,
		now, now, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) MarkActioned(ctx context.Context, tx *sql.Tx, userID, id, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE attention_items SET actioned_at=?, read_at=COALESCE(read_at, ?) WHERE id=? AND user_id=?`, now, now, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkMentionsRead clears unread mentions linked to the given inbox items.
func (r Repo) MarkMentionsRead(ctx context.Context, tx *sql.Tx, userID, now string) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE mentions SET read_at=? WHERE mentioned_user_id=? AND read_at IS NULL
AND id IN (SELECT mention_id FROM attention_items WHERE user_id=? AND mention_id IS NOT NULL AND read_at IS NOT NULL)`, now, userID, userID)
	return err
}
