package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"taskflow/internal/domain"
	"taskflow/internal/events"
	"taskflow/internal/inbox"
	"taskflow/internal/mention"
)

const (
	maxCommentLen = 10000
	snippetLen    = 140
)

// AddComment stores a comment, records its mentions and notifies mentioned
// users, the task's assignees and its creator. Readers may comment.
func (e Engine) AddComment(ctx context.Context, taskID, content, actorID string) (domain.Comment, error) {
	content, err := cleanComment(content)
	if err != nil {
		return domain.Comment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	t, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleReader)
	if err != nil {
		return domain.Comment{}, err
	}
	now := e.stamp()
	c := domain.Comment{
		ID:        uuid.NewString(),
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		AuthorID:  actorID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	mentioned, err := e.resolveMentions(ctx, tx, t.ProjectID, content)
	if err != nil {
		return c, err
	}
	c.Mentions = mentioned
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.emit(ctx, tx, events.CommentAdded, t.ProjectID, events.KindComment, c.ID, actorID, events.EventPayload{
		"task_id": t.ID, "mentions": mentioned,
	}); err != nil {
		return c, err
	}
	notices, err := e.mentionNotices(ctx, tx, t, c)
	if err != nil {
		return c, err
	}
	skip := map[string]bool{}
	for _, id := range mentioned {
		skip[id] = true
	}
	assignees, err := e.responsible(ctx, tx, t.ID)
	if err != nil {
		return c, err
	}
	snippet := mention.Snippet(content, snippetLen)
	notices = append(notices, inbox.Commented(inbox.RefOf(t), c.ID, snippet, assignees, skip, actorID, e.now())...)
	e.notify(ctx, tx, notices)
	return c, tx.Commit()
}

// UpdateComment rewrites a comment's content. Only the author may edit.
// Mentions are re-resolved and mention items refreshed in place.
func (e Engine) UpdateComment(ctx context.Context, commentID, content, actorID string) (domain.Comment, error) {
	content, err := cleanComment(content)
	if err != nil {
		return domain.Comment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	c, err := e.Repo.GetComment(ctx, tx, commentID)
	if err != nil {
		return c, wrapNotFound(err, "comment", commentID)
	}
	t, _, err := e.loadTask(ctx, tx, c.TaskID, actorID, domain.RoleReader)
	if err != nil {
		return c, err
	}
	if c.AuthorID != actorID {
		return c, fmt.Errorf("%w: only the author may edit a comment", domain.ErrForbidden)
	}
	mentioned, err := e.resolveMentions(ctx, tx, t.ProjectID, content)
	if err != nil {
		return c, err
	}
	c.Content = content
	c.Mentions = mentioned
	c.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateComment(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.emit(ctx, tx, events.CommentUpdated, t.ProjectID, events.KindComment, c.ID, actorID, events.EventPayload{
		"task_id": t.ID, "mentions": mentioned,
	}); err != nil {
		return c, err
	}
	notices, err := e.mentionNotices(ctx, tx, t, c)
	if err != nil {
		return c, err
	}
	e.notify(ctx, tx, notices)
	return c, tx.Commit()
}

func cleanComment(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: comment is empty", domain.ErrInvalidArgument)
	}
	if utf8.RuneCountInString(content) > maxCommentLen {
		return "", fmt.Errorf("%w: comment exceeds %d characters", domain.ErrInvalidArgument, maxCommentLen)
	}
	return content, nil
}

// resolveMentions maps @names in content to project members. Unknown names
// are dropped.
func (e Engine) resolveMentions(ctx context.Context, tx *sql.Tx, projectID, content string) ([]string, error) {
	names := mention.Extract(content)
	if len(names) == 0 {
		return []string{}, nil
	}
	members, err := e.Repo.ProjectMemberUsers(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		if u, ok := members[name]; ok {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}

// mentionNotices upserts one mention row per mentioned user and builds their
// attention notices.
func (e Engine) mentionNotices(ctx context.Context, tx *sql.Tx, t domain.Task, c domain.Comment) ([]inbox.Notice, error) {
	snippet := mention.Snippet(c.Content, snippetLen)
	var out []inbox.Notice
	for _, userID := range c.Mentions {
		mentionID, err := e.Repo.UpsertMention(ctx, tx, domain.Mention{
			ID:              uuid.NewString(),
			MentionedUserID: userID,
			MentionerUserID: c.AuthorID,
			TaskID:          &t.ID,
			CommentID:       &c.ID,
			Context:         snippet,
			CreatedAt:       c.UpdatedAt,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, inbox.Mentioned(inbox.RefOf(t), c.ID, mentionID, userID, snippet, c.AuthorID)...)
	}
	return out, nil
}

func (e Engine) ListComments(ctx context.Context, taskID, actorID string) ([]domain.Comment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleReader); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, tx, taskID)
}

// Mentions lists the mentions of a user, newest first.
func (e Engine) Mentions(ctx context.Context, userID string, unreadOnly bool) ([]domain.Mention, error) {
	return e.Repo.ListMentionsForUser(ctx, nil, userID, unreadOnly)
}
