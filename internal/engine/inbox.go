package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskflow/internal/domain"
	"taskflow/internal/events"
	"taskflow/internal/inbox"
	"taskflow/internal/recurrence"
	"taskflow/internal/repo"
)

// Inbox operations act on the caller's own items only.

func (e Engine) ListInbox(ctx context.Context, f repo.InboxFilters) ([]domain.AttentionItem, error) {
	if f.UserID == "" {
		return nil, fmt.Errorf("%w: user required", domain.ErrForbidden)
	}
	return e.Repo.ListInbox(ctx, nil, f)
}

func (e Engine) UnreadCount(ctx context.Context, userID string) (int, error) {
	return e.Repo.UnreadCount(ctx, nil, userID)
}

func (e Engine) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := e.Repo.MarkRead(ctx, tx, userID, ids, e.stamp())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := e.emit(ctx, tx, events.AttentionChanged, "", events.KindAttention, "", userID, events.EventPayload{
			"user_id": userID, "read": ids,
		}); err != nil {
			return 0, err
		}
	}
	return n, tx.Commit()
}

// MarkAllRead clears the unread state of every live item and mention of the user.
func (e Engine) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	now := e.stamp()
	n, err := e.Repo.MarkAllRead(ctx, tx, userID, now)
	if err != nil {
		return 0, err
	}
	if err := e.Repo.MarkMentionsRead(ctx, tx, userID, now); err != nil {
		return 0, err
	}
	if n > 0 {
		if err := e.emit(ctx, tx, events.AttentionChanged, "", events.KindAttention, "", userID, events.EventPayload{
			"user_id": userID, "all_read": true,
		}); err != nil {
			return 0, err
		}
	}
	return n, tx.Commit()
}

// Dismiss retires an item; a later event with the same key opens a new one.
func (e Engine) Dismiss(ctx context.Context, userID, itemID string) error {
	return e.closeItem(ctx, userID, itemID, "dismissed", e.Repo.Dismiss)
}

func (e Engine) MarkActioned(ctx context.Context, userID, itemID string) error {
	return e.closeItem(ctx, userID, itemID, "actioned", e.Repo.MarkActioned)
}

type itemUpdate func(ctx context.Context, tx *sql.Tx, userID, id, now string) (bool, error)

func (e Engine) closeItem(ctx context.Context, userID, itemID, action string, update itemUpdate) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	item, err := e.Repo.GetAttentionItem(ctx, tx, userID, itemID)
	if err != nil {
		return wrapNotFound(err, "attention item", itemID)
	}
	ok, err := update(ctx, tx, userID, itemID, e.stamp())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := e.emit(ctx, tx, events.AttentionChanged, deref(item.ProjectID), events.KindAttention, item.ID, userID, events.EventPayload{
		"user_id": userID, action: true,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

type SweepReport struct {
	DueSoon int `json:"due_soon"`
	Overdue int `json:"overdue"`
}

// SweepDeadlines raises due-soon items for tasks due within the configured
// window and overdue items for tasks past their due date. Approved tasks are
// skipped. Keys carry the due date, so repeated sweeps refresh, not duplicate.
func (e Engine) SweepDeadlines(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	window := e.config().Inbox.DueSoonWindow.Duration
	if window <= 0 {
		window = 24 * time.Hour
	}
	today := recurrence.FormatDate(now)
	horizon := recurrence.FormatDate(now.Add(window))
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return report, err
	}
	defer tx.Rollback()
	soon, err := e.Repo.TasksDueBetween(ctx, tx, today, horizon)
	if err != nil {
		return report, err
	}
	late, err := e.Repo.TasksOverdue(ctx, tx, today)
	if err != nil {
		return report, err
	}
	for _, t := range soon {
		assignees, err := e.responsible(ctx, tx, t.ID)
		if err != nil {
			return report, err
		}
		report.DueSoon += e.notify(ctx, tx, inbox.DueSoon(inbox.RefOf(t), assignees))
	}
	for _, t := range late {
		assignees, err := e.responsible(ctx, tx, t.ID)
		if err != nil {
			return report, err
		}
		report.Overdue += e.notify(ctx, tx, inbox.Overdue(inbox.RefOf(t), assignees))
	}
	return report, tx.Commit()
}
