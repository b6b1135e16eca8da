package repo

import (
	"context"
	"database/sql"

	"taskflow/internal/domain"
)

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var ev domain.Event
		var projectID, entityID, payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &projectID, &ev.EntityKind, &entityID, &ev.ActorID, &payload); err != nil {
			return nil, err
		}
		ev.ProjectID = projectID.String
		ev.EntityID = entityID.String
		ev.Payload = payload.String
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EventsAfter pages forward through the log from cursor (exclusive). An empty
// projectID reads every project.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>?`
	args := []any{cursor}
	if projectID != "" {
		query += ` AND project_id=?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsForEntity returns an entity's history, oldest first.
func (r Repo) EventsForEntity(ctx context.Context, entityKind, entityID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events
WHERE entity_kind=? AND entity_id=? ORDER BY id ASC LIMIT ?`, entityKind, entityID, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id=?`
		args = append(args, projectID)
	}
	var id int64
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

// RelayCursor returns the last event id a named consumer has handled.
func (r Repo) RelayCursor(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT event_id FROM relay_cursors WHERE name=?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	return id, err == nil, err
}

func (r Repo) SetRelayCursor(ctx context.Context, name string, eventID int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO relay_cursors(name,event_id) VALUES (?,?)
ON CONFLICT(name) DO UPDATE SET event_id=excluded.event_id`, name, eventID)
	return err
}
