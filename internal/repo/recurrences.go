package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"taskflow/internal/domain"
)

const recurrenceColumns = `task_id,frequency,interval,days_of_week_json,day_of_month,month_of_year,start_date,end_date,max_occurrences,
occurrences_created,next_occurrence,is_active,created_at,updated_at`

func scanRecurrence(row rowScanner) (domain.Recurrence, error) {
	var rec domain.Recurrence
	var freq string
	var days, endDate, next sql.NullString
	var dom, moy, maxOcc sql.NullInt64
	var active int
	err := row.Scan(&rec.TaskID, &freq, &rec.Interval, &days, &dom, &moy, &rec.StartDate, &endDate, &maxOcc,
		&rec.OccurrencesCreated, &next, &active, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Frequency = domain.Frequency(freq)
	if days.Valid && days.String != "" {
		if err := json.Unmarshal([]byte(days.String), &rec.DaysOfWeek); err != nil {
			return rec, err
		}
	}
	rec.DayOfMonth = intPtr(dom)
	rec.MonthOfYear = intPtr(moy)
	rec.EndDate = stringPtr(endDate)
	rec.MaxOccurrences = intPtr(maxOcc)
	rec.NextOccurrence = stringPtr(next)
	rec.IsActive = active != 0
	return rec, nil
}

// UpsertRecurrence replaces the template's recurrence in full.
func (r Repo) UpsertRecurrence(ctx context.Context, tx *sql.Tx, rec domain.Recurrence) error {
	var days any
	if len(rec.DaysOfWeek) > 0 {
		s, err := marshalJSON(rec.DaysOfWeek)
		if err != nil {
			return err
		}
		days = s
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_recurrences(`+recurrenceColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(task_id) DO UPDATE SET frequency=excluded.frequency, interval=excluded.interval, days_of_week_json=excluded.days_of_week_json,
day_of_month=excluded.day_of_month, month_of_year=excluded.month_of_year, start_date=excluded.start_date, end_date=excluded.end_date,
max_occurrences=excluded.max_occurrences, occurrences_created=excluded.occurrences_created, next_occurrence=excluded.next_occurrence,
is_active=excluded.is_active, updated_at=excluded.updated_at`,
		rec.TaskID, string(rec.Frequency), rec.Interval, days, nullableIntPtr(rec.DayOfMonth), nullableIntPtr(rec.MonthOfYear),
		rec.StartDate, nullableStringPtr(rec.EndDate), nullableIntPtr(rec.MaxOccurrences), rec.OccurrencesCreated,
		nullableStringPtr(rec.NextOccurrence), boolInt(rec.IsActive), rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetRecurrence(ctx context.Context, tx *sql.Tx, taskID string) (domain.Recurrence, error) {
	return scanRecurrence(r.q(tx).QueryRowContext(ctx, `SELECT `+recurrenceColumns+` FROM task_recurrences WHERE task_id=?`, taskID))
}

func (r Repo) DeleteRecurrence(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM task_recurrences WHERE task_id=?`, taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DueRecurrences lists active recurrences whose next occurrence is on or before the date.
func (r Repo) DueRecurrences(ctx context.Context, tx *sql.Tx, onOrBefore string) ([]domain.Recurrence, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+recurrenceColumns+` FROM task_recurrences
WHERE is_active=1 AND next_occurrence IS NOT NULL AND next_occurrence<=? ORDER BY next_occurrence, task_id`, onOrBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Recurrence
	for rows.Next() {
		rec, err := scanRecurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
