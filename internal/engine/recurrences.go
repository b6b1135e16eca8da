package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskflow/internal/domain"
	"taskflow/internal/events"
	"taskflow/internal/recurrence"
	"taskflow/internal/repo"
)

// instanceNamespace seeds the deterministic ids of materialized occurrences.
var instanceNamespace = uuid.MustParse("6f1b8a52-4d0e-4a55-9a3e-2f7c1c9d0b11")

type RecurrenceOptions struct {
	TaskID         string
	Frequency      string
	Interval       int
	DaysOfWeek     []int
	DayOfMonth     *int
	MonthOfYear    *int
	StartDate      string
	EndDate        string
	MaxOccurrences *int
	ActorID        string
}

// SetRecurrence makes a task the template of a series anchored at StartDate.
// Replacing an existing rule restarts the series count.
func (e Engine) SetRecurrence(ctx context.Context, opts RecurrenceOptions) (domain.Recurrence, error) {
	interval := opts.Interval
	if interval == 0 {
		interval = 1
	}
	rec := domain.Recurrence{
		TaskID:         opts.TaskID,
		Frequency:      domain.Frequency(opts.Frequency),
		Interval:       interval,
		DaysOfWeek:     opts.DaysOfWeek,
		DayOfMonth:     opts.DayOfMonth,
		MonthOfYear:    opts.MonthOfYear,
		StartDate:      opts.StartDate,
		EndDate:        optionalString(opts.EndDate),
		MaxOccurrences: opts.MaxOccurrences,
		IsActive:       true,
	}
	if rec.MaxOccurrences != nil && *rec.MaxOccurrences <= 0 {
		return rec, fmt.Errorf("%w: max occurrences must be positive", domain.ErrRecurrenceInvalid)
	}
	spec, err := recurrence.FromRecord(rec)
	if err != nil {
		return rec, err
	}
	if next, ok := recurrence.NextAfter(spec.Start, spec); ok {
		s := recurrence.FormatDate(next)
		rec.NextOccurrence = &s
	} else {
		rec.IsActive = false
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rec, err
	}
	defer tx.Rollback()
	t, _, err := e.loadTask(ctx, tx, opts.TaskID, opts.ActorID, domain.RoleEditor)
	if err != nil {
		return rec, err
	}
	if t.IsSubtask() {
		return rec, fmt.Errorf("%w: subtasks cannot recur", domain.ErrRecurrenceInvalid)
	}
	now := e.stamp()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if existing, err := e.Repo.GetRecurrence(ctx, tx, t.ID); err == nil {
		rec.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, repo.ErrNotFound) {
		return rec, err
	}
	if err := e.Repo.UpsertRecurrence(ctx, tx, rec); err != nil {
		return rec, err
	}
	if err := e.emit(ctx, tx, events.RecurrenceSet, t.ProjectID, events.KindRecurrence, t.ID, opts.ActorID, events.EventPayload{
		"frequency": rec.Frequency, "interval": rec.Interval, "next_occurrence": deref(rec.NextOccurrence),
	}); err != nil {
		return rec, err
	}
	return rec, tx.Commit()
}

func (e Engine) ClearRecurrence(ctx context.Context, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleEditor)
	if err != nil {
		return err
	}
	existed, err := e.Repo.DeleteRecurrence(ctx, tx, taskID)
	if err != nil || !existed {
		return err
	}
	if err := e.emit(ctx, tx, events.RecurrenceCleared, t.ProjectID, events.KindRecurrence, t.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetRecurrence(ctx context.Context, taskID, actorID string) (domain.Recurrence, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Recurrence{}, err
	}
	defer tx.Rollback()
	if _, _, err := e.loadTask(ctx, tx, taskID, actorID, domain.RoleReader); err != nil {
		return domain.Recurrence{}, err
	}
	rec, err := e.Repo.GetRecurrence(ctx, tx, taskID)
	return rec, wrapNotFound(err, "recurrence", taskID)
}

type MaterializeReport struct {
	Created     []string `json:"created"`
	Deactivated int      `json:"deactivated"`
}

// MaterializeRecurrences creates the task instances of every occurrence due
// on or before now. Each template produces at most recurrence.max_catch_up
// instances per run; the rest wait for the next run. Instances are keyed on
// (template, date) so re-running never duplicates. A failing template is
// rolled back to its savepoint, logged and skipped.
func (e Engine) MaterializeRecurrences(ctx context.Context, now time.Time) (MaterializeReport, error) {
	var report MaterializeReport
	today := recurrence.FormatDate(now)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return report, err
	}
	defer tx.Rollback()
	due, err := e.Repo.DueRecurrences(ctx, tx, today)
	if err != nil {
		return report, err
	}
	limit := e.config().Recurrence.MaxCatchUp
	if limit <= 0 {
		limit = 1
	}
	for i, rec := range due {
		sp := fmt.Sprintf("recurrence_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return MaterializeReport{}, err
		}
		created, err := e.materialize(ctx, tx, &rec, today, limit)
		if err != nil {
			e.log().Warn("recurrence skipped", "task_id", rec.TaskID, "err", err)
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
				return MaterializeReport{}, rbErr
			}
		} else {
			report.Created = append(report.Created, created...)
			if !rec.IsActive {
				report.Deactivated++
			}
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
			return MaterializeReport{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return MaterializeReport{}, err
	}
	if len(report.Created) > 0 || report.Deactivated > 0 {
		e.log().Info("recurrences materialized", "created", len(report.Created), "deactivated", report.Deactivated)
	}
	return report, nil
}

func (e Engine) materialize(ctx context.Context, tx *sql.Tx, rec *domain.Recurrence, today string, limit int) ([]string, error) {
	tmpl, err := e.Repo.GetTask(ctx, tx, rec.TaskID)
	if err != nil {
		return nil, err
	}
	p, err := e.Repo.GetProject(ctx, tx, tmpl.ProjectID)
	if err != nil {
		return nil, err
	}
	stage, ok := p.FirstOpenStage()
	if !ok {
		return nil, fmt.Errorf("%w: project %s has no open stage", domain.ErrStageConfigInvalid, p.ID)
	}
	spec, err := recurrence.FromRecord(*rec)
	if err != nil {
		return nil, err
	}
	assignments, err := e.Repo.ListAssignments(ctx, tx, tmpl.ID)
	if err != nil {
		return nil, err
	}
	var created []string
	for i := 0; i < limit && rec.IsActive && rec.NextOccurrence != nil && *rec.NextOccurrence <= today; i++ {
		date := *rec.NextOccurrence
		exists, err := e.Repo.RecurrenceInstanceExists(ctx, tx, tmpl.ID, date)
		if err != nil {
			return created, err
		}
		if !exists {
			id, err := e.createInstance(ctx, tx, tmpl, stage, date, assignments)
			if err != nil {
				return created, err
			}
			created = append(created, id)
			rec.OccurrencesCreated++
		}
		spec.OccurrencesCreated = rec.OccurrencesCreated
		occurrence, _ := recurrence.ParseDate(date)
		if next, ok := recurrence.NextAfter(occurrence, spec); ok {
			s := recurrence.FormatDate(next)
			rec.NextOccurrence = &s
		} else {
			rec.NextOccurrence = nil
			rec.IsActive = false
		}
	}
	rec.UpdatedAt = e.stamp()
	if err := e.Repo.UpsertRecurrence(ctx, tx, *rec); err != nil {
		return created, err
	}
	return created, nil
}

func (e Engine) createInstance(ctx context.Context, tx *sql.Tx, tmpl domain.Task, stage domain.Stage, date string, assignments []domain.Assignment) (string, error) {
	now := e.stamp()
	t := domain.Task{
		ID:                   uuid.NewSHA1(instanceNamespace, []byte(tmpl.ID+"|"+date)).String(),
		ProjectID:            tmpl.ProjectID,
		Title:                tmpl.Title,
		Description:          tmpl.Description,
		Priority:             tmpl.Priority,
		StageID:              stage.ID,
		DueDate:              &date,
		EstimatedHours:       tmpl.EstimatedHours,
		MilestoneID:          tmpl.MilestoneID,
		Color:                tmpl.Color,
		CreatedBy:            tmpl.CreatedBy,
		CreatedAt:            now,
		UpdatedAt:            now,
		ApprovalStatus:       domain.ApprovalNone,
		RecurrenceTemplateID: &tmpl.ID,
		RecurrenceDate:       &date,
	}
	if err := e.insertTask(ctx, tx, &t, SystemActor); err != nil {
		return "", err
	}
	for _, a := range assignments {
		if _, err := e.assign(ctx, tx, t, a.UserID, a.Role, SystemActor); err != nil {
			e.log().Warn("recurring assignment skipped", "task_id", t.ID, "user_id", a.UserID, "err", err)
		}
	}
	if err := e.emit(ctx, tx, events.RecurrenceMaterialized, t.ProjectID, events.KindRecurrence, tmpl.ID, SystemActor, events.EventPayload{
		"instance_id": t.ID, "date": date,
	}); err != nil {
		return "", err
	}
	return t.ID, nil
}
