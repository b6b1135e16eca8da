package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the change feed.
const (
	OrgCreated             = "org.created"
	OrgMemberSet           = "org.member.set"
	OrgMemberRemoved       = "org.member.removed"
	TeamCreated            = "team.created"
	TeamMemberSet          = "team.member.set"
	ProjectCreated         = "project.created"
	ProjectDeleted         = "project.deleted"
	ProjectMemberSet       = "project.member.set"
	StagesConfigured       = "project.stages.configured"
	TaskCreated            = "task.created"
	TaskUpdated            = "task.updated"
	TaskDeleted            = "task.deleted"
	TaskMoved              = "task.moved"
	ApprovalRequested      = "task.approval_requested"
	TaskApproved           = "task.approved"
	TaskRejected           = "task.rejected"
	TaskAssigned           = "task.assigned"
	TaskUnassigned         = "task.unassigned"
	DependencyAdded        = "dependency.added"
	DependencyRemoved      = "dependency.removed"
	CommentAdded           = "comment.added"
	CommentUpdated         = "comment.updated"
	MilestoneCreated       = "milestone.created"
	RecurrenceSet          = "recurrence.set"
	RecurrenceCleared      = "recurrence.cleared"
	RecurrenceMaterialized = "recurrence.materialized"
	AttentionChanged       = "attention.changed"
)

// Entity kinds name the table an event refers to.
const (
	KindOrganization = "organizations"
	KindTeam         = "teams"
	KindProject      = "projects"
	KindTask         = "tasks"
	KindDependency   = "task_dependencies"
	KindAssignment   = "task_assignments"
	KindComment      = "comments"
	KindMilestone    = "milestones"
	KindRecurrence   = "task_recurrences"
	KindAttention    = "attention_items"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction so it commits with the change.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(projectID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
