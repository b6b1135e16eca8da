package domain

import "fmt"

// Role is an organization or project membership role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleReader Role = "reader"
)

// Rank orders roles; unknown roles rank below reader.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleReader:
		return 1
	}
	return 0
}

func (r Role) AtLeast(min Role) bool { return r.Rank() >= min.Rank() && r.Rank() > 0 }

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if r.Rank() == 0 {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidArgument, s)
	}
	return r, nil
}

type TeamRole string

const (
	TeamOwner  TeamRole = "owner"
	TeamAdmin  TeamRole = "admin"
	TeamMember TeamRole = "member"
)

// ProjectRole maps a team role onto the project role it grants on team projects.
func (r TeamRole) ProjectRole() Role {
	switch r {
	case TeamOwner, TeamAdmin:
		return RoleAdmin
	case TeamMember:
		return RoleEditor
	}
	return ""
}

func ParseTeamRole(s string) (TeamRole, error) {
	switch TeamRole(s) {
	case TeamOwner, TeamAdmin, TeamMember:
		return TeamRole(s), nil
	}
	return "", fmt.Errorf("%w: unknown team role %q", ErrInvalidArgument, s)
}

type Priority string

const (
	PriorityNone   Priority = "none"
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityNone, nil
	case PriorityNone, PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(s), nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, s)
}

type StageMode string

const (
	ModeWarning StageMode = "warning"
	ModeStrict  StageMode = "strict"
)

func (m StageMode) Valid() bool { return m == ModeWarning || m == ModeStrict }

type ApprovalStatus string

const (
	ApprovalNone     ApprovalStatus = "none"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type AssignmentRole string

const (
	AssignOwner        AssignmentRole = "owner"
	AssignAssignee     AssignmentRole = "assignee"
	AssignReviewer     AssignmentRole = "reviewer"
	AssignCollaborator AssignmentRole = "collaborator"
)

// Responsible reports whether the role counts as "the assignee" for notifications.
func (r AssignmentRole) Responsible() bool { return r == AssignOwner || r == AssignAssignee }

func ParseAssignmentRole(s string) (AssignmentRole, error) {
	switch AssignmentRole(s) {
	case "":
		return AssignAssignee, nil
	case AssignOwner, AssignAssignee, AssignReviewer, AssignCollaborator:
		return AssignmentRole(s), nil
	}
	return "", fmt.Errorf("%w: unknown assignment role %q", ErrInvalidArgument, s)
}

type DependencyType string

const (
	FinishToStart  DependencyType = "finish_to_start"
	StartToStart   DependencyType = "start_to_start"
	FinishToFinish DependencyType = "finish_to_finish"
	StartToFinish  DependencyType = "start_to_finish"
)

func ParseDependencyType(s string) (DependencyType, error) {
	switch DependencyType(s) {
	case "":
		return FinishToStart, nil
	case FinishToStart, StartToStart, FinishToFinish, StartToFinish:
		return DependencyType(s), nil
	}
	return "", fmt.Errorf("%w: unknown dependency type %q", ErrInvalidArgument, s)
}

type AttentionType string

const (
	AttentionMention      AttentionType = "mention"
	AttentionAssignment   AttentionType = "assignment"
	AttentionUnassignment AttentionType = "unassignment"
	AttentionDueSoon      AttentionType = "due_soon"
	AttentionOverdue      AttentionType = "overdue"
	AttentionComment      AttentionType = "comment"
	AttentionStatusChange AttentionType = "status_change"
)

type AttentionPriority string

const (
	AttentionUrgent AttentionPriority = "urgent"
	AttentionHigh   AttentionPriority = "high"
	AttentionNormal AttentionPriority = "normal"
	AttentionLow    AttentionPriority = "low"
)

type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
	Custom    Frequency = "custom"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Quarterly, Yearly, Custom:
		return true
	}
	return false
}

// TaskColors is the fixed palette a task color must come from.
var TaskColors = []string{"gray", "red", "orange", "yellow", "green", "teal", "blue", "purple", "pink"}

func ValidTaskColor(c string) bool {
	for _, v := range TaskColors {
		if v == c {
			return true
		}
	}
	return false
}
