package server

import (
	"taskflow/internal/domain"
	"taskflow/internal/engine"
)

// Request payloads

type CreateOrgRequest struct {
	Name string `json:"name" minLength:"1"`
	Slug string `json:"slug" pattern:"^[a-z0-9][a-z0-9-]{1,62}$"`
}

type RoleRequest struct {
	Role string `json:"role" enum:"owner,admin,editor,reader"`
}

type TeamRoleRequest struct {
	Role string `json:"role" enum:"owner,admin,member"`
}

type CreateTeamRequest struct {
	Name string `json:"name" minLength:"1"`
}

type StageRequest struct {
	ID       string `json:"id" minLength:"1"`
	Name     string `json:"name" minLength:"1"`
	Color    string `json:"color,omitempty"`
	WIPLimit *int   `json:"wip_limit,omitempty" minimum:"0"`
	WIPMode  string `json:"wip_mode,omitempty" enum:"warning,strict"`
	IsDone   bool   `json:"is_done_stage,omitempty"`
}

type CreateProjectRequest struct {
	OrgID       string         `json:"org_id"`
	TeamID      string         `json:"team_id,omitempty"`
	Name        string         `json:"name" minLength:"1"`
	Description string         `json:"description,omitempty"`
	Stages      []StageRequest `json:"stages,omitempty"`
}

type ConfigureStagesRequest struct {
	Stages []StageRequest `json:"stages" minItems:"1"`
}

type CreateMilestoneRequest struct {
	Name       string `json:"name" minLength:"1"`
	TargetDate string `json:"target_date,omitempty" format:"date"`
	Color      string `json:"color,omitempty"`
}

type CreateTaskRequest struct {
	Title          string   `json:"title" minLength:"1" maxLength:"500"`
	Description    string   `json:"description,omitempty"`
	Priority       string   `json:"priority,omitempty" enum:"none,low,medium,high,urgent"`
	StageID        string   `json:"stage_id,omitempty"`
	StartDate      string   `json:"start_date,omitempty" format:"date"`
	DueDate        string   `json:"due_date,omitempty" format:"date"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty" minimum:"0"`
	ParentID       string   `json:"parent_id,omitempty"`
	MilestoneID    string   `json:"milestone_id,omitempty"`
	Color          string   `json:"color,omitempty"`
	Assignees      []string `json:"assignees,omitempty"`
}

type UpdateTaskRequest struct {
	Title          *string  `json:"title,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Priority       *string  `json:"priority,omitempty" enum:"none,low,medium,high,urgent"`
	StartDate      *string  `json:"start_date,omitempty"`
	DueDate        *string  `json:"due_date,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	ClearEstimate  bool     `json:"clear_estimate,omitempty"`
	ParentID       *string  `json:"parent_id,omitempty"`
	MilestoneID    *string  `json:"milestone_id,omitempty"`
	Color          *string  `json:"color,omitempty"`
}

type MoveTaskRequest struct {
	ToStageID string `json:"to_stage_id" minLength:"1"`
	Index     *int   `json:"index,omitempty" minimum:"0"`
}

type RejectTaskRequest struct {
	ReturnStageID string `json:"return_stage_id" minLength:"1"`
	Reason        string `json:"reason,omitempty"`
}

type AssignRequest struct {
	Role string `json:"role,omitempty" enum:"owner,assignee,reviewer,collaborator"`
}

type AddDependencyRequest struct {
	BlockingTaskID string `json:"blocking_task_id" minLength:"1"`
	Type           string `json:"type,omitempty" enum:"finish_to_start,start_to_start,finish_to_finish,start_to_finish"`
	LagDays        int    `json:"lag_days,omitempty"`
}

type RecurrenceRequest struct {
	Frequency      string `json:"frequency" enum:"daily,weekly,biweekly,monthly,quarterly,yearly,custom"`
	Interval       int    `json:"interval,omitempty" minimum:"0"`
	DaysOfWeek     []int  `json:"days_of_week,omitempty"`
	DayOfMonth     *int   `json:"day_of_month,omitempty"`
	MonthOfYear    *int   `json:"month_of_year,omitempty"`
	StartDate      string `json:"start_date" format:"date"`
	EndDate        string `json:"end_date,omitempty" format:"date"`
	MaxOccurrences *int   `json:"max_occurrences,omitempty"`
}

type CommentRequest struct {
	Content string `json:"content" minLength:"1" maxLength:"10000"`
}

type MarkReadRequest struct {
	IDs []string `json:"ids" minItems:"1"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type PasswordResetRequest struct {
	Login string `json:"login" minLength:"1"`
}

type PasswordResetVerifyRequest struct {
	Login string `json:"login" minLength:"1"`
	Code  string `json:"code" pattern:"^[0-9]{6}$"`
}

// Response payloads

type MeResponse struct {
	User   domain.User `json:"user"`
	Source string      `json:"source"`
	Unread int         `json:"unread"`
}

type APIKeyResponse struct {
	Key    domain.APIKey `json:"key"`
	Secret string        `json:"secret,omitempty"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

type BlockedResponse struct {
	TaskID    string `json:"task_id"`
	IsBlocked bool   `json:"is_blocked"`
}

type ChangesResponse struct {
	Events []domain.Event `json:"events"`
	Cursor int64          `json:"cursor"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

func stages(in []StageRequest) []domain.Stage {
	if in == nil {
		return nil
	}
	out := make([]domain.Stage, 0, len(in))
	for _, s := range in {
		out = append(out, domain.Stage{
			ID:       s.ID,
			Name:     s.Name,
			Color:    s.Color,
			WIPLimit: s.WIPLimit,
			WIPMode:  domain.StageMode(s.WIPMode),
			IsDone:   s.IsDone,
		})
	}
	return out
}

func taskOptions(projectID string, req CreateTaskRequest) engine.TaskOptions {
	return engine.TaskOptions{
		ProjectID:      projectID,
		Title:          req.Title,
		Description:    req.Description,
		Priority:       req.Priority,
		StageID:        req.StageID,
		StartDate:      req.StartDate,
		DueDate:        req.DueDate,
		EstimatedHours: req.EstimatedHours,
		ParentID:       req.ParentID,
		MilestoneID:    req.MilestoneID,
		Color:          req.Color,
		Assignees:      req.Assignees,
	}
}

func taskPatch(req UpdateTaskRequest) engine.TaskPatch {
	return engine.TaskPatch{
		Title:          req.Title,
		Description:    req.Description,
		Priority:       req.Priority,
		StartDate:      req.StartDate,
		DueDate:        req.DueDate,
		EstimatedHours: req.EstimatedHours,
		ClearEstimate:  req.ClearEstimate,
		ParentID:       req.ParentID,
		MilestoneID:    req.MilestoneID,
		Color:          req.Color,
	}
}

func recurrenceOptions(taskID string, req RecurrenceRequest) engine.RecurrenceOptions {
	return engine.RecurrenceOptions{
		TaskID:         taskID,
		Frequency:      req.Frequency,
		Interval:       req.Interval,
		DaysOfWeek:     req.DaysOfWeek,
		DayOfMonth:     req.DayOfMonth,
		MonthOfYear:    req.MonthOfYear,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		MaxOccurrences: req.MaxOccurrences,
	}
}
