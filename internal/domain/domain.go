package domain

// Timestamps are RFC3339 UTC strings; calendar dates use DateLayout.
const DateLayout = "2006-01-02"

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type OrgMember struct {
	OrgID     string `json:"org_id"`
	UserID    string `json:"user_id"`
	Role      Role   `json:"role" enum:"owner,admin,editor,reader"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Team struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TeamMembership struct {
	TeamID    string   `json:"team_id"`
	UserID    string   `json:"user_id"`
	Role      TeamRole `json:"role" enum:"owner,admin,member"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

// User mirrors the identity provider's profile so mentions and email can resolve.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID              string  `json:"id"`
	OrgID           string  `json:"org_id"`
	TeamID          *string `json:"team_id,omitempty"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	Stages          []Stage `json:"stages"`
	WorkflowVersion int     `json:"workflow_version"`
	CreatedBy       string  `json:"created_by"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

// TerminalStage returns the unique done stage.
func (p Project) TerminalStage() (Stage, bool) {
	for _, s := range p.Stages {
		if s.IsDone {
			return s, true
		}
	}
	return Stage{}, false
}

// Stage looks up a stage by id.
func (p Project) Stage(id string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

// FirstOpenStage returns the first non-terminal stage in board order.
func (p Project) FirstOpenStage() (Stage, bool) {
	for _, s := range p.Stages {
		if !s.IsDone {
			return s, true
		}
	}
	return Stage{}, false
}

type ProjectMember struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	Role      Role   `json:"role" enum:"owner,admin,editor,reader"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Stage struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Color    string    `json:"color,omitempty"`
	WIPLimit *int      `json:"wip_limit,omitempty"`
	WIPMode  StageMode `json:"wip_mode" enum:"warning,strict"`
	IsDone   bool      `json:"is_done_stage"`
}

type Task struct {
	ID                   string         `json:"id"`
	ProjectID            string         `json:"project_id"`
	Title                string         `json:"title"`
	Description          string         `json:"description,omitempty"`
	Priority             Priority       `json:"priority" enum:"none,low,medium,high,urgent"`
	StageID              string         `json:"stage_id"`
	Position             int            `json:"position"`
	StartDate            *string        `json:"start_date,omitempty" format:"date"`
	DueDate              *string        `json:"due_date,omitempty" format:"date"`
	EstimatedHours       *float64       `json:"estimated_hours,omitempty"`
	ParentID             *string        `json:"parent_id,omitempty"`
	MilestoneID          *string        `json:"milestone_id,omitempty"`
	Color                *string        `json:"color,omitempty"`
	CreatedBy            string         `json:"created_by"`
	CreatedAt            string         `json:"created_at" format:"date-time"`
	UpdatedAt            string         `json:"updated_at" format:"date-time"`
	ApprovalStatus       ApprovalStatus `json:"approval_status" enum:"none,pending,approved,rejected"`
	MovedToDoneAt        *string        `json:"moved_to_done_at,omitempty" format:"date-time"`
	MovedToDoneBy        *string        `json:"moved_to_done_by,omitempty"`
	ApprovedAt           *string        `json:"approved_at,omitempty" format:"date-time"`
	ApprovedBy           *string        `json:"approved_by,omitempty"`
	RejectedAt           *string        `json:"rejected_at,omitempty" format:"date-time"`
	RejectedBy           *string        `json:"rejected_by,omitempty"`
	RejectionReason      *string        `json:"rejection_reason,omitempty"`
	CompletedAt          *string        `json:"completed_at,omitempty" format:"date-time"`
	ChatThreadRef        *string        `json:"chat_thread_ref,omitempty"`
	ChatThreadDay        *string        `json:"chat_thread_day,omitempty" format:"date"`
	RecurrenceTemplateID *string        `json:"recurrence_template_id,omitempty"`
	RecurrenceDate       *string        `json:"recurrence_date,omitempty" format:"date"`
}

func (t Task) IsSubtask() bool { return t.ParentID != nil && *t.ParentID != "" }

type Assignment struct {
	TaskID     string         `json:"task_id"`
	UserID     string         `json:"user_id"`
	Role       AssignmentRole `json:"role" enum:"owner,assignee,reviewer,collaborator"`
	AssignedBy string         `json:"assigned_by"`
	AssignedAt string         `json:"assigned_at" format:"date-time"`
}

type Dependency struct {
	ID             int64          `json:"id"`
	BlockingTaskID string         `json:"blocking_task_id"`
	BlockedTaskID  string         `json:"blocked_task_id"`
	Type           DependencyType `json:"type" enum:"finish_to_start,start_to_start,finish_to_finish,start_to_finish"`
	LagDays        int            `json:"lag_days"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
}

// LinkedTask is one end of a dependency edge with its completion state resolved.
type LinkedTask struct {
	TaskID         string         `json:"task_id"`
	ProjectID      string         `json:"project_id"`
	Title          string         `json:"title"`
	StageID        string         `json:"stage_id"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	Type           DependencyType `json:"type"`
	LagDays        int            `json:"lag_days"`
	Complete       bool           `json:"complete"`
	Redacted       bool           `json:"redacted,omitempty"`
}

type Milestone struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	Name        string  `json:"name"`
	TargetDate  *string `json:"target_date,omitempty" format:"date"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	Color       string  `json:"color,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID        string   `json:"id"`
	TaskID    string   `json:"task_id"`
	ProjectID string   `json:"project_id"`
	AuthorID  string   `json:"author_id"`
	Content   string   `json:"content"`
	Mentions  []string `json:"mentions"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

type Recurrence struct {
	TaskID             string    `json:"task_id"`
	Frequency          Frequency `json:"frequency" enum:"daily,weekly,biweekly,monthly,quarterly,yearly,custom"`
	Interval           int       `json:"interval"`
	DaysOfWeek         []int     `json:"days_of_week,omitempty"`
	DayOfMonth         *int      `json:"day_of_month,omitempty"`
	MonthOfYear        *int      `json:"month_of_year,omitempty"`
	StartDate          string    `json:"start_date" format:"date"`
	EndDate            *string   `json:"end_date,omitempty" format:"date"`
	MaxOccurrences     *int      `json:"max_occurrences,omitempty"`
	OccurrencesCreated int       `json:"occurrences_created"`
	NextOccurrence     *string   `json:"next_occurrence,omitempty" format:"date"`
	IsActive           bool      `json:"is_active"`
	CreatedAt          string    `json:"created_at" format:"date-time"`
	UpdatedAt          string    `json:"updated_at" format:"date-time"`
}

type AttentionItem struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Type        AttentionType     `json:"type" enum:"mention,assignment,unassignment,due_soon,overdue,comment,status_change"`
	Priority    AttentionPriority `json:"priority" enum:"urgent,high,normal,low"`
	Title       string            `json:"title"`
	Body        string            `json:"body,omitempty"`
	TaskID      *string           `json:"task_id,omitempty"`
	CommentID   *string           `json:"comment_id,omitempty"`
	MentionID   *string           `json:"mention_id,omitempty"`
	ProjectID   *string           `json:"project_id,omitempty"`
	ActorID     *string           `json:"actor_id,omitempty"`
	DedupKey    string            `json:"dedup_key"`
	ReadAt      *string           `json:"read_at,omitempty" format:"date-time"`
	DismissedAt *string           `json:"dismissed_at,omitempty" format:"date-time"`
	ActionedAt  *string           `json:"actioned_at,omitempty" format:"date-time"`
	CreatedAt   string            `json:"created_at" format:"date-time"`
	UpdatedAt   string            `json:"updated_at" format:"date-time"`
}

type Mention struct {
	ID              string  `json:"id"`
	MentionedUserID string  `json:"mentioned_user_id"`
	MentionerUserID string  `json:"mentioner_user_id"`
	TaskID          *string `json:"task_id,omitempty"`
	CommentID       *string `json:"comment_id,omitempty"`
	Context         string  `json:"context,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	ReadAt          *string `json:"read_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type PasswordResetPIN struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	CodeHash      string  `json:"-"`
	Attempts      int     `json:"attempts"`
	ExpiresAt     string  `json:"expires_at" format:"date-time"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	VerifiedAt    *string `json:"verified_at,omitempty" format:"date-time"`
	InvalidatedAt *string `json:"invalidated_at,omitempty" format:"date-time"`
}

// ProjectStats reports counts derived from the approval lifecycle.
type ProjectStats struct {
	ProjectID string         `json:"project_id"`
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Pending   int            `json:"pending"`
	Rejected  int            `json:"rejected"`
	ByStage   map[string]int `json:"by_stage"`
}
