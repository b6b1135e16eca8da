// Package facade is the single entry point the HTTP API, MCP tools and CLI
// call. Each command runs with a per-request role cache, delegates to the
// engine, returns domain errors unchanged, and on success queues the email
// and chat side effects.
package facade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/engine/auth"
	"taskflow/internal/notify"
	"taskflow/internal/pin"
	"taskflow/internal/repo"
)

type Facade struct {
	Engine engine.Engine
	PIN    pin.Service
	Notify *notify.Dispatcher
	Log    *slog.Logger
}

func New(e engine.Engine, p pin.Service, d *notify.Dispatcher, log *slog.Logger) Facade {
	if log == nil {
		log = slog.Default()
	}
	return Facade{Engine: e, PIN: p, Notify: d, Log: log}
}

// scope attaches a role cache to ctx unless the caller already did, so that
// every authorization check within one request reads membership once.
func (f Facade) scope(ctx context.Context) context.Context {
	if auth.FromContext(ctx) != nil {
		return ctx
	}
	return auth.WithResolver(ctx, auth.NewResolver(f.Engine.Repo))
}

// WithRequest returns a context carrying a fresh role cache for one request.
func (f Facade) WithRequest(ctx context.Context) context.Context {
	return auth.WithResolver(ctx, auth.NewResolver(f.Engine.Repo))
}

func (f Facade) log() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}

func (f Facade) email(msg notify.EmailMessage, err error) {
	if err != nil {
		f.log().Warn("render email", "to", msg.To, "err", err)
		return
	}
	if msg.To == "" {
		return
	}
	if f.Notify == nil {
		f.log().Debug("email skipped, no dispatcher", "to", msg.To, "subject", msg.Subject)
		return
	}
	f.Notify.SendEmail(msg)
}

func (f Facade) displayName(ctx context.Context, userID string) string {
	u, err := f.Engine.Repo.GetUser(ctx, nil, userID)
	if err != nil {
		return userID
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Users

func (f Facade) EnsureUser(ctx context.Context, u domain.User) (domain.User, error) {
	return f.Engine.EnsureUser(f.scope(ctx), u)
}

func (f Facade) GetUser(ctx context.Context, id string) (domain.User, error) {
	return f.Engine.GetUser(ctx, id)
}

// Organizations and teams

func (f Facade) CreateOrg(ctx context.Context, actor, name, slug string) (domain.Organization, error) {
	return f.Engine.CreateOrg(f.scope(ctx), name, slug, actor)
}

func (f Facade) ListOrgs(ctx context.Context, actor string) ([]domain.Organization, error) {
	return f.Engine.ListOrgs(ctx, actor)
}

func (f Facade) ListOrgMembers(ctx context.Context, actor, orgID string) ([]domain.OrgMember, error) {
	return f.Engine.ListOrgMembers(f.scope(ctx), orgID, actor)
}

// AddOrgMember grants or changes a role. Newly added members get an
// invitation email.
func (f Facade) AddOrgMember(ctx context.Context, actor, orgID, userID string, role domain.Role) (domain.OrgMember, error) {
	ctx = f.scope(ctx)
	m, isNew, err := f.Engine.SetOrgMember(ctx, orgID, userID, role, actor)
	if err != nil || !isNew {
		return m, err
	}
	u, err := f.Engine.Repo.GetUser(ctx, nil, userID)
	if err != nil {
		f.log().Warn("invitation skipped", "user_id", userID, "err", err)
		return m, nil
	}
	org, err := f.Engine.Repo.GetOrg(ctx, nil, orgID)
	if err != nil {
		f.log().Warn("invitation skipped", "user_id", userID, "err", err)
		return m, nil
	}
	f.email(notify.InvitationEmail(notify.Invitation{
		To:      u.Email,
		Name:    f.displayName(ctx, userID),
		Inviter: f.displayName(ctx, actor),
		Org:     org.Name,
		Role:    string(role),
	}))
	return m, nil
}

func (f Facade) RemoveOrgMember(ctx context.Context, actor, orgID, userID string) error {
	return f.Engine.RemoveOrgMember(f.scope(ctx), orgID, userID, actor)
}

func (f Facade) CreateTeam(ctx context.Context, actor, orgID, name string) (domain.Team, error) {
	return f.Engine.CreateTeam(f.scope(ctx), orgID, name, actor)
}

func (f Facade) SetTeamMember(ctx context.Context, actor, teamID, userID string, role domain.TeamRole) error {
	return f.Engine.SetTeamMember(f.scope(ctx), teamID, userID, role, actor)
}

func (f Facade) OrgStats(ctx context.Context, actor, orgID string) (engine.OrgStats, error) {
	return f.Engine.OrgStats(f.scope(ctx), orgID, actor)
}

// Projects

func (f Facade) CreateProject(ctx context.Context, actor string, opts engine.ProjectOptions) (domain.Project, error) {
	opts.ActorID = actor
	return f.Engine.CreateProject(f.scope(ctx), opts)
}

func (f Facade) GetProject(ctx context.Context, actor, projectID string) (domain.Project, error) {
	return f.Engine.GetProject(f.scope(ctx), projectID, actor)
}

func (f Facade) ListProjects(ctx context.Context, actor string) ([]domain.Project, error) {
	return f.Engine.ListProjects(ctx, actor)
}

func (f Facade) DeleteProject(ctx context.Context, actor, projectID string) error {
	return f.Engine.DeleteProject(f.scope(ctx), projectID, actor)
}

func (f Facade) AddProjectMember(ctx context.Context, actor, projectID, userID string, role domain.Role) (domain.ProjectMember, error) {
	return f.Engine.SetProjectMember(f.scope(ctx), projectID, userID, role, actor)
}

func (f Facade) RemoveProjectMember(ctx context.Context, actor, projectID, userID string) error {
	return f.Engine.RemoveProjectMember(f.scope(ctx), projectID, userID, actor)
}

func (f Facade) ListProjectMembers(ctx context.Context, actor, projectID string) ([]domain.ProjectMember, error) {
	return f.Engine.ListProjectMembers(f.scope(ctx), projectID, actor)
}

func (f Facade) ConfigureStages(ctx context.Context, actor, projectID string, stages []domain.Stage) (domain.Project, error) {
	return f.Engine.ConfigureStages(f.scope(ctx), projectID, stages, actor)
}

func (f Facade) Board(ctx context.Context, actor, projectID string) (engine.Board, error) {
	return f.Engine.GetBoard(f.scope(ctx), projectID, actor)
}

func (f Facade) ProjectStats(ctx context.Context, actor, projectID string) (domain.ProjectStats, error) {
	return f.Engine.ProjectStats(f.scope(ctx), projectID, actor)
}

func (f Facade) CreateMilestone(ctx context.Context, actor string, opts engine.MilestoneOptions) (domain.Milestone, error) {
	opts.ActorID = actor
	return f.Engine.CreateMilestone(f.scope(ctx), opts)
}

func (f Facade) Changes(ctx context.Context, actor, projectID string, after int64, limit int) ([]domain.Event, error) {
	return f.Engine.Changes(f.scope(ctx), projectID, after, limit, actor)
}

func (f Facade) CriticalPath(ctx context.Context, actor, projectID string) ([]domain.Task, error) {
	return f.Engine.CriticalPath(f.scope(ctx), projectID, actor)
}

// Tasks

func (f Facade) CreateTask(ctx context.Context, actor string, opts engine.TaskOptions) (domain.Task, error) {
	opts.ActorID = actor
	return f.Engine.CreateTask(f.scope(ctx), opts)
}

func (f Facade) UpdateTask(ctx context.Context, actor, taskID string, patch engine.TaskPatch) (domain.Task, error) {
	return f.Engine.UpdateTask(f.scope(ctx), taskID, patch, actor)
}

func (f Facade) DeleteTask(ctx context.Context, actor, taskID string) error {
	return f.Engine.DeleteTask(f.scope(ctx), taskID, actor)
}

func (f Facade) GetTask(ctx context.Context, actor, taskID string) (engine.TaskDetail, error) {
	return f.Engine.TaskDetail(f.scope(ctx), taskID, actor)
}

func (f Facade) ListTasks(ctx context.Context, actor string, filters repo.TaskFilters) ([]domain.Task, error) {
	return f.Engine.ListTasks(f.scope(ctx), filters, actor)
}

func (f Facade) MoveTask(ctx context.Context, actor string, opts engine.MoveOptions) (engine.MoveResult, error) {
	opts.ActorID = actor
	return f.Engine.MoveTask(f.scope(ctx), opts)
}

// Approve completes a pending task and emails the user who submitted it.
func (f Facade) Approve(ctx context.Context, actor, taskID string) (domain.Task, error) {
	ctx = f.scope(ctx)
	t, err := f.Engine.Approve(ctx, taskID, actor)
	if err != nil {
		return t, err
	}
	if t.MovedToDoneBy != nil {
		f.decision(ctx, *t.MovedToDoneBy, actor, t.Title, true, "")
	}
	return t, nil
}

// Reject sends a pending task back and emails the user who submitted it.
func (f Facade) Reject(ctx context.Context, actor string, opts engine.RejectOptions) (engine.MoveResult, error) {
	ctx = f.scope(ctx)
	opts.ActorID = actor
	before, err := f.Engine.GetTask(ctx, opts.TaskID, actor)
	if err != nil {
		return engine.MoveResult{}, err
	}
	res, err := f.Engine.Reject(ctx, opts)
	if err != nil {
		return res, err
	}
	if before.MovedToDoneBy != nil {
		f.decision(ctx, *before.MovedToDoneBy, actor, res.Task.Title, false, opts.Reason)
	}
	return res, nil
}

func (f Facade) decision(ctx context.Context, submitter, actor, title string, approved bool, reason string) {
	if submitter == actor {
		return
	}
	u, err := f.Engine.Repo.GetUser(ctx, nil, submitter)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			f.log().Warn("decision email skipped", "user_id", submitter, "err", err)
		}
		return
	}
	f.email(notify.DecisionEmail(notify.Decision{
		To:       u.Email,
		Name:     f.displayName(ctx, submitter),
		Actor:    f.displayName(ctx, actor),
		Task:     title,
		Approved: approved,
		Reason:   reason,
	}))
}

func (f Facade) Assign(ctx context.Context, actor string, opts engine.AssignOptions) (domain.Assignment, error) {
	opts.ActorID = actor
	return f.Engine.Assign(f.scope(ctx), opts)
}

func (f Facade) Unassign(ctx context.Context, actor, taskID, userID string) error {
	return f.Engine.Unassign(f.scope(ctx), taskID, userID, actor)
}

// Dependencies

func (f Facade) AddDependency(ctx context.Context, actor string, opts engine.DependencyOptions) (domain.Dependency, error) {
	opts.ActorID = actor
	return f.Engine.AddDependency(f.scope(ctx), opts)
}

func (f Facade) RemoveDependency(ctx context.Context, actor, blockingID, blockedID string) error {
	return f.Engine.RemoveDependency(f.scope(ctx), blockingID, blockedID, actor)
}

func (f Facade) IsBlocked(ctx context.Context, actor, taskID string) (bool, error) {
	return f.Engine.IsBlocked(f.scope(ctx), taskID, actor)
}

// Recurrence

func (f Facade) SetRecurrence(ctx context.Context, actor string, opts engine.RecurrenceOptions) (domain.Recurrence, error) {
	opts.ActorID = actor
	return f.Engine.SetRecurrence(f.scope(ctx), opts)
}

func (f Facade) ClearRecurrence(ctx context.Context, actor, taskID string) error {
	return f.Engine.ClearRecurrence(f.scope(ctx), taskID, actor)
}

func (f Facade) Materialize(ctx context.Context, now time.Time) (engine.MaterializeReport, error) {
	return f.Engine.MaterializeRecurrences(ctx, now)
}

// Comments

func (f Facade) AddComment(ctx context.Context, actor, taskID, content string) (domain.Comment, error) {
	return f.Engine.AddComment(f.scope(ctx), taskID, content, actor)
}

func (f Facade) UpdateComment(ctx context.Context, actor, commentID, content string) (domain.Comment, error) {
	return f.Engine.UpdateComment(f.scope(ctx), commentID, content, actor)
}

func (f Facade) ListComments(ctx context.Context, actor, taskID string) ([]domain.Comment, error) {
	return f.Engine.ListComments(f.scope(ctx), taskID, actor)
}

// Inbox. The actor is always the owner of the items.

func (f Facade) Inbox(ctx context.Context, actor string, filters repo.InboxFilters) ([]domain.AttentionItem, error) {
	filters.UserID = actor
	return f.Engine.ListInbox(ctx, filters)
}

func (f Facade) UnreadCount(ctx context.Context, actor string) (int, error) {
	return f.Engine.UnreadCount(ctx, actor)
}

func (f Facade) MarkRead(ctx context.Context, actor string, ids []string) (int64, error) {
	return f.Engine.MarkRead(ctx, actor, ids)
}

func (f Facade) MarkAllRead(ctx context.Context, actor string) (int64, error) {
	return f.Engine.MarkAllRead(ctx, actor)
}

func (f Facade) Dismiss(ctx context.Context, actor, itemID string) error {
	return f.Engine.Dismiss(ctx, actor, itemID)
}

func (f Facade) MarkActioned(ctx context.Context, actor, itemID string) error {
	return f.Engine.MarkActioned(ctx, actor, itemID)
}

func (f Facade) Mentions(ctx context.Context, actor string, unreadOnly bool) ([]domain.Mention, error) {
	return f.Engine.Mentions(ctx, actor, unreadOnly)
}

func (f Facade) SweepDeadlines(ctx context.Context, now time.Time) (engine.SweepReport, error) {
	return f.Engine.SweepDeadlines(ctx, now)
}

// Password reset

// RequestPasswordReset issues a PIN for the user named by login (username or
// id) and emails it. Unknown logins succeed silently so the call cannot be
// used to probe for accounts.
func (f Facade) RequestPasswordReset(ctx context.Context, login string) error {
	u, err := f.lookupLogin(ctx, login)
	if errors.Is(err, repo.ErrNotFound) {
		f.log().Info("password reset for unknown login", "login", login)
		return nil
	}
	if err != nil {
		return err
	}
	issued, err := f.PIN.Issue(ctx, u.ID)
	if err != nil {
		return err
	}
	if u.Email == "" {
		f.log().Warn("password reset PIN not sent, no email", "user_id", u.ID)
		return nil
	}
	f.email(notify.PINEmail(notify.PINNotice{
		To:       u.Email,
		Name:     f.displayName(ctx, u.ID),
		Code:     issued.Code,
		Expires:  issued.ExpiresAt,
		Attempts: pin.MaxAttempts,
	}))
	return nil
}

func (f Facade) VerifyPasswordReset(ctx context.Context, login, code string) (domain.User, error) {
	u, err := f.lookupLogin(ctx, login)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, domain.ErrPinInvalid
	}
	if err != nil {
		return domain.User{}, err
	}
	if err := f.PIN.Verify(ctx, u.ID, code); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (f Facade) lookupLogin(ctx context.Context, login string) (domain.User, error) {
	u, err := f.Engine.Repo.GetUserByUsername(ctx, nil, login)
	if errors.Is(err, repo.ErrNotFound) {
		return f.Engine.Repo.GetUser(ctx, nil, login)
	}
	return u, err
}

// API keys

func (f Facade) CreateAPIKey(ctx context.Context, actor, name string) (domain.APIKey, string, error) {
	return f.Engine.CreateAPIKey(ctx, actor, name)
}

func (f Facade) ListAPIKeys(ctx context.Context, actor string) ([]domain.APIKey, error) {
	return f.Engine.ListAPIKeys(ctx, actor)
}

func (f Facade) DeleteAPIKey(ctx context.Context, actor, id string) error {
	return f.Engine.DeleteAPIKey(ctx, actor, id)
}
