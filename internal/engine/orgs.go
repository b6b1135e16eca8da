package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"taskflow/internal/domain"
	"taskflow/internal/events"
	"taskflow/internal/mention"
	"taskflow/internal/repo"
)

var slugRE = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

// EnsureUser mirrors an identity-provider profile so mentions and email resolve.
func (e Engine) EnsureUser(ctx context.Context, u domain.User) (domain.User, error) {
	if strings.TrimSpace(u.ID) == "" {
		return u, fmt.Errorf("%w: user id required", domain.ErrInvalidArgument)
	}
	u.Username = mention.Normalize(u.Username)
	if u.Username == "" {
		u.Username = mention.Normalize(u.ID)
	}
	if mention.Extract("@"+u.Username) == nil || mention.Extract("@"+u.Username)[0] != u.Username {
		return u, fmt.Errorf("%w: username %q cannot be mentioned", domain.ErrInvalidArgument, u.Username)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return u, err
	}
	defer tx.Rollback()
	existing, err := e.Repo.GetUser(ctx, tx, u.ID)
	switch {
	case err == nil:
		u.CreatedAt = existing.CreatedAt
	case errors.Is(err, repo.ErrNotFound):
		u.CreatedAt = e.stamp()
	default:
		return u, err
	}
	if err := e.Repo.UpsertUser(ctx, tx, u); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return u, fmt.Errorf("%w: username %s taken", domain.ErrAlreadyExists, u.Username)
		}
		return u, err
	}
	return u, tx.Commit()
}

func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, nil, id)
	return u, wrapNotFound(err, "user", id)
}

// CreateOrg creates an organization owned by the actor.
func (e Engine) CreateOrg(ctx context.Context, name, slug, actorID string) (domain.Organization, error) {
	name = strings.TrimSpace(name)
	slug = strings.ToLower(strings.TrimSpace(slug))
	if name == "" {
		return domain.Organization{}, fmt.Errorf("%w: name required", domain.ErrInvalidArgument)
	}
	if !slugRE.MatchString(slug) {
		return domain.Organization{}, fmt.Errorf("%w: slug %q must be 2-63 lowercase letters, digits or dashes", domain.ErrInvalidArgument, slug)
	}
	if actorID == "" {
		return domain.Organization{}, fmt.Errorf("%w: actor required", domain.ErrForbidden)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()
	taken, err := e.Repo.SlugTaken(ctx, tx, slug)
	if err != nil {
		return domain.Organization{}, err
	}
	if taken {
		return domain.Organization{}, fmt.Errorf("%w: slug %s", domain.ErrAlreadyExists, slug)
	}
	o := domain.Organization{ID: uuid.NewString(), Name: name, Slug: slug, CreatedBy: actorID, CreatedAt: e.stamp()}
	if err := e.Repo.InsertOrg(ctx, tx, o); err != nil {
		return o, err
	}
	if err := e.Repo.SetOrgRole(ctx, tx, o.ID, actorID, domain.RoleOwner, o.CreatedAt); err != nil {
		return o, wrapMissingUser(err, actorID)
	}
	if err := e.emit(ctx, tx, events.OrgCreated, "", events.KindOrganization, o.ID, actorID, events.EventPayload{"slug": o.Slug}); err != nil {
		return o, err
	}
	return o, tx.Commit()
}

func (e Engine) ListOrgs(ctx context.Context, actorID string) ([]domain.Organization, error) {
	return e.Repo.ListOrgsForUser(ctx, nil, actorID)
}

func (e Engine) ListOrgMembers(ctx context.Context, orgID, actorID string) ([]domain.OrgMember, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.requireOrg(ctx, tx, orgID, actorID, domain.RoleReader); err != nil {
		return nil, err
	}
	return e.Repo.ListOrgMembers(ctx, tx, orgID)
}

// SetOrgMember adds a member or changes their role. Admins manage members;
// only owners grant or revoke ownership.
func (e Engine) SetOrgMember(ctx context.Context, orgID, userID string, role domain.Role, actorID string) (domain.OrgMember, bool, error) {
	if role.Rank() == 0 {
		return domain.OrgMember{}, false, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidArgument, role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.OrgMember{}, false, err
	}
	defer tx.Rollback()
	actorRole, err := e.requireOrg(ctx, tx, orgID, actorID, domain.RoleAdmin)
	if err != nil {
		return domain.OrgMember{}, false, err
	}
	current, err := e.Repo.OrgRole(ctx, tx, orgID, userID)
	isNew := errors.Is(err, repo.ErrNotFound)
	if err != nil && !isNew {
		return domain.OrgMember{}, false, err
	}
	if (role == domain.RoleOwner || current == domain.RoleOwner) && actorRole != domain.RoleOwner {
		return domain.OrgMember{}, false, fmt.Errorf("%w: only owners manage ownership", domain.ErrForbidden)
	}
	if current == domain.RoleOwner && role != domain.RoleOwner {
		if err := e.ensureAnotherOwner(ctx, tx, orgID); err != nil {
			return domain.OrgMember{}, false, err
		}
	}
	m := domain.OrgMember{OrgID: orgID, UserID: userID, Role: role, CreatedAt: e.stamp()}
	if err := e.Repo.SetOrgRole(ctx, tx, orgID, userID, role, m.CreatedAt); err != nil {
		return m, false, wrapMissingUser(err, userID)
	}
	if err := e.emit(ctx, tx, events.OrgMemberSet, "", events.KindOrganization, orgID, actorID, events.EventPayload{
		"user_id": userID, "role": role, "previous": current,
	}); err != nil {
		return m, false, err
	}
	e.resolver(ctx).Forget()
	return m, isNew, tx.Commit()
}

// RemoveOrgMember removes a member; members may always remove themselves.
func (e Engine) RemoveOrgMember(ctx context.Context, orgID, userID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	min := domain.RoleAdmin
	if userID == actorID {
		min = domain.RoleReader
	}
	actorRole, err := e.requireOrg(ctx, tx, orgID, actorID, min)
	if err != nil {
		return err
	}
	current, err := e.Repo.OrgRole(ctx, tx, orgID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current == domain.RoleOwner {
		if actorRole != domain.RoleOwner {
			return fmt.Errorf("%w: only owners remove owners", domain.ErrForbidden)
		}
		if err := e.ensureAnotherOwner(ctx, tx, orgID); err != nil {
			return err
		}
	}
	if err := e.Repo.RemoveOrgMember(ctx, tx, orgID, userID); err != nil {
		return err
	}
	if err := e.emit(ctx, tx, events.OrgMemberRemoved, "", events.KindOrganization, orgID, actorID, events.EventPayload{"user_id": userID}); err != nil {
		return err
	}
	e.resolver(ctx).Forget()
	return tx.Commit()
}

func (e Engine) ensureAnotherOwner(ctx context.Context, tx *sql.Tx, orgID string) error {
	n, err := e.Repo.CountOrgOwners(ctx, tx, orgID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return domain.ErrLastOwner
	}
	return nil
}

func (e Engine) CreateTeam(ctx context.Context, orgID, name, actorID string) (domain.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Team{}, fmt.Errorf("%w: name required", domain.ErrInvalidArgument)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Team{}, err
	}
	defer tx.Rollback()
	if _, err := e.requireOrg(ctx, tx, orgID, actorID, domain.RoleAdmin); err != nil {
		return domain.Team{}, err
	}
	t := domain.Team{ID: uuid.NewString(), OrgID: orgID, Name: name, CreatedBy: actorID, CreatedAt: e.stamp()}
	if err := e.Repo.InsertTeam(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Repo.SetTeamRole(ctx, tx, t.ID, actorID, domain.TeamOwner, t.CreatedAt); err != nil {
		return t, err
	}
	if err := e.emit(ctx, tx, events.TeamCreated, "", events.KindTeam, t.ID, actorID, events.EventPayload{"org_id": orgID, "name": name}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// SetTeamMember is allowed to organization admins and team owners/admins.
func (e Engine) SetTeamMember(ctx context.Context, teamID, userID string, role domain.TeamRole, actorID string) error {
	if _, err := domain.ParseTeamRole(string(role)); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	team, err := e.Repo.GetTeam(ctx, tx, teamID)
	if err != nil {
		return wrapNotFound(err, "team", teamID)
	}
	orgRole, err := e.resolver(ctx).OrgRole(ctx, tx, team.OrgID, actorID)
	if err != nil {
		return err
	}
	if !orgRole.AtLeast(domain.RoleAdmin) {
		teamRole, err := e.Repo.TeamRole(ctx, tx, teamID, actorID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if teamRole != domain.TeamOwner && teamRole != domain.TeamAdmin {
			if orgRole == "" {
				return fmt.Errorf("%w: team %s", domain.ErrNotFound, teamID)
			}
			return fmt.Errorf("%w: team admin required", domain.ErrForbidden)
		}
	}
	now := e.stamp()
	if err := e.Repo.SetTeamRole(ctx, tx, teamID, userID, role, now); err != nil {
		return wrapMissingUser(err, userID)
	}
	if err := e.emit(ctx, tx, events.TeamMemberSet, "", events.KindTeam, teamID, actorID, events.EventPayload{"user_id": userID, "role": role}); err != nil {
		return err
	}
	e.resolver(ctx).Forget()
	return tx.Commit()
}

// ProjectOptions describe a new project. Nil Stages uses the configured default workflow.
type ProjectOptions struct {
	OrgID       string
	TeamID      string
	Name        string
	Description string
	Stages      []domain.Stage
	ActorID     string
}

// CreateProject requires editor on the organization, or an admin seat on the team.
func (e Engine) CreateProject(ctx context.Context, opts ProjectOptions) (domain.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, fmt.Errorf("%w: name required", domain.ErrInvalidArgument)
	}
	stages := opts.Stages
	if stages == nil {
		stages = e.config().Stages()
	}
	stages, err := e.validateStages(stages)
	if err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	orgRole, err := e.resolver(ctx).OrgRole(ctx, tx, opts.OrgID, opts.ActorID)
	if err != nil {
		return domain.Project{}, err
	}
	allowed := orgRole.AtLeast(domain.RoleEditor)
	if opts.TeamID != "" {
		team, err := e.Repo.GetTeam(ctx, tx, opts.TeamID)
		if err != nil {
			return domain.Project{}, wrapNotFound(err, "team", opts.TeamID)
		}
		if team.OrgID != opts.OrgID {
			return domain.Project{}, fmt.Errorf("%w: team %s belongs to another organization", domain.ErrInvalidArgument, team.ID)
		}
		teamRole, err := e.Repo.TeamRole(ctx, tx, team.ID, opts.ActorID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return domain.Project{}, err
		}
		allowed = allowed || teamRole.ProjectRole().AtLeast(domain.RoleAdmin)
	}
	if !allowed {
		if orgRole == "" {
			return domain.Project{}, fmt.Errorf("%w: organization %s", domain.ErrNotFound, opts.OrgID)
		}
		return domain.Project{}, fmt.Errorf("%w: editor role required to create projects", domain.ErrForbidden)
	}
	p := domain.Project{
		ID:              uuid.NewString(),
		OrgID:           opts.OrgID,
		TeamID:          optionalString(opts.TeamID),
		Name:            name,
		Description:     opts.Description,
		Stages:          stages,
		WorkflowVersion: 1,
		CreatedBy:       opts.ActorID,
		CreatedAt:       e.stamp(),
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Repo.SetProjectRole(ctx, tx, p.ID, opts.ActorID, domain.RoleOwner, p.CreatedAt); err != nil {
		return p, wrapMissingUser(err, opts.ActorID)
	}
	if err := e.emit(ctx, tx, events.ProjectCreated, p.ID, events.KindProject, p.ID, opts.ActorID, events.EventPayload{"name": p.Name, "org_id": p.OrgID}); err != nil {
		return p, err
	}
	e.resolver(ctx).Forget()
	return p, tx.Commit()
}

func (e Engine) GetProject(ctx context.Context, projectID, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, projectID, actorID, domain.RoleReader); err != nil {
		return domain.Project{}, wrapNotFound(err, "project", projectID)
	}
	return e.Repo.GetProject(ctx, tx, projectID)
}

func (e Engine) ListProjects(ctx context.Context, actorID string) ([]domain.Project, error) {
	return e.Repo.ListProjectsForUser(ctx, nil, actorID)
}

// DeleteProject cascades to every task, comment, dependency and inbox item of the project.
func (e Engine) DeleteProject(ctx context.Context, projectID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, projectID, actorID, domain.RoleOwner); err != nil {
		return wrapNotFound(err, "project", projectID)
	}
	if err := e.Repo.DeleteProject(ctx, tx, projectID); err != nil {
		return wrapNotFound(err, "project", projectID)
	}
	if err := e.emit(ctx, tx, events.ProjectDeleted, projectID, events.KindProject, projectID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) SetProjectMember(ctx context.Context, projectID, userID string, role domain.Role, actorID string) (domain.ProjectMember, error) {
	if role.Rank() == 0 {
		return domain.ProjectMember{}, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidArgument, role)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProjectMember{}, err
	}
	defer tx.Rollback()
	actorRole, err := e.requireProject(ctx, tx, projectID, actorID, domain.RoleAdmin)
	if err != nil {
		return domain.ProjectMember{}, err
	}
	if role == domain.RoleOwner && actorRole != domain.RoleOwner {
		return domain.ProjectMember{}, fmt.Errorf("%w: only owners grant ownership", domain.ErrForbidden)
	}
	m := domain.ProjectMember{ProjectID: projectID, UserID: userID, Role: role, CreatedAt: e.stamp()}
	if err := e.Repo.SetProjectRole(ctx, tx, projectID, userID, role, m.CreatedAt); err != nil {
		return m, wrapMissingUser(err, userID)
	}
	if err := e.emit(ctx, tx, events.ProjectMemberSet, projectID, events.KindProject, projectID, actorID, events.EventPayload{"user_id": userID, "role": role}); err != nil {
		return m, err
	}
	e.resolver(ctx).Forget()
	return m, tx.Commit()
}

func (e Engine) RemoveProjectMember(ctx context.Context, projectID, userID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, projectID, actorID, domain.RoleAdmin); err != nil {
		return err
	}
	if err := e.Repo.RemoveProjectMember(ctx, tx, projectID, userID); err != nil {
		return err
	}
	if err := e.emit(ctx, tx, events.ProjectMemberSet, projectID, events.KindProject, projectID, actorID, events.EventPayload{"user_id": userID, "role": nil}); err != nil {
		return err
	}
	e.resolver(ctx).Forget()
	return tx.Commit()
}

func (e Engine) ListProjectMembers(ctx context.Context, projectID, actorID string) ([]domain.ProjectMember, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, projectID, actorID, domain.RoleReader); err != nil {
		return nil, err
	}
	return e.Repo.ListProjectMembers(ctx, tx, projectID)
}

type MilestoneOptions struct {
	ProjectID  string
	Name       string
	TargetDate string
	Color      string
	ActorID    string
}

func (e Engine) CreateMilestone(ctx context.Context, opts MilestoneOptions) (domain.Milestone, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Milestone{}, fmt.Errorf("%w: name required", domain.ErrInvalidArgument)
	}
	if err := validDate(opts.TargetDate); err != nil {
		return domain.Milestone{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Milestone{}, err
	}
	defer tx.Rollback()
	if _, err := e.requireProject(ctx, tx, opts.ProjectID, opts.ActorID, domain.RoleEditor); err != nil {
		return domain.Milestone{}, err
	}
	m := domain.Milestone{
		ID:         uuid.NewString(),
		ProjectID:  opts.ProjectID,
		Name:       strings.TrimSpace(opts.Name),
		TargetDate: optionalString(opts.TargetDate),
		Color:      opts.Color,
		CreatedAt:  e.stamp(),
	}
	if err := e.Repo.InsertMilestone(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.emit(ctx, tx, events.MilestoneCreated, m.ProjectID, events.KindMilestone, m.ID, opts.ActorID, events.EventPayload{"name": m.Name}); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

// wrapMissingUser reports foreign-key failures on user references as NotFound.
func wrapMissingUser(err error, userID string) error {
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY") {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, userID)
	}
	return err
}
