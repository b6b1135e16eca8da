// Package auth resolves a caller's effective role on projects and organizations.
// The core never authenticates; callers arrive with a user id already trusted.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"taskflow/internal/domain"
	"taskflow/internal/repo"
)

// Effective is the strongest role granted by any membership path.
func Effective(m repo.MembershipRoles) domain.Role {
	best := m.Project
	for _, r := range []domain.Role{m.Org, m.Team.ProjectRole()} {
		if r.Rank() > best.Rank() {
			best = r
		}
	}
	if best.Rank() == 0 {
		return ""
	}
	return best
}

// Resolver memoizes role lookups for the lifetime of one request.
type Resolver struct {
	Repo repo.Repo

	mu       sync.Mutex
	projects map[string]domain.Role
	orgs     map[string]domain.Role
}

func NewResolver(r repo.Repo) *Resolver {
	return &Resolver{Repo: r}
}

type ctxKey struct{}

func WithResolver(ctx context.Context, r *Resolver) context.Context {
	return context.WithValue(ctx, ctxKey{}, r)
}

// FromContext returns the request's resolver, or nil.
func FromContext(ctx context.Context) *Resolver {
	r, _ := ctx.Value(ctxKey{}).(*Resolver)
	return r
}

// Forget drops memoized roles, after a membership change.
func (r *Resolver) Forget() {
	r.mu.Lock()
	r.projects = nil
	r.orgs = nil
	r.mu.Unlock()
}

// ProjectRole returns the user's effective role on the project, or "" without
// access. A missing project is ErrNotFound.
func (r *Resolver) ProjectRole(ctx context.Context, tx *sql.Tx, projectID, userID string) (domain.Role, error) {
	key := projectID + "\x00" + userID
	r.mu.Lock()
	role, ok := r.projects[key]
	r.mu.Unlock()
	if ok {
		return role, nil
	}
	m, err := r.Repo.MembershipRolesFor(ctx, tx, projectID, userID)
	if err != nil {
		return "", err
	}
	role = Effective(m)
	r.mu.Lock()
	if r.projects == nil {
		r.projects = map[string]domain.Role{}
	}
	r.projects[key] = role
	r.mu.Unlock()
	return role, nil
}

// RequireProject fails NotFound when the project is invisible to the user and
// Forbidden when the user's role is below min.
func (r *Resolver) RequireProject(ctx context.Context, tx *sql.Tx, projectID, userID string, min domain.Role) (domain.Role, error) {
	role, err := r.ProjectRole(ctx, tx, projectID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", fmt.Errorf("%w: project %s", domain.ErrNotFound, projectID)
	}
	if !role.AtLeast(min) {
		return role, fmt.Errorf("%w: %s role required on project %s", domain.ErrForbidden, min, projectID)
	}
	return role, nil
}

// OrgRole returns the user's organization role, or "" when not a member.
func (r *Resolver) OrgRole(ctx context.Context, tx *sql.Tx, orgID, userID string) (domain.Role, error) {
	key := orgID + "\x00" + userID
	r.mu.Lock()
	role, ok := r.orgs[key]
	r.mu.Unlock()
	if ok {
		return role, nil
	}
	role, err := r.Repo.OrgRole(ctx, tx, orgID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		role, err = "", nil
	}
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	if r.orgs == nil {
		r.orgs = map[string]domain.Role{}
	}
	r.orgs[key] = role
	r.mu.Unlock()
	return role, nil
}

func (r *Resolver) RequireOrg(ctx context.Context, tx *sql.Tx, orgID, userID string, min domain.Role) (domain.Role, error) {
	role, err := r.OrgRole(ctx, tx, orgID, userID)
	if err != nil {
		return "", err
	}
	if role == "" {
		return "", fmt.Errorf("%w: organization %s", domain.ErrNotFound, orgID)
	}
	if !role.AtLeast(min) {
		return role, fmt.Errorf("%w: %s role required on organization %s", domain.ErrForbidden, min, orgID)
	}
	return role, nil
}
