package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/facade"
)

type orgPath struct {
	OrgID string `path:"org_id"`
}

type orgMemberPath struct {
	OrgID  string `path:"org_id"`
	UserID string `path:"user_id"`
}

func registerOrgs(api huma.API, f facade.Facade) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-org",
		Method:        http.MethodPost,
		Path:          "/orgs",
		Summary:       "Create organization; the caller becomes owner",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateOrgRequest `json:"body"`
	}) (*output[domain.Organization], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		org, err := f.CreateOrg(ctx, actor, input.Body.Name, input.Body.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(org), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orgs",
		Method:      http.MethodGet,
		Path:        "/orgs",
		Summary:     "List organizations the caller belongs to",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Organization], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		orgs, err := f.ListOrgs(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(orgs)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-org-members",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/members",
		Summary:     "List organization members",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *orgPath) (*output[[]domain.OrgMember], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		members, err := f.ListOrgMembers(ctx, actor, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(members)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-org-member",
		Method:      http.MethodPut,
		Path:        "/orgs/{org_id}/members/{user_id}",
		Summary:     "Add a member or change their role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		OrgID  string      `path:"org_id"`
		UserID string      `path:"user_id"`
		Body   RoleRequest `json:"body"`
	}) (*output[domain.OrgMember], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := f.AddOrgMember(ctx, actor, input.OrgID, input.UserID, domain.Role(input.Body.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-org-member",
		Method:        http.MethodDelete,
		Path:          "/orgs/{org_id}/members/{user_id}",
		Summary:       "Remove a member",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *orgMemberPath) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := f.RemoveOrgMember(ctx, actor, input.OrgID, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "org-stats",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/stats",
		Summary:     "Organization completed count",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *orgPath) (*output[engine.OrgStats], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := f.OrgStats(ctx, actor, input.OrgID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(stats), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-team",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/teams",
		Summary:       "Create team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		OrgID string            `path:"org_id"`
		Body  CreateTeamRequest `json:"body"`
	}) (*output[domain.Team], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		team, err := f.CreateTeam(ctx, actor, input.OrgID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(team), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "set-team-member",
		Method:        http.MethodPut,
		Path:          "/teams/{team_id}/members/{user_id}",
		Summary:       "Add a team member or change their role",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamID string          `path:"team_id"`
		UserID string          `path:"user_id"`
		Body   TeamRoleRequest `json:"body"`
	}) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := f.SetTeamMember(ctx, actor, input.TeamID, input.UserID, domain.TeamRole(input.Body.Role)); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
