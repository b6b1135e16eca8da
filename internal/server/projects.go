package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/facade"
)

type projectPath struct {
	ProjectID string `path:"project_id"`
}

type projectMemberPath struct {
	ProjectID string `path:"project_id"`
	UserID    string `path:"user_id"`
}

func registerProjects(api huma.API, f facade.Facade) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*output[domain.Project], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := f.CreateProject(ctx, actor, engine.ProjectOptions{
			OrgID:       input.Body.OrgID,
			TeamID:      input.Body.TeamID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Stages:      stages(input.Body.Stages),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects the caller can read",
	}, func(ctx context.Context, _ *struct{}) (*output[[]domain.Project], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := f.ListProjects(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[domain.Project], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := f.GetProject(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project and everything in it",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := f.DeleteProject(ctx, actor, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "configure-stages",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/stages",
		Summary:     "Replace the workflow stages",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      ConfigureStagesRequest `json:"body"`
	}) (*output[domain.Project], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := f.ConfigureStages(ctx, actor, input.ProjectID, stages(input.Body.Stages))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/board",
		Summary:     "Tasks grouped by stage in position order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[engine.Board], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		board, err := f.Board(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(board), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-stats",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stats",
		Summary:     "Project counters",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[domain.ProjectStats], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := f.ProjectStats(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(stats), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "critical-path",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/critical-path",
		Summary:     "Longest chain of dependent open tasks",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.Task], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		path, err := f.CriticalPath(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(path)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-changes",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/changes",
		Summary:     "Events after a cursor, oldest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		After     int64  `query:"after" minimum:"0"`
		Limit     int    `query:"limit" default:"50"`
	}) (*output[ChangesResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		events, err := f.Changes(ctx, actor, input.ProjectID, input.After, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		resp := ChangesResponse{Events: nonNil(events), Cursor: input.After}
		if len(events) > 0 {
			resp.Cursor = events[len(events)-1].ID
		}
		return reply(resp), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-members",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/members",
		Summary:     "List explicit project members",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*output[[]domain.ProjectMember], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		members, err := f.ListProjectMembers(ctx, actor, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(members)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-project-member",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/members/{user_id}",
		Summary:     "Grant a project role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string      `path:"project_id"`
		UserID    string      `path:"user_id"`
		Body      RoleRequest `json:"body"`
	}) (*output[domain.ProjectMember], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := f.AddProjectMember(ctx, actor, input.ProjectID, input.UserID, domain.Role(input.Body.Role))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-project-member",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/members/{user_id}",
		Summary:       "Revoke a project role",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectMemberPath) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := f.RemoveProjectMember(ctx, actor, input.ProjectID, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-milestone",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/milestones",
		Summary:       "Create milestone",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      CreateMilestoneRequest `json:"body"`
	}) (*output[domain.Milestone], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := f.CreateMilestone(ctx, actor, engine.MilestoneOptions{
			ProjectID:  input.ProjectID,
			Name:       input.Body.Name,
			TargetDate: input.Body.TargetDate,
			Color:      input.Body.Color,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})
}
