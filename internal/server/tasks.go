package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/facade"
	"taskflow/internal/repo"
)

type taskPath struct {
	TaskID string `path:"task_id"`
}

func registerTasks(api huma.API, f facade.Facade) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*output[domain.Task], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := f.CreateTask(ctx, actor, taskOptions(input.ProjectID, input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks in board order",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		StageID    string `query:"stage_id"`
		ParentID   string `query:"parent_id"`
		AssigneeID string `query:"assignee_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*output[[]domain.Task], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := f.ListTasks(ctx, actor, repo.TaskFilters{
			ProjectID:  input.ProjectID,
			StageID:    input.StageID,
			ParentID:   input.ParentID,
			AssigneeID: input.AssigneeID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Task with stage, assignments, dependencies and comments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[engine.TaskDetail], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		detail, err := f.GetTask(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(detail), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task fields",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*output[domain.Task], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		t, err := f.UpdateTask(ctx, actor, input.TaskID, taskPatch(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task and its subtasks",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := f.DeleteTask(ctx, actor, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/move",
		Summary:     "Move task to a stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   MoveTaskRequest `json:"body"`
	}) (*output[engine.MoveResult], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := f.MoveTask(ctx, actor, engine.MoveOptions{
			TaskID:    input.TaskID,
			ToStageID: input.Body.ToStageID,
			Index:     input.Body.Index,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/approve",
		Summary:     "Approve a task waiting in the done stage",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskPath) (*output[domain.Task], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := f.Approve(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/reject",
		Summary:     "Send a pending task back to an earlier stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   RejectTaskRequest `json:"body"`
	}) (*output[engine.MoveResult], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := f.Reject(ctx, actor, engine.RejectOptions{
			TaskID:        input.TaskID,
			ReturnStageID: input.Body.ReturnStageID,
			Reason:        input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/assignees/{user_id}",
		Summary:     "Assign a user or change their assignment role",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string        `path:"task_id"`
		UserID string        `path:"user_id"`
		Body   AssignRequest `json:"body" required:"false"`
	}) (*output[domain.Assignment], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := f.Assign(ctx, actor, engine.AssignOptions{
			TaskID: input.TaskID,
			UserID: input.UserID,
			Role:   input.Body.Role,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "unassign-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}/assignees/{user_id}",
		Summary:       "Remove an assignment",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		UserID string `path:"user_id"`
	}) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := f.Unassign(ctx, actor, input.TaskID, input.UserID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-recurrence",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/recurrence",
		Summary:     "Make the task the template of a recurring series",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   RecurrenceRequest `json:"body"`
	}) (*output[domain.Recurrence], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := f.SetRecurrence(ctx, actor, recurrenceOptions(input.TaskID, input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return reply(rec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "clear-recurrence",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}/recurrence",
		Summary:       "Stop a recurring series",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := f.ClearRecurrence(ctx, actor, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func registerDependencies(api huma.API, f facade.Facade) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-dependency",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/dependencies",
		Summary:       "Record that another task blocks this one",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   AddDependencyRequest `json:"body"`
	}) (*output[domain.Dependency], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		dep, err := f.AddDependency(ctx, actor, engine.DependencyOptions{
			BlockingTaskID: input.Body.BlockingTaskID,
			BlockedTaskID:  input.TaskID,
			Type:           input.Body.Type,
			LagDays:        input.Body.LagDays,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(dep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-dependency",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}/dependencies/{blocking_task_id}",
		Summary:       "Remove a dependency",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID         string `path:"task_id"`
		BlockingTaskID string `path:"blocking_task_id"`
	}) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := f.RemoveDependency(ctx, actor, input.BlockingTaskID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-blocked",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/blocked",
		Summary:     "Whether any blocker is still unfinished",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[BlockedResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		blocked, err := f.IsBlocked(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(BlockedResponse{TaskID: input.TaskID, IsBlocked: blocked}), nil
	})
}

func registerComments(api huma.API, f facade.Facade) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/comments",
		Summary:       "Comment on a task; @mentions notify members",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string         `path:"task_id"`
		Body   CommentRequest `json:"body"`
	}) (*output[domain.Comment], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := f.AddComment(ctx, actor, input.TaskID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/comments",
		Summary:     "List comments, oldest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*output[[]domain.Comment], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := f.ListComments(ctx, actor, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-comment",
		Method:      http.MethodPatch,
		Path:        "/comments/{comment_id}",
		Summary:     "Edit a comment; only newly mentioned users are notified",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CommentID string         `path:"comment_id"`
		Body      CommentRequest `json:"body"`
	}) (*output[domain.Comment], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := f.UpdateComment(ctx, actor, input.CommentID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})
}
