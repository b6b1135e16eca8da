package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"taskflow/internal/domain"
	"taskflow/internal/facade"
	"taskflow/internal/repo"
)

type itemPath struct {
	ItemID string `path:"item_id"`
}

func registerInbox(api huma.API, f facade.Facade) {
	huma.Register(api, huma.Operation{
		OperationID: "list-inbox",
		Method:      http.MethodGet,
		Path:        "/inbox",
		Summary:     "Attention items, most recent activity first",
	}, func(ctx context.Context, input *struct {
		UnreadOnly       bool   `query:"unread_only"`
		IncludeDismissed bool   `query:"include_dismissed"`
		Types            string `query:"types" doc:"Comma separated item types"`
		Limit            int    `query:"limit" default:"50"`
	}) (*output[[]domain.AttentionItem], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters := repo.InboxFilters{
			UnreadOnly:       input.UnreadOnly,
			IncludeDismissed: input.IncludeDismissed,
			Limit:            normalizeLimit(input.Limit),
		}
		for _, t := range splitList(input.Types) {
			filters.Types = append(filters.Types, domain.AttentionType(t))
		}
		items, err := f.Inbox(ctx, actor, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "inbox-unread-count",
		Method:      http.MethodGet,
		Path:        "/inbox/unread-count",
		Summary:     "Unread, undismissed item count",
	}, func(ctx context.Context, _ *struct{}) (*output[CountResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := f.UnreadCount(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: int64(n)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "inbox-mark-read",
		Method:      http.MethodPost,
		Path:        "/inbox/read",
		Summary:     "Mark items read",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body MarkReadRequest `json:"body"`
	}) (*output[CountResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := f.MarkRead(ctx, actor, input.Body.IDs)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "inbox-mark-all-read",
		Method:      http.MethodPost,
		Path:        "/inbox/read-all",
		Summary:     "Mark every item read",
	}, func(ctx context.Context, _ *struct{}) (*output[CountResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := f.MarkAllRead(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(CountResponse{Count: n}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "inbox-dismiss",
		Method:        http.MethodPost,
		Path:          "/inbox/{item_id}/dismiss",
		Summary:       "Dismiss an item",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := f.Dismiss(ctx, actor, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "inbox-actioned",
		Method:        http.MethodPost,
		Path:          "/inbox/{item_id}/actioned",
		Summary:       "Mark an item actioned",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := f.MarkActioned(ctx, actor, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-mentions",
		Method:      http.MethodGet,
		Path:        "/mentions",
		Summary:     "Comments that mention the caller",
	}, func(ctx context.Context, input *struct {
		UnreadOnly bool `query:"unread_only"`
	}) (*output[[]domain.Mention], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := f.Mentions(ctx, actor, input.UnreadOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}
