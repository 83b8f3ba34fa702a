package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"regionline/internal/engine"
	"regionline/internal/repo"
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Todo counts and registered handlers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		counts, err := e.Repo.CountTodosByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		latest, err := e.Repo.LatestEventID(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			TodoCounts:    counts,
			LatestEventID: latest,
			Actions:       e.Classes(),
			Fragments:     e.FragmentPaths(),
		}}, nil
	})
}

func registerTodos(api huma.API, e engine.Engine) {
	type todoPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-todo",
		Method:        http.MethodPost,
		Path:          "/todos",
		Summary:       "Create todo",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateTodoRequest `json:"body"`
	}) (*struct {
		Body TodoResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		opts := engine.TodoCreateOptions{Title: input.Body.Title}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		t, err := e.CreateTodo(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TodoResponse `json:"body"`
		}{Body: todoResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-todos",
		Method:      http.MethodGet,
		Path:        "/todos",
		Summary:     "List todos",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"Status filter; empty or 'all' lists every todo"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedTodos `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		status := input.Status
		if status == engine.FilterAll {
			status = ""
		}
		if status != "" && !e.Config.HasStatus(status) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid status %q", status), nil)
		}
		items, err := e.Repo.ListTodos(ctx, repo.TodoFilters{
			Status:          status,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
			Limit:           limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTodos{}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		resp.Items = mapTodos(items)
		return &struct {
			Body paginatedTodos `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-todo",
		Method:      http.MethodGet,
		Path:        "/todos/{id}",
		Summary:     "Get todo",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *todoPath) (*struct {
		Body TodoResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTodo(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TodoResponse `json:"body"`
		}{Body: todoResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-todo",
		Method:      http.MethodPatch,
		Path:        "/todos/{id}",
		Summary:     "Update todo",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTodoRequest `json:"body"`
	}) (*struct {
		Body TodoResponse `json:"body"`
	}, error) {
		t, err := e.UpdateTodo(ctx, engine.TodoUpdateOptions{
			ID:          input.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TodoResponse `json:"body"`
		}{Body: todoResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-todo",
		Method:        http.MethodDelete,
		Path:          "/todos/{id}",
		Summary:       "Delete todo",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *todoPath) (*struct{}, error) {
		if err := e.DeleteTodo(ctx, input.ID, ""); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent journal entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"action,todo"`
		EntityID   string `query:"entity_id"`
		RequestID  string `query:"request_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			RequestID:  input.RequestID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Effective server configuration",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ConfigResponse `json:"body"`
	}, error) {
		return &struct {
			Body ConfigResponse `json:"body"`
		}{Body: configResponse(e.Config)}, nil
	})
}
