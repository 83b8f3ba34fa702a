package server

import (
	"encoding/json"

	"regionline/internal/config"
	"regionline/internal/domain"
)

type CreateTodoRequest struct {
	Title       string  `json:"title" minLength:"1" example:"buy milk"`
	Description *string `json:"description,omitempty"`
	ID          *string `json:"id,omitempty" doc:"Client-chosen id; generated when absent"`
}

type UpdateTodoRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" example:"done"`
}

type TodoResponse struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Moniker    string         `json:"moniker,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type StatusResponse struct {
	TodoCounts    map[string]int `json:"todo_counts"`
	LatestEventID int64          `json:"latest_event_id"`
	Actions       []string       `json:"actions"`
	Fragments     []string       `json:"fragments"`
}

type ConfigResponse struct {
	Server struct {
		BasePath       string `json:"base_path"`
		WebservicePath string `json:"webservice_path"`
		ValidatorPath  string `json:"validator_path"`
	} `json:"server"`
	Todos struct {
		Statuses      []string `json:"statuses"`
		DefaultFilter string   `json:"default_filter"`
		TitleMaxLen   int      `json:"title_max_len"`
	} `json:"todos"`
}

type paginatedTodos struct {
	Items      []TodoResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func todoResponse(t domain.Todo) TodoResponse {
	return TodoResponse(t)
}

func mapTodos(items []domain.Todo) []TodoResponse {
	out := make([]TodoResponse, 0, len(items))
	for _, t := range items {
		out = append(out, todoResponse(t))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		RequestID:  e.RequestID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Moniker:    e.Moniker,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func configResponse(cfg *config.Config) ConfigResponse {
	var res ConfigResponse
	res.Server.BasePath = cfg.Server.BasePath
	res.Server.WebservicePath = cfg.Server.WebservicePath
	res.Server.ValidatorPath = cfg.Server.ValidatorPath
	res.Todos.Statuses = nonNilSlice(cfg.Todos.Statuses)
	res.Todos.DefaultFilter = cfg.Todos.DefaultFilter
	res.Todos.TitleMaxLen = cfg.Todos.TitleMaxLen
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
