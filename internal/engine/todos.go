package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"regionline/internal/domain"
	"regionline/internal/events"
	"regionline/internal/repo"
)

// Action classes and fragment paths of the todo application.
const (
	ClassCreateTodo = "CreateTodo"
	ClassUpdateTodo = "UpdateTodo"
	ClassDeleteTodo = "DeleteTodo"

	PathTodoList = "/fragments/todolist"
	PathTodo     = "/fragments/todo"

	// FilterAll lists todos of every status.
	FilterAll = "all"
)

// TodoCreateOptions are parameters for creating a todo.
type TodoCreateOptions struct {
	ID          string
	Title       string
	Description string
	RequestID   string
}

// TodoUpdateOptions are parameters for changing a todo. Nil fields are left alone.
type TodoUpdateOptions struct {
	ID          string
	Title       *string
	Description *string
	Status      *string
	RequestID   string
}

func (e Engine) CreateTodo(ctx context.Context, opts TodoCreateOptions) (domain.Todo, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Todo{}, err
	}
	defer tx.Rollback()
	t, err := e.createTodoTx(ctx, tx, opts)
	if err != nil {
		return domain.Todo{}, err
	}
	return t, tx.Commit()
}

func (e Engine) UpdateTodo(ctx context.Context, opts TodoUpdateOptions) (domain.Todo, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Todo{}, err
	}
	defer tx.Rollback()
	t, err := e.updateTodoTx(ctx, tx, opts)
	if err != nil {
		return domain.Todo{}, err
	}
	return t, tx.Commit()
}

func (e Engine) DeleteTodo(ctx context.Context, id, requestID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.deleteTodoTx(ctx, tx, id, requestID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) createTodoTx(ctx context.Context, tx *sql.Tx, opts TodoCreateOptions) (domain.Todo, error) {
	title := canonicalTitle(opts.Title)
	if msg := e.titleProblem(title); msg != "" {
		return domain.Todo{}, ValidationError{Fields: map[string]string{"title": msg}}
	}
	now := e.now().UTC().Format(timeLayout)
	t := domain.Todo{
		ID:          opts.ID,
		Title:       title,
		Description: strings.TrimSpace(opts.Description),
		Status:      domain.StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.ID == "" {
		t.ID = e.newID()
	}
	if err := e.Repo.InsertTodo(ctx, tx, t); err != nil {
		return domain.Todo{}, fmt.Errorf("insert todo: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type:       events.TodoCreated,
		RequestID:  opts.RequestID,
		EntityKind: "todo",
		EntityID:   t.ID,
		Payload:    events.EventPayload{"title": t.Title},
	}); err != nil {
		return domain.Todo{}, err
	}
	return t, nil
}

func (e Engine) updateTodoTx(ctx context.Context, tx *sql.Tx, opts TodoUpdateOptions) (domain.Todo, error) {
	if opts.ID == "" {
		return domain.Todo{}, ValidationError{Fields: map[string]string{"id": "id is required"}}
	}
	t, err := e.Repo.GetTodoTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Todo{}, err
	}
	changes := events.EventPayload{}
	if opts.Title != nil {
		title := canonicalTitle(*opts.Title)
		if msg := e.titleProblem(title); msg != "" {
			return domain.Todo{}, ValidationError{Fields: map[string]string{"title": msg}}
		}
		if title != t.Title {
			changes["title"] = title
			t.Title = title
		}
	}
	if opts.Description != nil {
		desc := strings.TrimSpace(*opts.Description)
		if desc != t.Description {
			changes["description"] = desc
			t.Description = desc
		}
	}
	now := e.now().UTC().Format(timeLayout)
	if opts.Status != nil && *opts.Status != t.Status {
		if !e.Config.HasStatus(*opts.Status) {
			return domain.Todo{}, ValidationError{Fields: map[string]string{"status": fmt.Sprintf("invalid status %q", *opts.Status)}}
		}
		changes["status"] = *opts.Status
		t.Status = *opts.Status
		if t.Status == domain.StatusDone {
			t.CompletedAt = &now
		} else {
			t.CompletedAt = nil
		}
	}
	if len(changes) == 0 {
		return t, nil
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTodo(ctx, tx, t); err != nil {
		return domain.Todo{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type:       events.TodoUpdated,
		RequestID:  opts.RequestID,
		EntityKind: "todo",
		EntityID:   t.ID,
		Payload:    changes,
	}); err != nil {
		return domain.Todo{}, err
	}
	return t, nil
}

func (e Engine) deleteTodoTx(ctx context.Context, tx *sql.Tx, id, requestID string) error {
	if id == "" {
		return ValidationError{Fields: map[string]string{"id": "id is required"}}
	}
	if err := e.Repo.DeleteTodo(ctx, tx, id); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, events.Entry{
		Type:       events.TodoDeleted,
		RequestID:  requestID,
		EntityKind: "todo",
		EntityID:   id,
	})
}

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// canonicalTitle trims and collapses runs of whitespace.
func canonicalTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (e Engine) titleProblem(title string) string {
	if title == "" {
		return "Title is required"
	}
	if limit := e.Config.Todos.TitleMaxLen; limit > 0 && utf8.RuneCountInString(title) > limit {
		return fmt.Sprintf("Title must be at most %d characters", limit)
	}
	return ""
}

// duplicateTitle reports whether an open todo already carries title.
func (e Engine) duplicateTitle(ctx context.Context, title string) bool {
	open, err := e.Repo.ListTodos(ctx, repo.TodoFilters{Status: domain.StatusOpen})
	if err != nil {
		e.logger().Warn("duplicate title lookup", "err", err)
		return false
	}
	for _, t := range open {
		if strings.EqualFold(t.Title, title) {
			return true
		}
	}
	return false
}

func (e Engine) registerTodos() {
	canonicalize := func(args Args) Canonical {
		c := Canonical{Values: map[string]string{}, Notes: map[string]string{}}
		if args.Has("title") {
			raw := args.Get("title")
			clean := canonicalTitle(raw)
			c.Values["title"] = clean
			if clean != raw {
				c.Notes["title"] = "Extra whitespace was removed."
			}
		}
		return c
	}
	validateTitle := func(ctx context.Context, args Args, required bool) Report {
		r := Report{Errors: map[string]string{}, Warnings: map[string]string{}}
		if !args.Has("title") && !required {
			return r
		}
		title := canonicalTitle(args.Get("title"))
		if msg := e.titleProblem(title); msg != "" {
			r.Errors["title"] = msg
		} else if e.duplicateTitle(ctx, title) {
			r.Warnings["title"] = "An open todo with this title already exists"
		}
		return r
	}

	e.Register(ClassCreateTodo, ActionHandler{
		Canonicalize: canonicalize,
		Validate: func(ctx context.Context, args Args) Report {
			return validateTitle(ctx, args, true)
		},
		Run: func(ctx context.Context, tx *sql.Tx, inv Invocation) (Outcome, error) {
			t, err := e.createTodoTx(ctx, tx, TodoCreateOptions{
				Title:       inv.Args.Get("title"),
				Description: inv.Args.Get("description"),
				RequestID:   inv.RequestID,
			})
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Message: "Created todo " + t.Title, EntityID: t.ID, Content: map[string]string{"id": t.ID}}, nil
		},
	})

	e.Register(ClassUpdateTodo, ActionHandler{
		Canonicalize: canonicalize,
		Validate: func(ctx context.Context, args Args) Report {
			r := validateTitle(ctx, args, false)
			if args.Has("status") && !e.Config.HasStatus(args.Get("status")) {
				r.Errors["status"] = fmt.Sprintf("invalid status %q", args.Get("status"))
			}
			return r
		},
		Run: func(ctx context.Context, tx *sql.Tx, inv Invocation) (Outcome, error) {
			opts := TodoUpdateOptions{ID: inv.Args.Get("id"), RequestID: inv.RequestID}
			for field, dst := range map[string]**string{"title": &opts.Title, "description": &opts.Description, "status": &opts.Status} {
				if inv.Args.Has(field) {
					v := inv.Args.Get(field)
					*dst = &v
				}
			}
			t, err := e.updateTodoTx(ctx, tx, opts)
			if errors.Is(err, repo.ErrNotFound) {
				return Outcome{}, fmt.Errorf("todo %s: %w", opts.ID, err)
			}
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Message: "Updated todo " + t.Title, EntityID: t.ID}, nil
		},
	})

	e.Register(ClassDeleteTodo, ActionHandler{
		Run: func(ctx context.Context, tx *sql.Tx, inv Invocation) (Outcome, error) {
			id := inv.Args.Get("id")
			if err := e.deleteTodoTx(ctx, tx, id, inv.RequestID); err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return Outcome{}, fmt.Errorf("todo %s: %w", id, err)
				}
				return Outcome{}, err
			}
			return Outcome{Message: "Deleted todo", EntityID: id}, nil
		},
	})

	e.RegisterFragment(PathTodoList, e.renderTodoList)
	e.RegisterFragment(PathTodo, e.renderTodo)
}
