package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"regionline/internal/db"
	"regionline/internal/domain"
	"regionline/internal/events"
	"regionline/internal/migrate"
	"regionline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Memory: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func insert(t *testing.T, r repo.Repo, todo domain.Todo) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.InsertTodo(ctx, tx, todo); err != nil {
		t.Fatalf("insert %s: %v", todo.ID, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestListTodosCursor(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	// two todos share a timestamp so the id breaks the tie
	stamps := []string{"2026-01-01T00:00:01Z", "2026-01-01T00:00:02Z", "2026-01-01T00:00:02Z", "2026-01-01T00:00:03Z"}
	for i, ts := range stamps {
		status := domain.StatusOpen
		if i%2 == 1 {
			status = domain.StatusDone
		}
		insert(t, r, domain.Todo{ID: fmt.Sprintf("t%d", i), Title: fmt.Sprintf("todo %d", i), Status: status, CreatedAt: ts, UpdatedAt: ts})
	}

	first, err := r.ListTodos(ctx, repo.TodoFilters{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != 2 || first[0].ID != "t3" || first[1].ID != "t2" {
		t.Fatalf("unexpected first page %+v", first)
	}
	last := first[len(first)-1]
	rest, err := r.ListTodos(ctx, repo.TodoFilters{CursorCreatedAt: last.CreatedAt, CursorID: last.ID, Limit: 10})
	if err != nil {
		t.Fatalf("list rest: %v", err)
	}
	if len(rest) != 2 || rest[0].ID != "t1" || rest[1].ID != "t0" {
		t.Fatalf("unexpected second page %+v", rest)
	}

	done, err := r.ListTodos(ctx, repo.TodoFilters{Status: domain.StatusDone})
	if err != nil {
		t.Fatalf("list done: %v", err)
	}
	if len(done) != 2 {
		t.Fatalf("expected 2 done todos, got %d", len(done))
	}
	counts, err := r.CountTodosByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.StatusOpen] != 2 || counts[domain.StatusDone] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestMissingTodo(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if _, err := r.GetTodo(ctx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.DeleteTodo(ctx, tx, "nope"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
	if err := r.UpdateTodo(ctx, tx, domain.Todo{ID: "nope", Title: "x", Status: domain.StatusOpen}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestEventsCursors(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	w := events.Writer{DB: r.DB}
	for i := 0; i < 5; i++ {
		kind := "todo"
		if i%2 == 0 {
			kind = "action"
		}
		if err := w.AppendNow(ctx, events.Entry{Type: events.ActionRun, EntityKind: kind, EntityID: fmt.Sprint(i), RequestID: "req-1"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	latest, err := r.LatestEventID(ctx)
	if err != nil || latest != 5 {
		t.Fatalf("latest id = %d, %v", latest, err)
	}
	page, err := r.LatestEventsFrom(ctx, 2, 4, repo.EventFilters{})
	if err != nil {
		t.Fatalf("latest from: %v", err)
	}
	if len(page) != 2 || page[0].ID != 3 || page[1].ID != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	after, err := r.EventsAfter(ctx, 10, 2, repo.EventFilters{EntityKind: "action"})
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(after) != 2 || after[0].ID != 3 || after[1].ID != 5 {
		t.Fatalf("unexpected events after 2: %+v", after)
	}
	if after[0].RequestID != "req-1" || after[0].Payload != "{}" {
		t.Fatalf("unexpected event fields %+v", after[0])
	}
}
