package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"regionline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const todoColumns = `id,title,description,status,created_at,updated_at,completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTodo(row scanner) (domain.Todo, error) {
	var t domain.Todo
	var description, completedAt sql.NullString
	err := row.Scan(&t.ID, &t.Title, &description, &t.Status, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if description.Valid {
		t.Description = description.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTodo(ctx context.Context, tx *sql.Tx, t domain.Todo) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO todos(`+todoColumns+`) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), t.Status, t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTodo(ctx context.Context, tx *sql.Tx, t domain.Todo) error {
	res, err := tx.ExecContext(ctx, `UPDATE todos SET title=?, description=?, status=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r Repo) DeleteTodo(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM todos WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r Repo) GetTodo(ctx context.Context, id string) (domain.Todo, error) {
	return scanTodo(r.DB.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id=?`, id))
}

func (r Repo) GetTodoTx(ctx context.Context, tx *sql.Tx, id string) (domain.Todo, error) {
	return scanTodo(tx.QueryRowContext(ctx, `SELECT `+todoColumns+` FROM todos WHERE id=?`, id))
}

type TodoFilters struct {
	Status          string
	CursorCreatedAt string
	CursorID        string
	Limit           int
}

// ListTodos returns todos newest first. An empty status lists all of them.
func (r Repo) ListTodos(ctx context.Context, f TodoFilters) ([]domain.Todo, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + todoColumns + ` FROM todos ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Todo
	for rows.Next() {
		t, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTodosByStatus returns the number of todos per status.
func (r Repo) CountTodosByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM todos GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// EventFilters narrows a journal listing. Zero values match everything.
type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	RequestID  string
}

func (f EventFilters) clauses() ([]string, []any) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.RequestID != "" {
		clauses = append(clauses, "request_id=?")
		args = append(args, f.RequestID)
	}
	return clauses, args
}

func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilters) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, f)
}

// LatestEventsFrom returns events with IDs below the cursor, newest first.
func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, f EventFilters) ([]domain.Event, error) {
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,request_id,entity_kind,entity_id,moniker,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, f EventFilters) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses, args := f.clauses()
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,request_id,entity_kind,entity_id,moniker,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var requestID, entityID, moniker sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &requestID, &e.EntityKind, &entityID, &moniker, &e.Payload); err != nil {
			return nil, err
		}
		e.RequestID = requestID.String
		e.EntityID = entityID.String
		e.Moniker = moniker.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}
