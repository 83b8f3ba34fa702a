package engine

import (
	"bytes"
	"context"
	"errors"
	"html/template"

	"regionline/internal/domain"
	"regionline/internal/repo"
)

var templates = template.Must(template.New("todolist").Parse(
	`<ul class="todos" data-status="{{.Status}}">` +
		`{{range .Todos}}<li id="todo-{{.ID}}" class="todo {{.Status}}">{{.Title}}</li>` +
		`{{else}}<li class="empty">No todos.</li>{{end}}</ul>`))

func init() {
	template.Must(templates.New("todo").Parse(
		`<div id="todo-{{.ID}}" class="todo {{.Status}}"><h3>{{.Title}}</h3>` +
			`{{with .Description}}<p class="description">{{.}}</p>{{end}}` +
			`<p class="meta">{{.Status}} since {{.UpdatedAt}}</p></div>`))
	template.Must(templates.New("page").Parse(pageTemplate))
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// normalizeFilter maps a requested status filter onto a known one. Absent or
// unknown filters fall back to the configured default.
func (e Engine) normalizeFilter(status string) string {
	if status == FilterAll || e.Config.HasStatus(status) {
		return status
	}
	return e.Config.Todos.DefaultFilter
}

func (e Engine) renderTodoList(ctx context.Context, req RenderRequest) (Rendered, error) {
	status := e.normalizeFilter(req.Args["status"])
	f := repo.TodoFilters{}
	if status != FilterAll {
		f.Status = status
	}
	todos, err := e.Repo.ListTodos(ctx, f)
	if err != nil {
		return Rendered{}, err
	}
	out, err := execute("todolist", struct {
		Status string
		Todos  []domain.Todo
	}{status, todos})
	if err != nil {
		return Rendered{}, err
	}
	args := req.Args
	if args == nil {
		args = map[string]string{}
	}
	args["status"] = status
	return Rendered{Content: out, Args: args}, nil
}

func (e Engine) renderTodo(ctx context.Context, req RenderRequest) (Rendered, error) {
	id := req.Args["id"]
	t, err := e.Repo.GetTodo(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return Rendered{Content: `<p class="missing">Todo not found.</p>`, Args: req.Args}, nil
	}
	if err != nil {
		return Rendered{}, err
	}
	out, err := execute("todo", t)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{Content: out, Args: req.Args}, nil
}

// PageRegion and ListRegion name the regions the page is built from.
const (
	PageRegion = "__page"
	ListRegion = PageRegion + "-todo_list"
)

// Page renders the full document with the todo list inlined in its region.
func (e Engine) Page(ctx context.Context) (string, error) {
	list, err := e.renderTodoList(ctx, RenderRequest{Region: ListRegion, Path: PathTodoList})
	if err != nil {
		return "", err
	}
	return execute("page", struct {
		Title  string
		Filter string
		List   template.HTML
	}{e.Config.Server.Title, list.Args["status"], template.HTML(list.Content)})
}

const pageTemplate = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<div id="messages"></div>
<div id="errors"></div>
<div id="region-__page" class="region">
<form id="create-todo" method="post" action="/">
<input type="hidden" id="J:A-create-1" name="J:A-create-1" value="CreateTodo">
<div id="messages-J:A-create-1"></div>
<label>Title <input type="text" class="ajaxcanonicalization ajaxvalidation" name="J:A:F-title-create-1" value=""></label>
<span id="errors-J:A:F-title-create-1" class="error"></span>
<span id="warnings-J:A:F-title-create-1" class="warning"></span>
<span id="canonicalization_note-J:A:F-title-create-1" class="note"></span>
<label>Description <textarea name="J:A:F-description-create-1"></textarea></label>
<input type="submit" id="create-submit" name="J:ACTIONS=create-1" value="Create">
</form>
<div id="filters">
<a href="?status=all" class="filter" data-status="all">All</a>
<a href="?status=open" class="filter" data-status="open">Open</a>
<a href="?status=done" class="filter" data-status="done">Done</a>
</div>
<div id="region-__page-todo_list" class="region" data-status="{{.Filter}}">{{.List}}</div>
</div>
</body>
</html>
`
