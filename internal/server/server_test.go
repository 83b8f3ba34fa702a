package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/sourcegraph/conc"

	"regionline/internal/config"
	"regionline/internal/db"
	"regionline/internal/domain"
	"regionline/internal/engine"
	"regionline/internal/migrate"
	"regionline/internal/wire"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	handler, err := New(Config{
		Engine:         e,
		BasePath:       cfg.Server.BasePath,
		WebservicePath: cfg.Server.WebservicePath,
		ValidatorPath:  cfg.Server.ValidatorPath,
		Logger:         e.Logger,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestTodoLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/todos", map[string]any{
		"title": "  Ship   feature ",
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create todo status %d: %s", createRes.StatusCode, string(data))
	}
	var created domain.Todo
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal todo: %v", err)
	}
	if created.Title != "Ship feature" || created.Status != "open" {
		t.Fatalf("unexpected todo %+v", created)
	}

	patchRes, patchBody := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/todos/"+created.ID, map[string]any{
		"status": "done",
	}, nil)
	if patchRes.StatusCode != http.StatusOK {
		t.Fatalf("patch status %d: %s", patchRes.StatusCode, string(patchBody))
	}
	var done domain.Todo
	_ = json.Unmarshal(patchBody, &done)
	if done.Status != "done" || done.CompletedAt == nil {
		t.Fatalf("expected done with completion time, got %+v", done)
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/todos?status=done", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", listRes.StatusCode, string(listBody))
	}
	var list paginatedTodos
	_ = json.Unmarshal(listBody, &list)
	if len(list.Items) != 1 || list.Items[0].ID != created.ID {
		t.Fatalf("unexpected listing %+v", list)
	}

	delRes, delBody := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/todos/"+created.ID, nil, nil)
	if delRes.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", delRes.StatusCode, string(delBody))
	}
	getRes, getBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/todos/"+created.ID, nil, nil)
	if getRes.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", getRes.StatusCode, string(getBody))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(getBody, &envelope); err != nil || envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found envelope, got %s", string(getBody))
	}

	evRes, evBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=todo&entity_id="+created.ID, nil, nil)
	if evRes.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", evRes.StatusCode, string(evBody))
	}
	var evts paginatedEvents
	_ = json.Unmarshal(evBody, &evts)
	var types []string
	for _, e := range evts.Items {
		types = append(types, e.Type)
	}
	if strings.Join(types, ",") != "todo.deleted,todo.updated,todo.created" {
		t.Fatalf("unexpected journal %v", types)
	}
}

func TestCreateTodoValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/todos", map[string]any{"title": strings.Repeat("x", 201)}, nil)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(body))
	}
	if !strings.Contains(string(body), "validation_failed") {
		t.Fatalf("expected validation_failed code: %s", string(body))
	}
}

func TestWebserviceRejectsMalformedRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/__jifty/webservices/xml", map[string]any{
		"path":      "/__jifty/webservices/xml",
		"actions":   map[string]any{"x": map[string]any{"moniker": "x"}},
		"fragments": map[string]any{},
	}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(body))
	}
	if !strings.Contains(string(body), "schema validation failed") {
		t.Fatalf("expected schema error: %s", string(body))
	}
}

func TestWebserviceUnknownFragment(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	req := wire.NewRequest("/__jifty/webservices/xml")
	req.Fragments["x"] = &wire.Fragment{Name: "x", Path: "/nowhere", Args: map[string]string{}}
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/__jifty/webservices/xml", req, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(body))
	}
}

func TestWebserviceReturnsXML(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	req := wire.NewRequest("/__jifty/webservices/xml")
	a := &wire.Action{Moniker: "create-1", Class: engine.ClassCreateTodo}
	a.Set("title", "value", "milk")
	req.Actions["create-1"] = a
	req.Fragments["__page-todo_list"] = &wire.Fragment{
		Name:   "todo_list",
		Path:   engine.PathTodoList,
		Args:   map[string]string{"status": "open"},
		Parent: &wire.Fragment{Name: "__page", Path: "/", Args: map[string]string{}},
	}
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/__jifty/webservices/xml", req, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("unexpected content type %s", ct)
	}
	resp, err := wire.DecodeResponse(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	result, ok := resp.Result("create-1")
	if !ok || !result.Success {
		t.Fatalf("expected success: %+v", resp.Results)
	}
	if len(resp.Fragments) != 1 || !strings.Contains(resp.Fragments[0].Content, "milk") {
		t.Fatalf("unexpected fragments %+v", resp.Fragments)
	}
	if resp.Fragments[0].Arguments["status"] != "open" {
		t.Fatalf("unexpected arguments %+v", resp.Fragments[0].Arguments)
	}
}

func TestValidatorEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet,
		srv.URL+"/__jifty/validator.xml?J:VALIDATE=1&J:A-create-1=CreateTodo&J:A:F-title-create-1=", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	v, err := wire.DecodeValidation(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(v.Actions) != 1 || v.Actions[0].ID != "J:A-create-1" {
		t.Fatalf("unexpected validation %+v", v)
	}
	found := false
	for _, it := range v.Actions[0].Items {
		if it.ID == "errors-J:A:F-title-create-1" && it.Kind == wire.ValidationError {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected title error in %+v", v.Actions[0].Items)
	}
}

func TestStatusAndConfig(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	if _, err := srv.Engine.CreateTodo(context.Background(), engine.TodoCreateOptions{Title: "one"}); err != nil {
		t.Fatal(err)
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	var status StatusResponse
	_ = json.Unmarshal(body, &status)
	if status.TodoCounts["open"] != 1 || status.LatestEventID == 0 {
		t.Fatalf("unexpected status %+v", status)
	}
	if strings.Join(status.Actions, ",") != "CreateTodo,DeleteTodo,UpdateTodo" {
		t.Fatalf("unexpected actions %v", status.Actions)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/config", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("config %d: %s", res.StatusCode, string(body))
	}
	var cfg ConfigResponse
	_ = json.Unmarshal(body, &cfg)
	if cfg.Server.WebservicePath != "/__jifty/webservices/xml" || cfg.Todos.DefaultFilter != "all" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	for _, title := range []string{"a", "b", "c"} {
		if _, err := srv.Engine.CreateTodo(context.Background(), engine.TodoCreateOptions{Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	var page paginatedEvents
	_ = json.Unmarshal(body, &page)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(body))
	}
	var rest paginatedEvents
	_ = json.Unmarshal(body, &rest)
	if len(rest.Items) != 1 || rest.NextCursor != "" {
		t.Fatalf("unexpected second page %+v", rest)
	}
	if rest.Items[0].Payload["title"] != "a" {
		t.Fatalf("oldest event should be the first todo, got %+v", rest.Items[0])
	}
}

func TestOpenAPIServedConcurrently(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	const n = 8
	bodies := make([][]byte, n)
	codes := make([]int, n)
	var wg conc.WaitGroup
	for i := range n {
		wg.Go(func() {
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			codes[i] = res.StatusCode
			bodies[i], _ = io.ReadAll(res.Body)
		})
	}
	wg.Wait()

	for i := range n {
		if codes[i] != http.StatusOK {
			t.Fatalf("request %d: status %d", i, codes[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("request %d got a different document", i)
		}
	}
	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(bodies[0], &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if len(doc.Paths) == 0 {
		t.Fatalf("openapi document has no paths")
	}
}
