package regionsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"regionline/internal/wire"
)

const (
	DefaultWebservicePath = "/__jifty/webservices/xml"
	DefaultValidatorPath  = "/__jifty/validator.xml"
	DefaultAPIBasePath    = "/v0"
)

// Client talks to a regionline server: the XML webservice and validator
// endpoints used by page updates, and the JSON API.
type Client struct {
	BaseURL        string
	WebservicePath string
	ValidatorPath  string
	APIBasePath    string
	HTTPClient     *http.Client
	Timeout        time.Duration
	// Headers are sent with every request.
	Headers map[string]string
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:        baseURL,
		WebservicePath: DefaultWebservicePath,
		ValidatorPath:  DefaultValidatorPath,
		APIBasePath:    DefaultAPIBasePath,
		Timeout:        10 * time.Second,
	}
}

// Todo represents the API todo model.
type Todo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Moniker    string         `json:"moniker,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// PaginatedTodos wraps todo listings with cursors.
type PaginatedTodos struct {
	Items      []Todo `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// Send posts an update request to the webservice endpoint and decodes the
// XML answer. headers are added to the client's own.
func (c *Client) Send(ctx context.Context, req *wire.Request, headers map[string]string) (*wire.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	raw, err := c.raw(ctx, http.MethodPost, c.pathOr(c.WebservicePath, DefaultWebservicePath), bytes.NewReader(body), "application/json", headers)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("webservice response: %w", err)
	}
	return resp, nil
}

// Validate sends a field-validation query and decodes the verdicts.
func (c *Client) Validate(ctx context.Context, query string) (*wire.Validation, error) {
	endpoint := c.pathOr(c.ValidatorPath, DefaultValidatorPath) + "?" + strings.TrimPrefix(query, "?")
	raw, err := c.raw(ctx, http.MethodGet, endpoint, nil, "", nil)
	if err != nil {
		return nil, err
	}
	v, err := wire.DecodeValidation(raw)
	if err != nil {
		return nil, fmt.Errorf("validator response: %w", err)
	}
	return v, nil
}

// Page fetches the HTML document served at path.
func (c *Client) Page(ctx context.Context, path string) (string, error) {
	raw, err := c.raw(ctx, http.MethodGet, path, nil, "", nil)
	return string(raw), err
}

// Health reports the server status.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var resp map[string]string
	err := c.do(ctx, http.MethodGet, c.apiPath("health"), nil, &resp)
	return resp, err
}

// CreateTodo creates a todo.
func (c *Client) CreateTodo(ctx context.Context, title, description string) (Todo, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	var resp Todo
	err := c.do(ctx, http.MethodPost, c.apiPath("todos"), body, &resp)
	return resp, err
}

// GetTodo fetches a todo by id.
func (c *Client) GetTodo(ctx context.Context, id string) (Todo, error) {
	var resp Todo
	err := c.do(ctx, http.MethodGet, c.apiPath("todos/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListTodos returns todos, newest first. An empty status lists every todo.
func (c *Client) ListTodos(ctx context.Context, status string, limit int, cursor string) (PaginatedTodos, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.apiPath("todos")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedTodos
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateTodo changes the supplied fields of a todo. Nil fields are left alone.
func (c *Client) UpdateTodo(ctx context.Context, id string, title, description, status *string) (Todo, error) {
	body := map[string]any{}
	if title != nil {
		body["title"] = *title
	}
	if description != nil {
		body["description"] = *description
	}
	if status != nil {
		body["status"] = *status
	}
	var resp Todo
	err := c.do(ctx, http.MethodPatch, c.apiPath("todos/"+url.PathEscape(id)), body, &resp)
	return resp, err
}

// DeleteTodo removes a todo.
func (c *Client) DeleteTodo(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.apiPath("todos/"+url.PathEscape(id)), nil, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.apiPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	raw, err := c.raw(ctx, method, endpoint, &buf, "application/json", nil)
	if err != nil {
		return err
	}
	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (c *Client) raw(ctx context.Context, method, endpoint string, body io.Reader, contentType string, headers map[string]string) ([]byte, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func (c *Client) pathOr(p, fallback string) string {
	if p == "" {
		return fallback
	}
	return p
}

func (c *Client) apiPath(p string) string {
	return strings.TrimRight(c.pathOr(c.APIBasePath, DefaultAPIBasePath), "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
