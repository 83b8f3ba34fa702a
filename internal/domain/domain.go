package domain

// Todo statuses.
const (
	StatusOpen = "open"
	StatusDone = "done"
)

type Todo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"open,done"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

// Event is one entry of the action journal. RequestID groups the entries
// written while serving a single webservice request.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RequestID  string `json:"request_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Moniker    string `json:"moniker,omitempty"`
	Payload    string `json:"payload"`
}
