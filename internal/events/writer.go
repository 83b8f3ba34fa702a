package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the journal.
const (
	ActionRun    = "action.run"
	ActionFailed = "action.failed"
	TodoCreated  = "todo.created"
	TodoUpdated  = "todo.updated"
	TodoDeleted  = "todo.deleted"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Entry describes one journal row.
type Entry struct {
	Type       string
	RequestID  string
	EntityKind string
	EntityID   string
	Moniker    string
	Payload    EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339Nano)
	if e.Payload == nil {
		e.Payload = EventPayload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,request_id,entity_kind,entity_id,moniker,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Type, nullable(e.RequestID), e.EntityKind, nullable(e.EntityID), nullable(e.Moniker), string(data))
	return err
}

// AppendNow writes a single entry in its own transaction.
func (w Writer) AppendNow(ctx context.Context, e Entry) error {
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
