package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the audit log.
const (
	InteractionPending   = "interaction.pending"
	InteractionCompleted = "interaction.completed"
	InteractionDeclined  = "interaction.declined"
	InteractionFailed    = "interaction.failed"
	InteractionReopened  = "interaction.reopened"
	InteractionsPurged   = "interactions.purged"
	DailyPostPublished   = "daily_post.published"
	CycleFinished        = "cycle.finished"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append inserts one audit row. The log is append-only; nothing updates or deletes events.
func (w Writer) Append(ctx context.Context, exec Execer, evtType, entityKind, entityID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	data, err := Marshal(payload)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), data)
	return err
}

// Marshal encodes a payload for the payload_json column.
func Marshal(payload map[string]any) (string, error) {
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal event payload: %w", err)
	}
	return string(data), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
