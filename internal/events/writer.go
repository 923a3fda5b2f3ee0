package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types emitted by the engine.
const (
	TypeProjectCreated         = "project.created"
	TypeProjectStatusChanged   = "project.status.changed"
	TypeProjectFastForwarded   = "project.status.fastforward"
	TypeProjectDatesUpdated    = "project.dates.updated"
	TypeInvoiceCreated         = "project.invoice.created"
	TypeReclamationCreated     = "reclamation.created"
	TypeReclamationAccepted    = "reclamation.accepted"
	TypeReclamationRejected    = "reclamation.rejected"
	TypeReclamationTaken       = "reclamation.taken"
	TypeReclamationStarted     = "reclamation.started"
	TypeReclamationCompleted   = "reclamation.completed"
	TypeCalendarScheduleFailed = "calendar.schedule.failed"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, firmID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,firm_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(firmID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
