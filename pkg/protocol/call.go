package protocol

import "time"

// Lead is a persistent caller identity. A lead may have many calls over time.
type Lead struct {
	ID           string    `json:"lead_id"`
	PrimaryPhone string    `json:"primary_phone"`
	PrimaryEmail string    `json:"primary_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Call is one phone or chat session with a caller.
type Call struct {
	ID           string     `json:"call_id"`
	LeadID       string     `json:"lead_id"`
	FromPhone    string     `json:"from_phone"`
	Direction    string     `json:"direction"`
	LanguagePref string     `json:"language_pref,omitempty"`
	Status       CallStatus `json:"status"`
	CurrentState CallState  `json:"current_state"`
	Source       string     `json:"source,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the call is still in progress.
func (c *Call) Active() bool {
	return c.Status == CallInProgress
}

// End marks the call finished with the given terminal status.
// It returns false if the call had already ended.
func (c *Call) End(status CallStatus, at time.Time) bool {
	if !c.Active() {
		return false
	}
	if status != CallFailed {
		status = CallEnded
	}
	c.Status = status
	c.EndedAt = &at
	return true
}

// Event is an immutable entry in a call's audit ledger.
type Event struct {
	ID        int64          `json:"event_id,omitempty"`
	CallID    string         `json:"call_id"`
	Type      EventType      `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent builds a ledger entry for callID.
func NewEvent(callID string, typ EventType, payload map[string]any, at time.Time) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{CallID: callID, Type: typ, Payload: payload, CreatedAt: at}
}

// Artifact is a generated document attached to a call, such as its summary.
type Artifact struct {
	ID          int64          `json:"artifact_id,omitempty"`
	CallID      string         `json:"call_id"`
	Type        string         `json:"type"`
	ContentText string         `json:"content_text,omitempty"`
	ContentJSON map[string]any `json:"content_json,omitempty"`
	Version     int            `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ArtifactSummary is the artifact type of an end-of-call summary.
const ArtifactSummary = "summary"

// OutboxStatus is the delivery state of a CRM outbox entry.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSuccess OutboxStatus = "success"
	OutboxFailed  OutboxStatus = "failed"
)

// Outbox actions understood by the CRM delivery worker.
const (
	ActionUpsertLead  = "upsert_lead"
	ActionAppendNote  = "append_note"
	ActionNotifySales = "notify_sales"
)

// OutboxEntry is a pending side effect towards the CRM, deduplicated by IdempotencyKey.
type OutboxEntry struct {
	ID             int64          `json:"outbox_id,omitempty"`
	CallID         string         `json:"call_id"`
	Action         string         `json:"action"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
	Status         OutboxStatus   `json:"status"`
	Attempts       int            `json:"attempts"`
	LastError      string         `json:"last_error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
