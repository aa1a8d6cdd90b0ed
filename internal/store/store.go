// Package store persists leads, calls, snapshots, the event ledger,
// summary artifacts and the CRM outbox.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// ErrNotFound is returned when a lead, call, snapshot or artifact does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for the conversation engine.
type Store interface {
	// CreateCall upserts the lead, creates its snapshot if missing and
	// inserts the call with its opening events in one transaction.
	CreateCall(ctx context.Context, lead *protocol.Lead, call *protocol.Call, events []protocol.Event) error
	// CommitTurn writes the call, the snapshot, the turn's events and the
	// funnel hit for the call's current state in one transaction.
	CommitTurn(ctx context.Context, call *protocol.Call, snap *protocol.LeadSnapshot, events []protocol.Event) error

	GetCall(ctx context.Context, id string) (*protocol.Call, error)
	ListCalls(ctx context.Context, filter CallFilter) ([]*protocol.Call, error)
	GetLead(ctx context.Context, id string) (*protocol.Lead, error)
	FindLeadByPhone(ctx context.Context, phone string) (*protocol.Lead, error)
	GetSnapshot(ctx context.Context, leadID string) (*protocol.LeadSnapshot, error)
	ListEvents(ctx context.Context, callID string) ([]protocol.Event, error)

	// SaveSummary stores the artifact and enqueues the outbox entries.
	// It reports false when the call already had an artifact of that type.
	SaveSummary(ctx context.Context, artifact *protocol.Artifact, outbox []protocol.OutboxEntry) (bool, error)
	GetArtifact(ctx context.Context, callID, typ string) (*protocol.Artifact, error)
	// ListUnsummarized returns ended calls without a summary artifact, oldest first.
	ListUnsummarized(ctx context.Context, limit int) ([]*protocol.Call, error)

	// PendingOutbox returns pending entries, oldest first. When actions are
	// given only entries with one of those actions are returned.
	PendingOutbox(ctx context.Context, limit int, actions ...string) ([]protocol.OutboxEntry, error)
	ListOutbox(ctx context.Context, callID string) ([]protocol.OutboxEntry, error)
	MarkOutbox(ctx context.Context, id int64, status protocol.OutboxStatus, attempts int, lastErr string, at time.Time) error

	// FunnelCounts returns the number of distinct calls that reached each state.
	FunnelCounts(ctx context.Context) (map[protocol.CallState]int, error)
}

// CallFilter constrains call list queries.
type CallFilter struct {
	Status *protocol.CallStatus
	LeadID string
	Source string
	Limit  int // 0 = no limit
}
