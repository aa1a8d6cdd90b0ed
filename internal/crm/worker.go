package crm

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/mn-ai/mnvoice/internal/store"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// Sender delivers one outbox entry to an external system.
type Sender interface {
	Send(ctx context.Context, e protocol.OutboxEntry) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, e protocol.OutboxEntry) error

func (f SenderFunc) Send(ctx context.Context, e protocol.OutboxEntry) error { return f(ctx, e) }

// Worker drains the CRM outbox.
type Worker struct {
	store       store.Store
	senders     map[string]Sender
	maxAttempts int
	batch       int
	logger      *slog.Logger
	now         func() time.Time
}

// NewWorker creates an outbox worker. Entries failing maxAttempts times are
// marked failed and no longer retried.
func NewWorker(st store.Store, maxAttempts int, logger *slog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:       st,
		senders:     make(map[string]Sender),
		maxAttempts: maxAttempts,
		batch:       50,
		logger:      logger.With("component", "crm-outbox"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle routes an outbox action to a sender.
func (w *Worker) Handle(action string, s Sender) {
	w.senders[action] = s
}

// DeliveryStats counts the outcome of one DeliverPending pass.
type DeliveryStats struct {
	Delivered int `json:"delivered"`
	Retrying  int `json:"retrying"`
	Failed    int `json:"failed"`
}

// DeliverPending attempts every pending entry once. Entries whose action
// has no sender stay pending, without an attempt, until one is registered.
func (w *Worker) DeliverPending(ctx context.Context) (DeliveryStats, error) {
	var stats DeliveryStats
	actions := w.actions()
	if len(actions) == 0 {
		w.logger.Debug("no senders registered, outbox left pending")
		return stats, nil
	}
	pending, err := w.store.PendingOutbox(ctx, w.batch, actions...)
	if err != nil {
		return stats, fmt.Errorf("crm: pending: %w", err)
	}

	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		sender, ok := w.senders[e.Action]
		if !ok {
			w.logger.Debug("outbox left pending, no sender", "call_id", e.CallID, "action", e.Action)
			continue
		}
		sendErr := sender.Send(ctx, e)
		attempts := e.Attempts + 1
		status := protocol.OutboxSuccess
		lastErr := ""
		switch {
		case sendErr == nil:
			stats.Delivered++
			w.logger.Info("outbox delivered", "call_id", e.CallID, "action", e.Action, "key", e.IdempotencyKey)
		case attempts >= w.maxAttempts:
			status = protocol.OutboxFailed
			lastErr = sendErr.Error()
			stats.Failed++
			w.logger.Error("outbox failed", "call_id", e.CallID, "action", e.Action, "attempts", attempts, "error", sendErr)
		default:
			status = protocol.OutboxPending
			lastErr = sendErr.Error()
			stats.Retrying++
			w.logger.Warn("outbox retry", "call_id", e.CallID, "action", e.Action, "attempts", attempts, "error", sendErr)
		}

		if err := w.store.MarkOutbox(ctx, e.ID, status, attempts, lastErr, w.now()); err != nil {
			return stats, fmt.Errorf("crm: mark %d: %w", e.ID, err)
		}
	}
	return stats, nil
}

func (w *Worker) actions() []string {
	return slices.Sorted(maps.Keys(w.senders))
}
