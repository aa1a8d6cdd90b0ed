// Package summarizer writes the end-of-call summary and enqueues the CRM
// side effects for it. Every run is idempotent and safe to retry.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mn-ai/mnvoice/internal/store"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// Summarizer generates summary artifacts for finished calls.
type Summarizer struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a summarizer.
func New(st store.Store, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		store:  st,
		logger: logger.With("component", "summarizer"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run summarizes one call. Calls still in progress are skipped. It reports
// whether a new summary artifact was written.
func (s *Summarizer) Run(ctx context.Context, callID string) (bool, error) {
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return false, fmt.Errorf("summarizer: %w", err)
	}
	if call.Active() || call.EndedAt == nil {
		return false, nil
	}
	lead, err := s.store.GetLead(ctx, call.LeadID)
	if err != nil {
		return false, fmt.Errorf("summarizer: %s: %w", callID, err)
	}
	snap, err := s.snapshotAtEnd(ctx, call)
	if err != nil {
		return false, fmt.Errorf("summarizer: %s: %w", callID, err)
	}

	now := s.now()
	text := SummaryText(lead, snap)
	fields := SummaryFields(snap)
	artifact := &protocol.Artifact{
		CallID:      call.ID,
		Type:        protocol.ArtifactSummary,
		ContentText: text,
		ContentJSON: fields,
		Version:     1,
		CreatedAt:   now,
	}

	outbox := []protocol.OutboxEntry{{
		CallID: call.ID,
		Action: protocol.ActionAppendNote,
		Payload: map[string]any{
			"lead_phone": lead.PrimaryPhone,
			"note":       text,
			"summary":    fields,
		},
		IdempotencyKey: "crm_note:" + call.ID,
		CreatedAt:      now,
	}}
	if snap.Email != "" {
		outbox = append(outbox, protocol.OutboxEntry{
			CallID: call.ID,
			Action: protocol.ActionUpsertLead,
			Payload: map[string]any{
				"lead_phone": lead.PrimaryPhone,
				"email":      snap.Email,
				"summary":    fields,
			},
			IdempotencyKey: "crm_lead:" + call.ID,
			CreatedAt:      now,
		})
	}
	if snap.QualificationStatus == protocol.QualificationQualified {
		outbox = append(outbox, protocol.OutboxEntry{
			CallID: call.ID,
			Action: protocol.ActionNotifySales,
			Payload: map[string]any{
				"lead_phone": lead.PrimaryPhone,
				"text":       "Qualified lead\n" + text,
			},
			IdempotencyKey: "sales_notify:" + call.ID,
			CreatedAt:      now,
		})
	}

	created, err := s.store.SaveSummary(ctx, artifact, outbox)
	if err != nil {
		return false, fmt.Errorf("summarizer: %s: %w", callID, err)
	}
	if created {
		s.logger.Info("summary written", "call_id", call.ID, "qualification", snap.QualificationStatus, "outbox", len(outbox))
	}
	return created, nil
}

// snapshotAtEnd returns the snapshot recorded in the call's call_ended
// event. Calls ended without one fall back to the lead's current snapshot.
func (s *Summarizer) snapshotAtEnd(ctx context.Context, call *protocol.Call) (*protocol.LeadSnapshot, error) {
	events, err := s.store.ListEvents(ctx, call.ID)
	if err != nil {
		return nil, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Type != protocol.EventCallEnded {
			continue
		}
		raw, ok := e.Payload["snapshot"]
		if !ok {
			break
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("event %d: snapshot: %w", e.ID, err)
		}
		var snap protocol.LeadSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("event %d: snapshot: %w", e.ID, err)
		}
		return &snap, nil
	}

	snap, err := s.store.GetSnapshot(ctx, call.LeadID)
	if errors.Is(err, store.ErrNotFound) {
		return protocol.NewSnapshot(call.LeadID, s.now()), nil
	}
	return snap, err
}

// RunPending summarizes every finished call that has no summary yet.
func (s *Summarizer) RunPending(ctx context.Context) (int, error) {
	pending, err := s.store.ListUnsummarized(ctx, 100)
	if err != nil {
		return 0, fmt.Errorf("summarizer: %w", err)
	}
	var n int
	var errs []error
	for _, call := range pending {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		created, err := s.Run(ctx, call.ID)
		if err != nil {
			s.logger.Error("summary failed", "call_id", call.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if created {
			n++
		}
	}
	return n, errors.Join(errs...)
}

// SummaryText renders the human-readable summary used as the CRM note.
func SummaryText(lead *protocol.Lead, snap *protocol.LeadSnapshot) string {
	lines := []string{
		"Phone: " + lead.PrimaryPhone,
		"Region: " + orUnknown(string(snap.RegionValue)),
		"City: " + orUnknown(snap.CityText),
		"Budget: " + orUnknown(string(snap.BudgetBand)),
		"Timeline: " + orUnknown(string(snap.TimelineBucket)),
		"Room size: " + orUnknown(snap.RoomSizeText),
		"Qualification: " + orUnknown(string(snap.QualificationStatus)),
	}
	if snap.Email != "" {
		lines = append(lines, "Email: "+snap.Email)
	}
	if len(snap.QualificationReasons) > 0 {
		reasons := make([]string, len(snap.QualificationReasons))
		for i, r := range snap.QualificationReasons {
			reasons[i] = string(r)
		}
		lines = append(lines, "Reasons: "+strings.Join(reasons, ", "))
	}
	return strings.Join(lines, "\n")
}

// SummaryFields is the structured form of the summary sent to the CRM.
func SummaryFields(snap *protocol.LeadSnapshot) map[string]any {
	reasons := make([]string, len(snap.QualificationReasons))
	for i, r := range snap.QualificationReasons {
		reasons[i] = string(r)
	}
	return map[string]any{
		"region":                string(snap.RegionValue),
		"city":                  snap.CityText,
		"budget_band":           string(snap.BudgetBand),
		"timeline":              string(snap.TimelineBucket),
		"room_size":             snap.RoomSizeText,
		"qualification_status":  string(snap.QualificationStatus),
		"qualification_reasons": reasons,
		"email":                 snap.Email,
	}
}

func orUnknown(s string) string {
	if s == "" {
		return protocol.Unknown
	}
	return s
}
