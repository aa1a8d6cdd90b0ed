// Package orchestrator runs one conversational turn: FAQ interrupt,
// qualification, state transition and prompt rendering.
package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mn-ai/mnvoice/internal/engine"
	"github.com/mn-ai/mnvoice/internal/skill"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// Config wires the orchestrator's collaborators. Zero fields get defaults.
type Config struct {
	Router  *engine.Router
	Prompts *engine.Renderer
	Logger  *slog.Logger
	Now     func() time.Time
}

// Orchestrator coordinates a single turn for a call. It holds no per-call state.
type Orchestrator struct {
	faq           *skill.FAQ
	qualification *skill.Qualification
	prompts       *engine.Renderer
	logger        *slog.Logger
	now           func() time.Time
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Prompts == nil {
		cfg.Prompts = engine.NewRenderer(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		faq:           &skill.FAQ{Router: cfg.Router},
		qualification: &skill.Qualification{},
		prompts:       cfg.Prompts,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Reply  string
	State  protocol.CallState
	FAQ    bool
	Events []protocol.Event
}

// Begin renders the opening prompt for a freshly created call.
func (o *Orchestrator) Begin(call *protocol.Call) (*TurnResult, error) {
	if !call.CurrentState.Valid() {
		return nil, fmt.Errorf("orchestrator: begin %s: state %q: %w", call.ID, call.CurrentState, engine.ErrInvalidState)
	}
	prompt, err := o.prompts.Render(call.CurrentState)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: begin %s: %w", call.ID, err)
	}
	now := o.now()
	return &TurnResult{
		Reply: prompt,
		State: call.CurrentState,
		Events: []protocol.Event{
			protocol.NewEvent(call.ID, protocol.EventCallStarted, map[string]any{
				"from_phone": call.FromPhone,
				"direction":  call.Direction,
				"source":     call.Source,
			}, now),
			protocol.NewEvent(call.ID, protocol.EventAssistantTurn, map[string]any{"text": prompt}, now),
		},
	}, nil
}

// HandleTurn processes one user utterance.
//
// An FAQ match answers the question and leaves call and snapshot untouched.
// Otherwise the snapshot is updated, the call advances and the next prompt
// is returned. On error neither call nor snap is modified.
func (o *Orchestrator) HandleTurn(call *protocol.Call, snap *protocol.LeadSnapshot, text string) (*TurnResult, error) {
	current := call.CurrentState
	if !current.Valid() {
		return nil, fmt.Errorf("orchestrator: turn %s: state %q: %w", call.ID, current, engine.ErrInvalidState)
	}

	now := o.now()
	events := []protocol.Event{
		protocol.NewEvent(call.ID, protocol.EventUserTurn, map[string]any{"text": text}, now),
	}

	if answer, ok := o.faq.Answer(text); ok {
		events = append(events, protocol.NewEvent(call.ID, protocol.EventAssistantTurn, map[string]any{
			"text": answer,
			"faq":  true,
		}, now))
		o.logger.Debug("faq interrupt", "call_id", call.ID, "state", current)
		return &TurnResult{Reply: answer, State: current, FAQ: true, Events: events}, nil
	}

	work := snap.Clone()
	outcome := o.qualification.Apply(skill.Input{State: current, Text: text, Now: now}, work)
	if outcome.Evaluated {
		events = append(events, protocol.NewEvent(call.ID, protocol.EventQualification, map[string]any{
			"status":  string(outcome.Status),
			"reasons": reasonStrings(outcome.Reasons),
			"region":  string(work.RegionValue),
			"budget":  string(work.BudgetBand),
		}, now))
	}

	sig := signalsFrom(work)
	next, err := engine.NextState(current, sig)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: turn %s: %w", call.ID, err)
	}
	// QUALIFY is decided within the turn that reaches it.
	if next == protocol.StateQualify {
		if next, err = engine.NextState(next, sig); err != nil {
			return nil, fmt.Errorf("orchestrator: turn %s: %w", call.ID, err)
		}
	}

	reply, err := o.prompts.Render(next)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: turn %s: %w", call.ID, err)
	}

	*snap = *work
	call.CurrentState = next
	if current == protocol.StateAskLanguage && snap.Language != protocol.LanguageUnknown {
		call.LanguagePref = string(snap.Language)
	}
	events = append(events, protocol.NewEvent(call.ID, protocol.EventAssistantTurn, map[string]any{"text": reply}, now))

	if next == protocol.StateClose && call.End(protocol.CallEnded, now) {
		events = append(events, endedEvent(call, snap, "conversation_complete", now))
	}

	o.logger.Debug("turn handled",
		"call_id", call.ID,
		"from", current,
		"to", next,
		"qualification", snap.QualificationStatus,
	)
	return &TurnResult{Reply: reply, State: next, Events: events}, nil
}

// End closes a call from outside the conversation (hang-up, failure).
// It returns no events if the call had already ended. snap may be nil.
func (o *Orchestrator) End(call *protocol.Call, snap *protocol.LeadSnapshot, status protocol.CallStatus, reason string) []protocol.Event {
	now := o.now()
	if !call.End(status, now) {
		return nil
	}
	return []protocol.Event{endedEvent(call, snap, reason, now)}
}

// endedEvent records the lead snapshot as it was when the call ended.
func endedEvent(call *protocol.Call, snap *protocol.LeadSnapshot, reason string, at time.Time) protocol.Event {
	payload := map[string]any{
		"status": string(call.Status),
		"reason": reason,
	}
	if snap != nil {
		payload["snapshot"] = snap.Clone()
	}
	return protocol.NewEvent(call.ID, protocol.EventCallEnded, payload, at)
}

func signalsFrom(snap *protocol.LeadSnapshot) engine.Signals {
	sig := engine.Signals{
		HasTimeline: snap.HasTimeline(),
		HasRoomSize: snap.HasRoomSize(),
	}
	if st, ok := protocol.ParseQualificationStatus(string(snap.QualificationStatus)); ok {
		sig.Qualification = st
	}
	return sig
}

func reasonStrings(reasons []protocol.QualificationReason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}
