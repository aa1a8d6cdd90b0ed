// Package calls is the application service that drives calls through the
// orchestrator and persists every turn atomically.
package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mn-ai/mnvoice/internal/orchestrator"
	"github.com/mn-ai/mnvoice/internal/store"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

var (
	// ErrCallNotFound is returned for an unknown call id.
	ErrCallNotFound = errors.New("call not found")
	// ErrCallEnded is returned when a turn is submitted to a finished call.
	ErrCallEnded = errors.New("call already ended")
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Config wires the service's collaborators.
type Config struct {
	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
	Now          func() time.Time
}

// Service starts calls, submits turns and ends calls.
type Service struct {
	store  store.Store
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*callLock
}

// callLock is dropped from the map once nobody holds or waits on it.
type callLock struct {
	sync.Mutex
	refs int
}

// New creates a calls service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Orchestrator == nil {
		cfg.Orchestrator = orchestrator.New(orchestrator.Config{Logger: cfg.Logger, Now: cfg.Now})
	}
	return &Service{
		store:  cfg.Store,
		orch:   cfg.Orchestrator,
		logger: cfg.Logger.With("component", "calls"),
		now:    cfg.Now,
		locks:  make(map[string]*callLock),
	}
}

// StartRequest opens a new call.
type StartRequest struct {
	FromPhone string `json:"from_phone"`
	Source    string `json:"source,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// StartResult is returned by StartCall.
type StartResult struct {
	CallID string             `json:"call_id"`
	LeadID string             `json:"lead_id"`
	Prompt string             `json:"prompt"`
	State  protocol.CallState `json:"state"`
}

// TurnResult is returned by SubmitTurn.
type TurnResult struct {
	CallID string              `json:"call_id"`
	Reply  string              `json:"reply"`
	State  protocol.CallState  `json:"state"`
	Status protocol.CallStatus `json:"status"`
	FAQ    bool                `json:"faq,omitempty"`
}

// CallDetail is a call with its lead snapshot and event ledger.
type CallDetail struct {
	Call     *protocol.Call         `json:"call"`
	Snapshot *protocol.LeadSnapshot `json:"snapshot"`
	Events   []protocol.Event       `json:"events"`
}

// StartCall finds or creates the lead for the caller's phone and opens a
// call in the first conversation state. The lead's snapshot carries over
// from earlier calls. Calls still in progress for the lead are ended with
// reason "restarted" first.
func (s *Service) StartCall(ctx context.Context, req StartRequest) (*StartResult, error) {
	phone := strings.TrimSpace(req.FromPhone)
	if phone == "" {
		return nil, fmt.Errorf("calls: start: from_phone is required: %w", ErrInvalidInput)
	}
	direction := req.Direction
	if direction == "" {
		direction = "inbound"
	}
	now := s.now()

	lead, err := s.store.FindLeadByPhone(ctx, phone)
	switch {
	case errors.Is(err, store.ErrNotFound):
		lead = &protocol.Lead{ID: newID("l_"), PrimaryPhone: phone, CreatedAt: now, UpdatedAt: now}
	case err != nil:
		return nil, fmt.Errorf("calls: start: %w", err)
	default:
		lead.UpdatedAt = now
		if err := s.endActive(ctx, lead.ID); err != nil {
			return nil, fmt.Errorf("calls: start: %w", err)
		}
	}

	call := &protocol.Call{
		ID:           newID("c_"),
		LeadID:       lead.ID,
		FromPhone:    phone,
		Direction:    direction,
		Status:       protocol.CallInProgress,
		CurrentState: protocol.StateAskLanguage,
		Source:       req.Source,
		StartedAt:    now,
	}

	res, err := s.orch.Begin(call)
	if err != nil {
		return nil, fmt.Errorf("calls: start: %w", err)
	}
	if err := s.store.CreateCall(ctx, lead, call, res.Events); err != nil {
		return nil, fmt.Errorf("calls: start: %w", err)
	}

	s.logger.Info("call started", "call_id", call.ID, "lead_id", lead.ID, "source", call.Source)
	return &StartResult{CallID: call.ID, LeadID: lead.ID, Prompt: res.Reply, State: call.CurrentState}, nil
}

// SubmitTurn runs one user utterance through the orchestrator and commits
// the call, snapshot and events together. Nothing is persisted on error.
func (s *Service) SubmitTurn(ctx context.Context, callID, text string) (*TurnResult, error) {
	unlock := s.lock(callID)
	defer unlock()

	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !call.Active() {
		return nil, fmt.Errorf("calls: turn %s: %w", callID, ErrCallEnded)
	}
	snap, err := s.store.GetSnapshot(ctx, call.LeadID)
	if errors.Is(err, store.ErrNotFound) {
		snap = protocol.NewSnapshot(call.LeadID, s.now())
	} else if err != nil {
		return nil, fmt.Errorf("calls: turn %s: %w", callID, err)
	}

	res, err := s.orch.HandleTurn(call, snap, text)
	if err != nil {
		s.logger.Error("turn failed", "call_id", callID, "state", call.CurrentState, "error", err)
		return nil, fmt.Errorf("calls: turn %s: %w", callID, err)
	}

	var commitSnap *protocol.LeadSnapshot
	if !res.FAQ {
		commitSnap = snap
	}
	if err := s.store.CommitTurn(ctx, call, commitSnap, res.Events); err != nil {
		return nil, fmt.Errorf("calls: turn %s: %w", callID, err)
	}

	s.logger.Info("turn committed", "call_id", callID, "state", res.State, "faq", res.FAQ)
	if !call.Active() {
		s.logger.Info("call ended", "call_id", callID, "status", call.Status, "qualification", snap.QualificationStatus)
	}
	return &TurnResult{CallID: callID, Reply: res.Reply, State: res.State, Status: call.Status, FAQ: res.FAQ}, nil
}

// EndCall closes a call from outside the conversation, for example on
// hang-up. Ending an already finished call is a no-op.
func (s *Service) EndCall(ctx context.Context, callID string, status protocol.CallStatus) (*protocol.Call, error) {
	if status == "" {
		status = protocol.CallEnded
	}
	if status != protocol.CallEnded && status != protocol.CallFailed {
		return nil, fmt.Errorf("calls: end %s: status %q: %w", callID, status, ErrInvalidInput)
	}

	return s.endCall(ctx, callID, status, "hangup")
}

func (s *Service) endCall(ctx context.Context, callID string, status protocol.CallStatus, reason string) (*protocol.Call, error) {
	unlock := s.lock(callID)
	defer unlock()

	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	snap, err := s.store.GetSnapshot(ctx, call.LeadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("calls: end %s: %w", callID, err)
	}
	events := s.orch.End(call, snap, status, reason)
	if len(events) == 0 {
		return call, nil
	}
	if err := s.store.CommitTurn(ctx, call, nil, events); err != nil {
		return nil, fmt.Errorf("calls: end %s: %w", callID, err)
	}
	s.logger.Info("call ended", "call_id", callID, "status", call.Status, "state", call.CurrentState, "reason", reason)
	return call, nil
}

// endActive ends every in-progress call of a lead.
func (s *Service) endActive(ctx context.Context, leadID string) error {
	status := protocol.CallInProgress
	active, err := s.store.ListCalls(ctx, store.CallFilter{LeadID: leadID, Status: &status})
	if err != nil {
		return err
	}
	for _, c := range active {
		if _, err := s.endCall(ctx, c.ID, protocol.CallEnded, "restarted"); err != nil {
			return err
		}
	}
	return nil
}

// GetCall returns the call with its snapshot and events.
func (s *Service) GetCall(ctx context.Context, callID string) (*CallDetail, error) {
	call, err := s.loadCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	snap, err := s.store.GetSnapshot(ctx, call.LeadID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("calls: get %s: %w", callID, err)
	}
	events, err := s.store.ListEvents(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("calls: get %s: %w", callID, err)
	}
	if events == nil {
		events = []protocol.Event{}
	}
	return &CallDetail{Call: call, Snapshot: snap, Events: events}, nil
}

// ListCalls returns calls matching the filter, newest first.
func (s *Service) ListCalls(ctx context.Context, filter store.CallFilter) ([]*protocol.Call, error) {
	calls, err := s.store.ListCalls(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	if calls == nil {
		calls = []*protocol.Call{}
	}
	return calls, nil
}

// ActiveCall returns the most recent in-progress call for a phone, or
// ErrCallNotFound. Chat connectors use it to route messages.
func (s *Service) ActiveCall(ctx context.Context, phone string) (*protocol.Call, error) {
	lead, err := s.store.FindLeadByPhone(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("calls: phone %s: %w", phone, ErrCallNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("calls: active %s: %w", phone, err)
	}
	status := protocol.CallInProgress
	active, err := s.store.ListCalls(ctx, store.CallFilter{LeadID: lead.ID, Status: &status, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("calls: active %s: %w", phone, err)
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("calls: phone %s: %w", phone, ErrCallNotFound)
	}
	return active[0], nil
}

func (s *Service) loadCall(ctx context.Context, callID string) (*protocol.Call, error) {
	call, err := s.store.GetCall(ctx, callID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("calls: %s: %w", callID, ErrCallNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("calls: load %s: %w", callID, err)
	}
	return call, nil
}

// lock serializes turns on the same call.
func (s *Service) lock(callID string) func() {
	s.mu.Lock()
	l, ok := s.locks[callID]
	if !ok {
		l = &callLock{}
		s.locks[callID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, callID)
		}
		s.mu.Unlock()
	}
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
