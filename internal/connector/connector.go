package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mn-ai/mnvoice/internal/calls"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// Connector is the interface for caller-facing chat channels (Telegram, Slack).
type Connector interface {
	// Name returns the connector type (e.g., "telegram").
	Name() string
	// Start begins listening for inbound messages. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// Send delivers an outbound message to the external platform.
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is a message sent to a caller.
type OutboundMessage struct {
	ChatID  string // Platform-specific chat identifier
	Content string
}

// Event is the lifecycle step an inbound message asks for.
type Event string

const (
	EventStart Event = "start"
	EventTurn  Event = "turn"
	EventEnd   Event = "end"
)

// InboundMessage is a message received from a caller.
type InboundMessage struct {
	Channel string // Connector name (e.g., "telegram", "webhook:exotel")
	Event   Event  // Defaults to EventTurn
	CallID  string // Optional; resolved from Phone when empty
	Phone   string // Caller identity, e.g. "+91..." or "tg:<chat_id>"
	Content string
	Failed  bool // EventEnd only: the call dropped rather than hung up
}

// Reply is what the caller should hear or read next.
type Reply struct {
	CallID string              `json:"call_id"`
	Text   string              `json:"reply"`
	State  protocol.CallState  `json:"state,omitempty"`
	Status protocol.CallStatus `json:"status,omitempty"`
	FAQ    bool                `json:"faq,omitempty"`
}

// InboundHandler turns an inbound message into the reply for the caller.
type InboundHandler func(ctx context.Context, msg InboundMessage) (*Reply, error)

// Calls is the part of the calls service that channels drive.
type Calls interface {
	StartCall(ctx context.Context, req calls.StartRequest) (*calls.StartResult, error)
	SubmitTurn(ctx context.Context, callID, text string) (*calls.TurnResult, error)
	EndCall(ctx context.Context, callID string, status protocol.CallStatus) (*protocol.Call, error)
	ActiveCall(ctx context.Context, phone string) (*protocol.Call, error)
}

// Dispatcher routes inbound messages to calls. A turn for a caller with
// no call in progress starts a new one.
type Dispatcher struct {
	calls  Calls
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over svc.
func NewDispatcher(svc Calls, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{calls: svc, logger: logger.With("component", "dispatcher")}
}

// Handle implements InboundHandler.
func (d *Dispatcher) Handle(ctx context.Context, msg InboundMessage) (*Reply, error) {
	switch msg.Event {
	case EventStart:
		return d.start(ctx, msg)
	case EventEnd:
		return d.end(ctx, msg)
	case EventTurn, "":
		return d.turn(ctx, msg)
	default:
		return nil, fmt.Errorf("connector: unknown event %q: %w", msg.Event, calls.ErrInvalidInput)
	}
}

func (d *Dispatcher) start(ctx context.Context, msg InboundMessage) (*Reply, error) {
	res, err := d.calls.StartCall(ctx, calls.StartRequest{FromPhone: msg.Phone, Source: msg.Channel})
	if err != nil {
		return nil, err
	}
	return &Reply{CallID: res.CallID, Text: res.Prompt, State: res.State, Status: protocol.CallInProgress}, nil
}

func (d *Dispatcher) turn(ctx context.Context, msg InboundMessage) (*Reply, error) {
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return nil, fmt.Errorf("connector: empty message: %w", calls.ErrInvalidInput)
	}

	callID := msg.CallID
	if callID == "" {
		active, err := d.calls.ActiveCall(ctx, msg.Phone)
		if errors.Is(err, calls.ErrCallNotFound) {
			d.logger.Info("no active call, starting one", "channel", msg.Channel)
			return d.start(ctx, msg)
		}
		if err != nil {
			return nil, err
		}
		callID = active.ID
	}

	res, err := d.calls.SubmitTurn(ctx, callID, text)
	if err != nil {
		return nil, err
	}
	return &Reply{CallID: res.CallID, Text: res.Reply, State: res.State, Status: res.Status, FAQ: res.FAQ}, nil
}

func (d *Dispatcher) end(ctx context.Context, msg InboundMessage) (*Reply, error) {
	callID := msg.CallID
	if callID == "" {
		active, err := d.calls.ActiveCall(ctx, msg.Phone)
		if err != nil {
			return nil, err
		}
		callID = active.ID
	}
	status := protocol.CallEnded
	if msg.Failed {
		status = protocol.CallFailed
	}
	call, err := d.calls.EndCall(ctx, callID, status)
	if err != nil {
		return nil, err
	}
	return &Reply{CallID: call.ID, State: call.CurrentState, Status: call.Status}, nil
}
