package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/mn-ai/mnvoice/internal/calls"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

type mockCalls struct {
	active  map[string]string // phone -> call id
	started []calls.StartRequest
	turns   []string
	ended   []protocol.CallStatus
}

func (m *mockCalls) StartCall(_ context.Context, req calls.StartRequest) (*calls.StartResult, error) {
	m.started = append(m.started, req)
	if m.active == nil {
		m.active = map[string]string{}
	}
	m.active[req.FromPhone] = "c_new"
	return &calls.StartResult{CallID: "c_new", LeadID: "l_1", Prompt: "Namaste!", State: protocol.StateAskLanguage}, nil
}

func (m *mockCalls) SubmitTurn(_ context.Context, callID, text string) (*calls.TurnResult, error) {
	m.turns = append(m.turns, callID+":"+text)
	return &calls.TurnResult{CallID: callID, Reply: "next", State: protocol.StateAskCityOrRegion, Status: protocol.CallInProgress}, nil
}

func (m *mockCalls) EndCall(_ context.Context, callID string, status protocol.CallStatus) (*protocol.Call, error) {
	m.ended = append(m.ended, status)
	return &protocol.Call{ID: callID, Status: status, CurrentState: protocol.StateAskBudget}, nil
}

func (m *mockCalls) ActiveCall(_ context.Context, phone string) (*protocol.Call, error) {
	if id, ok := m.active[phone]; ok {
		return &protocol.Call{ID: id}, nil
	}
	return nil, calls.ErrCallNotFound
}

func TestDispatcher_Start(t *testing.T) {
	m := &mockCalls{}
	d := NewDispatcher(m, nil)

	reply, err := d.Handle(context.Background(), InboundMessage{Channel: "telegram", Event: EventStart, Phone: "tg:1"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.CallID != "c_new" || reply.Text != "Namaste!" || reply.State != protocol.StateAskLanguage {
		t.Errorf("reply = %+v", reply)
	}
	if len(m.started) != 1 || m.started[0].Source != "telegram" || m.started[0].FromPhone != "tg:1" {
		t.Errorf("started = %+v", m.started)
	}
}

func TestDispatcher_TurnWithoutCallStartsOne(t *testing.T) {
	m := &mockCalls{}
	d := NewDispatcher(m, nil)

	reply, err := d.Handle(context.Background(), InboundMessage{Channel: "telegram", Phone: "tg:1", Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "Namaste!" || len(m.turns) != 0 {
		t.Errorf("reply = %+v, turns = %v", reply, m.turns)
	}

	reply, err = d.Handle(context.Background(), InboundMessage{Channel: "telegram", Phone: "tg:1", Content: " English "})
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "next" || len(m.turns) != 1 || m.turns[0] != "c_new:English" {
		t.Errorf("reply = %+v, turns = %v", reply, m.turns)
	}
}

func TestDispatcher_TurnByCallID(t *testing.T) {
	m := &mockCalls{}
	d := NewDispatcher(m, nil)

	if _, err := d.Handle(context.Background(), InboundMessage{Event: EventTurn, CallID: "c_7", Content: "Pune"}); err != nil {
		t.Fatal(err)
	}
	if len(m.turns) != 1 || m.turns[0] != "c_7:Pune" {
		t.Errorf("turns = %v", m.turns)
	}
}

func TestDispatcher_End(t *testing.T) {
	m := &mockCalls{active: map[string]string{"+91": "c_1"}}
	d := NewDispatcher(m, nil)

	reply, err := d.Handle(context.Background(), InboundMessage{Event: EventEnd, Phone: "+91", Failed: true})
	if err != nil {
		t.Fatal(err)
	}
	if reply.CallID != "c_1" || reply.Status != protocol.CallFailed {
		t.Errorf("reply = %+v", reply)
	}

	if _, err := d.Handle(context.Background(), InboundMessage{Event: EventEnd, Phone: "+92"}); !errors.Is(err, calls.ErrCallNotFound) {
		t.Errorf("end without call err = %v", err)
	}
}

func TestDispatcher_Invalid(t *testing.T) {
	d := NewDispatcher(&mockCalls{}, nil)

	if _, err := d.Handle(context.Background(), InboundMessage{Event: "dance"}); !errors.Is(err, calls.ErrInvalidInput) {
		t.Errorf("unknown event err = %v", err)
	}
	if _, err := d.Handle(context.Background(), InboundMessage{Phone: "+91", Content: "   "}); !errors.Is(err, calls.ErrInvalidInput) {
		t.Errorf("empty turn err = %v", err)
	}
}
