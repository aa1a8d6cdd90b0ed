package slackconn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/slack-go/slack"

	"github.com/mn-ai/mnvoice/internal/calls"
	"github.com/mn-ai/mnvoice/internal/connector"
	"github.com/mn-ai/mnvoice/pkg/protocol"
)

// Verify Connector implements connector.Connector at compile time.
var _ connector.Connector = (*Connector)(nil)

type posted struct {
	channel string
	text    string
	thread  string
}

type fakePoster struct {
	msgs []posted
}

func (f *fakePoster) PostMessageContext(_ context.Context, channel string, options ...slack.MsgOption) (string, string, error) {
	_, values, err := slack.UnsafeApplyMsgOptions("token", channel, "https://slack.com/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.msgs = append(f.msgs, posted{channel: channel, text: values.Get("text"), thread: values.Get("thread_ts")})
	return channel, "1700000000.000100", nil
}

type recorder struct {
	msgs []connector.InboundMessage
	err  error
}

func (r *recorder) handle(_ context.Context, msg connector.InboundMessage) (*connector.Reply, error) {
	r.msgs = append(r.msgs, msg)
	if r.err != nil {
		return nil, r.err
	}
	return &connector.Reply{CallID: "c_1", Text: "reply to " + msg.Content, State: protocol.StateAskCityOrRegion}, nil
}

func newTestConnector(channels []string) (*Connector, *fakePoster, *recorder) {
	out := &fakePoster{}
	rec := &recorder{}
	c := &Connector{
		out:     out,
		config:  Config{Channels: channels},
		handler: rec.handle,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		botID:   "UBOT",
	}
	return c, out, rec
}

func TestDispatch_Turn(t *testing.T) {
	c, out, rec := newTestConnector(nil)
	c.dispatch(context.Background(), "D1", "U7", " Hindi ")

	if len(rec.msgs) != 1 {
		t.Fatalf("msgs = %+v", rec.msgs)
	}
	got := rec.msgs[0]
	if got.Event != connector.EventTurn || got.Phone != "slack:U7" || got.Content != "Hindi" || got.Channel != "slack" {
		t.Errorf("inbound = %+v", got)
	}
	if len(out.msgs) != 1 || out.msgs[0].channel != "D1" || out.msgs[0].text != "reply to Hindi" {
		t.Errorf("posted = %+v", out.msgs)
	}
}

func TestDispatch_StartStop(t *testing.T) {
	c, out, rec := newTestConnector(nil)
	c.dispatch(context.Background(), "D1", "U7", "Start")
	c.dispatch(context.Background(), "D1", "U7", "stop")

	if len(rec.msgs) != 2 || rec.msgs[0].Event != connector.EventStart || rec.msgs[1].Event != connector.EventEnd {
		t.Fatalf("msgs = %+v", rec.msgs)
	}
	if out.msgs[1].text != "Conversation ended. Say start to begin again." {
		t.Errorf("posted = %+v", out.msgs)
	}
}

func TestDispatch_Errors(t *testing.T) {
	c, out, rec := newTestConnector(nil)

	rec.err = errors.New("db locked")
	c.dispatch(context.Background(), "D1", "U7", "Pune")
	if out.msgs[0].text != "Sorry, something went wrong. Please try again." {
		t.Errorf("posted = %+v", out.msgs)
	}

	rec.err = calls.ErrCallNotFound
	c.dispatch(context.Background(), "D1", "U7", "stop")
	if out.msgs[1].text != "There is no conversation in progress. Say start to begin." {
		t.Errorf("posted = %+v", out.msgs)
	}
}

func TestDispatch_IgnoresBlank(t *testing.T) {
	c, out, rec := newTestConnector(nil)
	c.dispatch(context.Background(), "D1", "U7", "   ")
	if len(rec.msgs) != 0 || len(out.msgs) != 0 {
		t.Errorf("blank text dispatched: %+v %+v", rec.msgs, out.msgs)
	}
}

func TestSend_Thread(t *testing.T) {
	c, out, _ := newTestConnector(nil)
	if err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "C1:1700000000.000100", Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if out.msgs[0].channel != "C1" || out.msgs[0].thread != "1700000000.000100" {
		t.Errorf("posted = %+v", out.msgs[0])
	}

	if err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "", Content: "hi"}); err == nil {
		t.Error("expected error for empty chat id")
	}
	if err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "C1", Content: " "}); err != nil {
		t.Errorf("empty content should be skipped, got %v", err)
	}
	if len(out.msgs) != 1 {
		t.Errorf("posted = %+v", out.msgs)
	}
}

func TestStripMention(t *testing.T) {
	tests := []struct {
		input string
		botID string
		want  string
	}{
		{"<@U123> hello", "U123", "hello"},
		{"hey <@U123> there", "U123", "hey  there"},
		{"no mention here", "U123", "no mention here"},
		{"<@U999> hello", "U123", "<@U999> hello"},
	}

	for _, tt := range tests {
		got := StripMention(tt.input, tt.botID)
		if got != tt.want {
			t.Errorf("StripMention(%q, %q) = %q, want %q", tt.input, tt.botID, got, tt.want)
		}
	}
}

func TestIsAllowedChannel(t *testing.T) {
	c := &Connector{config: Config{Channels: []string{"C001", "C002"}}}
	if !c.isAllowedChannel("C001") || !c.isAllowedChannel("C002") {
		t.Error("configured channels should be allowed")
	}
	if c.isAllowedChannel("C999") {
		t.Error("C999 should not be allowed")
	}

	open := &Connector{}
	if !open.isAllowedChannel("anything") {
		t.Error("empty channels list should allow all")
	}
}

func TestChatIDAndPhone(t *testing.T) {
	if got := chatID("C1", ""); got != "C1" {
		t.Errorf("chatID = %q", got)
	}
	if got := chatID("C1", "17.1"); got != "C1:17.1" {
		t.Errorf("chatID = %q", got)
	}
	if got := Phone("U7"); got != "slack:U7" {
		t.Errorf("Phone = %q", got)
	}
}
