package slackconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/mn-ai/mnvoice/internal/calls"
	"github.com/mn-ai/mnvoice/internal/connector"
)

// Config holds Slack connector configuration.
type Config struct {
	BotToken string   // xoxb-... Bot User OAuth Token
	AppToken string   // xapp-... App-Level Token (for Socket Mode)
	Channels []string // Optional: only respond in these channels (empty = all)
}

// poster is the part of the Web API the connector replies through.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Connector runs the qualification conversation in Slack via Socket Mode.
// Each Slack user is a caller identified as "slack:<user_id>".
type Connector struct {
	api     *slack.Client
	out     poster
	socket  *socketmode.Client
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	botID   string
}

// New creates a new Slack connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "slack")

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:     api,
		out:     api,
		socket:  socketmode.New(api),
		config:  cfg,
		handler: handler,
		logger:  logger,
		botID:   authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send posts a message. ChatID is "<channel>" or "<channel>:<thread_ts>".
func (c *Connector) Send(ctx context.Context, msg connector.OutboundMessage) error {
	if strings.TrimSpace(msg.Content) == "" {
		c.logger.Warn("skipping empty message", "chat_id", msg.ChatID)
		return nil
	}
	channel, thread, _ := strings.Cut(msg.ChatID, ":")
	if channel == "" {
		return fmt.Errorf("slack: invalid chat_id %q", msg.ChatID)
	}

	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if thread != "" {
		opts = append(opts, slack.MsgOptionTS(thread))
	}
	if _, _, err := c.out.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, event)
			case socketmode.EventTypeSlashCommand:
				c.handleSlashCommand(ctx, event)
			}
		}
	}
}

func (c *Connector) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	c.socket.Ack(*event.Request)

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		c.handleMessage(ctx, ev)
	case *slackevents.AppMentionEvent:
		if ev.User == c.botID || !c.isAllowedChannel(ev.Channel) {
			return
		}
		c.dispatch(ctx, chatID(ev.Channel, ev.ThreadTimeStamp), ev.User, StripMention(ev.Text, c.botID))
	}
}

func (c *Connector) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Ignore bot messages (including our own)
	if ev.BotID != "" || ev.User == "" || ev.User == c.botID {
		return
	}
	// Ignore message subtypes (edits, deletes, etc.)
	if ev.SubType != "" {
		return
	}
	if !c.isAllowedChannel(ev.Channel) {
		return
	}
	c.dispatch(ctx, chatID(ev.Channel, ev.ThreadTimeStamp), ev.User, ev.Text)
}

// handleSlashCommand serves "/qualify start" and "/qualify stop".
func (c *Connector) handleSlashCommand(ctx context.Context, event socketmode.Event) {
	cmd, ok := event.Data.(slack.SlashCommand)
	if !ok {
		return
	}
	c.socket.Ack(*event.Request)

	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		text = "start"
	}
	c.dispatch(ctx, cmd.ChannelID, cmd.UserID, text)
}

// dispatch turns one Slack utterance into a call event and posts the reply.
// The bare words "start" and "stop" open and close the conversation.
func (c *Connector) dispatch(ctx context.Context, chat, user, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	inbound := connector.InboundMessage{
		Channel: "slack",
		Event:   connector.EventTurn,
		Phone:   Phone(user),
		Content: text,
	}
	switch strings.ToLower(text) {
	case "start":
		inbound.Event = connector.EventStart
	case "stop":
		inbound.Event = connector.EventEnd
	}

	res, err := c.handler(ctx, inbound)
	switch {
	case errors.Is(err, calls.ErrCallNotFound) && inbound.Event == connector.EventEnd:
		c.reply(ctx, chat, "There is no conversation in progress. Say start to begin.")
	case err != nil:
		c.logger.Error("slack inbound handler error", "chat_id", chat, "user", user, "event", inbound.Event, "error", err)
		c.reply(ctx, chat, "Sorry, something went wrong. Please try again.")
	case inbound.Event == connector.EventEnd:
		c.reply(ctx, chat, "Conversation ended. Say start to begin again.")
	default:
		c.logger.Debug("reply sent", "call_id", res.CallID, "state", res.State)
		c.reply(ctx, chat, res.Text)
	}
}

func (c *Connector) reply(ctx context.Context, chat, text string) {
	if err := c.Send(ctx, connector.OutboundMessage{ChatID: chat, Content: text}); err != nil {
		c.logger.Error("reply failed", "chat_id", chat, "error", err)
	}
}

func (c *Connector) isAllowedChannel(channel string) bool {
	return len(c.config.Channels) == 0 || slices.Contains(c.config.Channels, channel)
}

// chatID keeps replies in the thread the caller wrote in.
func chatID(channel, threadTS string) string {
	if threadTS == "" {
		return channel
	}
	return channel + ":" + threadTS
}

// Phone is the caller identity of a Slack user.
func Phone(userID string) string {
	return "slack:" + userID
}

// StripMention removes the <@BOTID> mention from message text.
func StripMention(text, botID string) string {
	mention := fmt.Sprintf("<@%s>", botID)
	text = strings.Replace(text, mention, "", 1)
	return strings.TrimSpace(text)
}
