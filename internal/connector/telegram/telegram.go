package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mn-ai/mnvoice/internal/calls"
	"github.com/mn-ai/mnvoice/internal/connector"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token     string  // Bot token from @BotFather
	AllowFrom []int64 // Allowed Telegram user IDs (empty = allow all)
}

// sender is the part of the bot API the connector replies through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Connector runs the qualification conversation as a Telegram chat.
// Each chat is a caller identified as "tg:<chat_id>".
type Connector struct {
	bot     *tgbotapi.BotAPI
	out     sender
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// New creates a new Telegram connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telegram")
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		out:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			c.handleUpdate(ctx, update)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a plain-text message to a Telegram chat.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	chatID, err := strconv.ParseInt(strings.TrimPrefix(msg.ChatID, "tg:"), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat_id %q: %w", msg.ChatID, err)
	}
	if strings.TrimSpace(msg.Content) == "" {
		c.logger.Warn("skipping empty message", "chat_id", msg.ChatID)
		return nil
	}

	tgMsg := tgbotapi.NewMessage(chatID, msg.Content)
	tgMsg.DisableWebPagePreview = true
	if _, err := c.out.Send(tgMsg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if len(c.config.AllowFrom) > 0 && !slices.Contains(c.config.AllowFrom, userID) {
		c.logger.Warn("unauthorized user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	inbound := connector.InboundMessage{
		Channel: "telegram",
		Event:   connector.EventTurn,
		Phone:   Phone(chatID),
		Content: msg.Text,
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			inbound.Event = connector.EventStart
		case "stop":
			inbound.Event = connector.EventEnd
		case "help":
			c.reply(chatID, "Send /start to begin, answer the questions, or /stop to end the conversation.")
			return
		default:
			c.reply(chatID, "Unknown command. Send /help for options.")
			return
		}
	} else if strings.TrimSpace(inbound.Content) == "" {
		return
	}

	c.out.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	res, err := c.handler(ctx, inbound)
	switch {
	case errors.Is(err, calls.ErrCallNotFound) && inbound.Event == connector.EventEnd:
		c.reply(chatID, "There is no conversation in progress. Send /start to begin.")
	case err != nil:
		c.logger.Error("inbound handler error", "chat_id", chatID, "event", inbound.Event, "error", err)
		c.reply(chatID, "Sorry, something went wrong. Please try again.")
	case inbound.Event == connector.EventEnd:
		c.reply(chatID, "Conversation ended. Send /start to begin again.")
	default:
		c.logger.Debug("reply sent", "call_id", res.CallID, "state", res.State)
		c.reply(chatID, res.Text)
	}
}

func (c *Connector) reply(chatID int64, text string) {
	if err := c.Send(context.Background(), connector.OutboundMessage{ChatID: strconv.FormatInt(chatID, 10), Content: text}); err != nil {
		c.logger.Error("reply failed", "chat_id", chatID, "error", err)
	}
}

// Phone is the caller identity of a Telegram chat.
func Phone(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}
