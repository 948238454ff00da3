// Package telegram adapts a go-telegram/bot client to the
// transport.FullAdapter contract via long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/nexuscore/runtime/internal/transport"
	"github.com/nexuscore/runtime/pkg/models"
)

// Config configures the Telegram adapter.
type Config struct {
	Token  string
	Logger *slog.Logger
}

// Adapter implements transport.FullAdapter for Telegram via long polling.
type Adapter struct {
	cfg      Config
	bot      *tgbot.Bot
	messages chan *models.Message
	cancel   context.CancelFunc

	mu        sync.RWMutex
	connected bool
}

// NewAdapter validates cfg and constructs an Adapter.
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &Adapter{cfg: cfg, messages: make(chan *models.Message, 100)}

	b, err := tgbot.New(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "", tgbot.MatchTypePrefix, a.handleUpdate)
	a.bot = b
	return a, nil
}

// Type reports the channel type this adapter serves.
func (a *Adapter) Type() models.ChannelType { return models.ChannelTelegram }

// Start begins long polling for updates in a background goroutine.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()

	go a.bot.Start(ctx)
	return nil
}

// Stop cancels the long-polling loop.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

// Send posts msg's content to its Telegram chat.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.ChannelID, err)
	}
	_, err = a.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Content,
	})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// Messages returns the channel of inbound normalized messages.
func (a *Adapter) Messages() <-chan *models.Message { return a.messages }

// Status reports the adapter's current connection state.
func (a *Adapter) Status() transport.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return transport.Status{Connected: a.connected}
}

func (a *Adapter) handleUpdate(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	m := update.Message
	msg := &models.Message{
		ID:        strconv.Itoa(m.ID),
		Channel:   models.ChannelTelegram,
		ChannelID: strconv.FormatInt(m.Chat.ID, 10),
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   m.Text,
		CreatedAt: time.Unix(int64(m.Date), 0),
		Metadata: map[string]any{
			"telegram_user_id":  m.From.ID,
			"telegram_username": m.From.Username,
		},
	}
	select {
	case a.messages <- msg:
	default:
		a.cfg.Logger.Warn("telegram: inbound message queue full, dropping", "message_id", msg.ID)
	}
}
