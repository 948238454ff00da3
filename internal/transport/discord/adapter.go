// Package discord adapts a discordgo session to the transport.FullAdapter
// contract: inbound messages are normalized into models.Message and
// delivered over a channel; outbound sends go straight to the Discord API.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nexuscore/runtime/internal/transport"
	"github.com/nexuscore/runtime/pkg/models"
)

// Config configures the Discord adapter.
type Config struct {
	Token                string
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	Logger               *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Adapter implements transport.FullAdapter for Discord.
type Adapter struct {
	cfg      Config
	session  *discordgo.Session
	messages chan *models.Message

	mu        sync.RWMutex
	connected bool
	lastErr   error
}

// NewAdapter validates cfg and constructs an Adapter.
func NewAdapter(cfg Config) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token is required")
	}
	cfg.applyDefaults()

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	a := &Adapter{
		cfg:      cfg,
		session:  session,
		messages: make(chan *models.Message, 100),
	}
	session.AddHandler(a.handleMessageCreate)
	session.AddHandler(a.handleDisconnect)
	return a, nil
}

// Type reports the channel type this adapter serves.
func (a *Adapter) Type() models.ChannelType { return models.ChannelDiscord }

// Start opens the Discord WebSocket connection.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		a.mu.Lock()
		a.lastErr = err
		a.mu.Unlock()
		return fmt.Errorf("discord: open session: %w", err)
	}
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

// Stop closes the Discord WebSocket connection.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return a.session.Close()
}

// Send posts msg's content to its Discord channel.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	if msg.ChannelID == "" {
		return fmt.Errorf("discord: message missing channel id")
	}
	_, err := a.session.ChannelMessageSend(msg.ChannelID, msg.Content)
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Messages returns the channel of inbound normalized messages.
func (a *Adapter) Messages() <-chan *models.Message { return a.messages }

// Status reports the adapter's current connection state.
func (a *Adapter) Status() transport.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := transport.Status{Connected: a.connected}
	if a.lastErr != nil {
		s.Error = a.lastErr.Error()
	}
	return s
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	msg := &models.Message{
		ID:        m.ID,
		Channel:   models.ChannelDiscord,
		ChannelID: m.ChannelID,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   m.Content,
		CreatedAt: time.Now(),
		Metadata: map[string]any{
			"discord_user_id":  m.Author.ID,
			"discord_username": m.Author.Username,
		},
	}
	if !m.Timestamp.IsZero() {
		msg.CreatedAt = m.Timestamp
	}
	select {
	case a.messages <- msg:
	default:
		a.cfg.Logger.Warn("discord: inbound message queue full, dropping", "message_id", m.ID)
	}
}

func (a *Adapter) handleDisconnect(s *discordgo.Session, d *discordgo.Disconnect) {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	a.cfg.Logger.Warn("discord: session disconnected")
}
