// Package slack adapts a slack-go Socket Mode client to the
// transport.FullAdapter contract.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nexuscore/runtime/internal/transport"
	"github.com/nexuscore/runtime/pkg/models"
)

// Config configures the Slack adapter.
type Config struct {
	BotToken string // xoxb- token for API calls
	AppToken string // xapp- token for Socket Mode
	Logger   *slog.Logger
}

// Adapter implements transport.FullAdapter for Slack via Socket Mode.
type Adapter struct {
	cfg          Config
	client       *slack.Client
	socketClient *socketmode.Client
	messages     chan *models.Message

	mu        sync.RWMutex
	connected bool
	botUserID string

	cancel context.CancelFunc
}

// NewAdapter constructs an Adapter from cfg.
func NewAdapter(cfg Config) *Adapter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	socketClient := socketmode.New(client)

	return &Adapter{
		cfg:          cfg,
		client:       client,
		socketClient: socketClient,
		messages:     make(chan *models.Message, 100),
	}
}

// Type reports the channel type this adapter serves.
func (a *Adapter) Type() models.ChannelType { return models.ChannelSlack }

// Start authenticates, resolves the bot's own user id, and begins
// processing Socket Mode events.
func (a *Adapter) Start(ctx context.Context) error {
	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: authenticate: %w", err)
	}
	a.mu.Lock()
	a.botUserID = auth.UserID
	a.connected = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.handleEvents(ctx)
	go func() {
		if err := a.socketClient.Run(); err != nil {
			a.mu.Lock()
			a.connected = false
			a.mu.Unlock()
			a.cfg.Logger.Error("slack: socket mode run error", "error", err)
		}
	}()
	return nil
}

// Stop cancels the event loop.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

// Send posts msg's content to its Slack channel.
func (a *Adapter) Send(ctx context.Context, msg *models.Message) error {
	if msg.ChannelID == "" {
		return fmt.Errorf("slack: message missing channel id")
	}
	_, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, slack.MsgOptionText(msg.Content, false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
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

func (a *Adapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socketClient.Events:
			if !ok {
				return
			}
			if event.Type == socketmode.EventTypeEventsAPI {
				a.handleEventsAPI(event)
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if event.Request != nil {
		a.socketClient.Ack(*event.Request)
	}

	if eventsAPIEvent.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.BotID != "" {
			return
		}
		a.handleMessage(ev)
	case *slackevents.AppMentionEvent:
		a.handleMessage(&slackevents.MessageEvent{
			User:            ev.User,
			Text:            ev.Text,
			Channel:         ev.Channel,
			TimeStamp:       ev.TimeStamp,
			ThreadTimeStamp: ev.ThreadTimeStamp,
		})
	}
}

func (a *Adapter) handleMessage(event *slackevents.MessageEvent) {
	a.mu.RLock()
	botUserID := a.botUserID
	a.mu.RUnlock()

	isDM := strings.HasPrefix(event.Channel, "D")
	isMention := strings.Contains(event.Text, fmt.Sprintf("<@%s>", botUserID))
	if !isDM && !isMention && event.ThreadTimeStamp == "" {
		return
	}

	ts, _ := parseSlackTimestamp(event.TimeStamp)
	msg := &models.Message{
		ID:        event.TimeStamp,
		Channel:   models.ChannelSlack,
		ChannelID: event.Channel,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   strings.TrimSpace(strings.ReplaceAll(event.Text, fmt.Sprintf("<@%s>", botUserID), "")),
		CreatedAt: ts,
		Metadata: map[string]any{
			"slack_user_id":    event.User,
			"slack_thread_ts":  event.ThreadTimeStamp,
		},
	}

	select {
	case a.messages <- msg:
	default:
		a.cfg.Logger.Warn("slack: inbound message queue full, dropping", "ts", event.TimeStamp)
	}
}

func parseSlackTimestamp(ts string) (time.Time, error) {
	parts := strings.SplitN(ts, ".", 2)
	if len(parts) == 0 || parts[0] == "" {
		return time.Now(), fmt.Errorf("slack: empty timestamp")
	}
	var sec int64
	if _, err := fmt.Sscanf(parts[0], "%d", &sec); err != nil {
		return time.Now(), err
	}
	return time.Unix(sec, 0), nil
}
