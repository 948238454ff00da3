// Package dispatcher orchestrates the single NormalizedMessage->response
// pipeline that every transport feeds into: routing, lane acquisition,
// hooks, context bank scanning, rollout/attempt bookkeeping, the agentic
// tool-calling loop under watchdog guard, span flushing, and session
// history updates. Grounded on the teacher's Runtime (explicit collaborator
// fields, no global singletons) and its agentic loop structure in loop.go.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nexuscore/runtime/internal/broadcaster"
	"github.com/nexuscore/runtime/internal/contextbank"
	"github.com/nexuscore/runtime/internal/hooks"
	"github.com/nexuscore/runtime/internal/lanes"
	"github.com/nexuscore/runtime/internal/observability"
	"github.com/nexuscore/runtime/internal/rollout"
	"github.com/nexuscore/runtime/internal/spans"
	"github.com/nexuscore/runtime/internal/toolregistry"
	"github.com/nexuscore/runtime/internal/watchdog"
	"github.com/nexuscore/runtime/pkg/models"
)

// NormalizedMessage is the dispatcher's input, produced once by a transport
// and consumed exactly once.
type NormalizedMessage struct {
	ChannelID       int
	ChannelType     string
	ChatID          string
	UserID          string
	UserName        string
	Text            string
	MessageID       string
	SessionMode     string
	ForceSafeMode   bool
	SelectedNetwork string
}

// ModelResponse is one model call's result.
type ModelResponse struct {
	Text      string
	ToolCalls []models.ToolCall
}

// ModelAdapter is the dispatcher's model-call contract; concrete adapters
// (internal/provideradapter) implement this against a specific provider SDK.
type ModelAdapter interface {
	Call(ctx context.Context, messages []models.Message) (ModelResponse, error)
	// Name reports the concrete model string in use, stamped onto LlmCall spans.
	Name() string
}

// ChannelStore resolves a channel row by id.
type ChannelStore interface {
	Get(ctx context.Context, channelID int) (models.Channel, bool, error)
}

// SessionStore resolves-or-creates a session for (channelID, chatID) and
// appends turns to its persistent history.
type SessionStore interface {
	Resolve(ctx context.Context, channelID int, chatID string) (*models.Session, error)
	AppendHistory(ctx context.Context, sessionID string, msgs []models.Message) error
}

// SpanStore persists a rollout's flushed spans in sequence order.
type SpanStore interface {
	SaveSpans(ctx context.Context, rolloutID string, spans []models.Span) error
}

// Result is what Dispatch returns on both success and terminal failure.
type Result struct {
	Text    string
	Rollout *models.Rollout
	Err     string
}

const defaultMaxIterations = 25

// Dispatcher wires every core component together with no global state: all
// collaborators are explicit fields, constructed once and shared across
// concurrent dispatches.
type Dispatcher struct {
	Channels    ChannelStore
	Sessions    SessionStore
	Spans       SpanStore
	Broadcaster *broadcaster.Broadcaster
	Hooks       *hooks.Registry
	Lanes       *lanes.Manager
	Rollouts    *rollout.Manager
	ContextBank *contextbank.Scanner
	Tools       *toolregistry.Registry
	Model       ModelAdapter
	Watchdog    watchdog.Config
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// New constructs a Dispatcher from its collaborators. A nil Logger defaults
// to slog.Default().
func New(d Dispatcher) *Dispatcher {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &d
}

// Dispatch runs the full 13-step pipeline for one inbound message.
func (d *Dispatcher) Dispatch(ctx context.Context, msg NormalizedMessage) (*Result, error) {
	if d.Metrics != nil {
		d.Metrics.MessageReceived(msg.ChannelType, "inbound")
	}

	// 1. Route.
	channel, ok, err := d.Channels.Get(ctx, msg.ChannelID)
	if !ok || err != nil {
		d.broadcastError(msg.ChannelID, "unknown channel")
		return nil, fmt.Errorf("dispatcher: unknown channel %d", msg.ChannelID)
	}
	session, err := d.Sessions.Resolve(ctx, msg.ChannelID, msg.ChatID)
	if err != nil {
		d.broadcastError(msg.ChannelID, "failed to resolve session")
		return nil, fmt.Errorf("dispatcher: resolve session: %w", err)
	}

	// 2. Lane. Held until step 13.
	guard, err := d.Lanes.Acquire(ctx, session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: acquire session lane: %w", err)
	}
	defer guard.Release()

	// 3. Pre-hook.
	preOutcome := d.Hooks.Trigger(ctx, models.BeforeAgentStart, &models.HookContext{
		Event:     models.BeforeAgentStart,
		ChannelID: channel.ChatID,
		SessionID: session.SessionID,
		Message:   msg.Text,
	})
	if preOutcome.Kind == models.HookCancel {
		d.broadcastError(msg.ChannelID, preOutcome.Reason)
		return &Result{Err: preOutcome.Reason}, nil
	}

	// 4. Context bank.
	var systemPrompt string
	if d.ContextBank != nil {
		items := d.ContextBank.Scan(msg.Text)
		systemPrompt = contextbank.Format(items)
	}

	// 5. Rollout start.
	cfg := channel.Config
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	ro, collector, err := d.Rollouts.StartRollout(ctx, session.SessionID, msg.ChannelID, cfg)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: start rollout: %w", err)
	}
	if err := d.Rollouts.MarkRunning(ctx, ro); err != nil {
		return nil, fmt.Errorf("dispatcher: mark rollout running: %w", err)
	}
	d.Broadcaster.Broadcast(models.NewBroadcastEvent(models.EventAgentStarted, map[string]any{
		"channel_id": msg.ChannelID,
		"rollout_id": ro.RolloutID,
	}))

	// 6. Watchdog.
	wd := watchdog.New(d.Watchdog)
	monitor := wd.StartHeartbeatMonitor(ctx, msg.ChannelID, d.Broadcaster)
	defer monitor.Abort()

	history := append(append([]models.Message{}, session.History...), models.Message{
		SessionID: session.SessionID,
		Channel:   channel.Type,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   msg.Text,
		CreatedAt: time.Now(),
	})

	rctx, rolloutSpan := collector.StartGuardedCtx(ctx, models.SpanRollout, "rollout:"+ro.RolloutID)
	rolloutSpan.Attributes()["session_id"] = session.SessionID
	rolloutSpan.Attributes()["channel_id"] = msg.ChannelID

	result := d.runAgenticLoop(rctx, wd, collector, ro, systemPrompt, history, cfg, session, channel, msg)
	switch {
	case ro.Status == models.RolloutSucceeded:
		rolloutSpan.Succeed()
	case ro.Status == models.RolloutCancelled:
		rolloutSpan.Cancel()
	default:
		rolloutSpan.Fail(result.Err)
	}

	if d.Metrics != nil {
		status := "succeeded"
		if result.Err != "" {
			status = "failed"
		}
		d.Metrics.RecordRunAttempt(status)
		d.Metrics.MessageProcessed(channel.Type, status)
	}

	// 10. Flush spans.
	if d.Spans != nil {
		_ = d.Spans.SaveSpans(ctx, ro.RolloutID, collector.Drain())
	} else {
		collector.Drain()
	}

	// 12. Session history update.
	turns := []models.Message{{
		SessionID: session.SessionID, Channel: channel.Type, Direction: models.DirectionInbound,
		Role: models.RoleUser, Content: msg.Text, CreatedAt: time.Now(),
	}}
	if result.Text != "" {
		turns = append(turns, models.Message{
			SessionID: session.SessionID, Channel: channel.Type, Direction: models.DirectionOutbound,
			Role: models.RoleAssistant, Content: result.Text, CreatedAt: time.Now(),
		})
	}
	_ = d.Sessions.AppendHistory(ctx, session.SessionID, turns)

	// AfterAgentEnd observes only; its outcome is intentionally discarded.
	d.Hooks.Trigger(ctx, models.AfterAgentEnd, &models.HookContext{
		Event: models.AfterAgentEnd, ChannelID: channel.ChatID, SessionID: session.SessionID,
		ResponseText: result.Text, ErrorText: result.Err,
	})

	result.Rollout = ro
	return result, nil
}

// runAgenticLoop implements step 7-9: assemble -> model call -> tool calls
// -> continue/terminate, retrying the whole attempt when fail_attempt says so.
func (d *Dispatcher) runAgenticLoop(ctx context.Context, wd *watchdog.Watchdog, collector *spans.Collector, ro *models.Rollout, systemPrompt string, history []models.Message, cfg models.RolloutConfig, session *models.Session, channel models.Channel, msg NormalizedMessage) *Result {
	deadline := time.Now().Add(time.Duration(cfg.TimeoutSecs) * time.Second)
	if cfg.TimeoutSecs <= 0 {
		deadline = time.Now().Add(5 * time.Minute)
	}

	base := history
	if systemPrompt != "" {
		base = append([]models.Message{{Role: models.RoleSystem, Content: systemPrompt}}, base...)
	}
	messages := base

	for iteration := 0; ; iteration++ {
		attempt := ro.CurrentAttempt()

		if iteration >= cfg.MaxIterations || time.Now().After(deadline) {
			retry, err := d.Rollouts.FailAttempt(ctx, ro, fmt.Errorf("timeout: exceeded max iterations or rollout deadline"), collector)
			if err == nil && retry {
				d.armRetry(ctx, ro, channel, session)
				iteration = -1
				messages = base
				continue
			}
			return d.terminalFailure(ctx, ro, channel, session, "the request timed out")
		}

		// 7a. BeforeResponse hooks observe the outgoing message assembly.
		d.Hooks.Trigger(ctx, models.BeforeResponse, &models.HookContext{
			Event: models.BeforeResponse, ChannelID: channel.ChatID, SessionID: session.SessionID,
		})

		// 7b. Model call under watchdog guard, wrapped in an LlmCall span.
		llmCtx, llmSpan := collector.StartGuardedCtx(ctx, models.SpanLlmCall, "llm_call:"+d.Model.Name())
		llmSpan.Attributes()["model"] = d.Model.Name()
		llmSpan.Attributes()["messages_count"] = len(messages)
		resp, err := watchdog.GuardLlm(llmCtx, wd, collector, "model", func(cctx context.Context) (ModelResponse, error) {
			return d.Model.Call(cctx, messages)
		})
		attempt.LlmCalls++
		if err != nil {
			llmSpan.Fail(err.Error())
			reason := classifyWatchdogErr(err)
			retry, ferr := d.Rollouts.FailAttempt(ctx, ro, reason, collector)
			if ferr == nil && retry {
				d.armRetry(ctx, ro, channel, session)
				iteration = -1
				messages = base
				continue
			}
			return d.terminalFailure(ctx, ro, channel, session, err.Error())
		}
		llmSpan.Succeed()

		// 7c. Text-only response: success.
		if len(resp.ToolCalls) == 0 {
			if err := d.Rollouts.SucceedRollout(ctx, ro, resp.Text); err != nil {
				return d.terminalFailure(ctx, ro, channel, session, err.Error())
			}
			d.Broadcaster.Broadcast(models.NewBroadcastEvent(models.EventAgentResponse, map[string]any{
				"channel_id": msg.ChannelID, "text": resp.Text,
			}))
			return &Result{Text: resp.Text}
		}

		// 7d. Tool calls, in order.
		toolMessages, aborted, abortErr := d.runToolCalls(ctx, wd, collector, ro, channel, session, resp.ToolCalls)
		if aborted {
			retry, ferr := d.Rollouts.FailAttempt(ctx, ro, abortErr, collector)
			if ferr == nil && retry {
				d.armRetry(ctx, ro, channel, session)
				iteration = -1
				messages = base
				continue
			}
			return d.terminalFailure(ctx, ro, channel, session, abortErr.Error())
		}
		messages = append(messages, models.Message{Role: models.RoleAssistant, ToolCalls: resp.ToolCalls})
		messages = append(messages, toolMessages...)
	}
}

func (d *Dispatcher) runToolCalls(ctx context.Context, wd *watchdog.Watchdog, collector *spans.Collector, ro *models.Rollout, channel models.Channel, session *models.Session, calls []models.ToolCall) ([]models.Message, bool, error) {
	attempt := ro.CurrentAttempt()
	var out []models.Message

	for _, tc := range calls {
		hctx := &models.HookContext{
			Event: models.BeforeToolCall, ChannelID: channel.ChatID, SessionID: session.SessionID,
			ToolName: tc.Name,
		}
		before := d.Hooks.Trigger(ctx, models.BeforeToolCall, hctx)
		if before.Kind == models.HookCancel {
			return nil, true, fmt.Errorf("tool error: %s", before.Reason)
		}
		if before.Kind == models.HookSkip {
			out = append(out, toolResponse(tc.ID, "skipped by policy", false))
			continue
		}

		attempt.ToolCalls++

		d.Broadcaster.Broadcast(models.NewBroadcastEvent(models.EventAgentToolCall, map[string]any{
			"tool_name":  tc.Name,
			"parameters": decodeToolInput(tc.Input),
		}))

		toolCtx, toolSpan := collector.StartGuardedCtx(ctx, models.SpanToolCall, "tool_call:"+tc.Name)
		toolSpan.Attributes()["tool_name"] = tc.Name
		toolSpan.Attributes()["args_redacted"] = redactArgs(tc.Input)

		start := time.Now()
		result, ok := watchdog.GuardToolCall(toolCtx, wd, collector, tc.Name, func(cctx context.Context) toolregistry.Result {
			res, _ := d.Tools.Execute(cctx, tc.Name, tc.Input, &toolregistry.Context{SessionID: session.SessionID, ChannelID: channel.ChatID})
			return res
		})
		duration := time.Since(start)

		var content string
		var isError bool
		if !ok {
			content, isError = "tool call timed out", true
			toolSpan.Timeout()
		} else {
			content, isError = result.Content, !result.Success
			if isError {
				toolSpan.Fail(content)
			} else {
				toolSpan.Succeed()
			}
		}

		after := d.Hooks.Trigger(ctx, models.AfterToolCall, &models.HookContext{
			Event: models.AfterToolCall, ChannelID: channel.ChatID, SessionID: session.SessionID,
			ToolName: tc.Name, ToolResult: content,
		})
		if after.Kind == models.HookReplace {
			if s, ok := after.Value.(string); ok {
				content = s
			}
		}

		d.Broadcaster.Broadcast(models.NewBroadcastEvent(models.EventToolResult, map[string]any{
			"channel_id":  channel.ID,
			"tool_name":   tc.Name,
			"success":     !isError,
			"duration_ms": duration.Milliseconds(),
			"content":     content,
		}))
		out = append(out, toolResponse(tc.ID, content, isError))
	}
	return out, false, nil
}

func toolResponse(callID, content string, isError bool) models.Message {
	return models.Message{
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{{ToolCallID: callID, Content: content, IsError: isError}},
	}
}

// armRetry sleeps the configured retry delay and emits an observe-only
// OnRolloutRetry hook event before the loop re-enters step 7 under the new
// attempt rollout.FailAttempt already appended.
func (d *Dispatcher) armRetry(ctx context.Context, ro *models.Rollout, channel models.Channel, session *models.Session) {
	delay := rollout.RetryDelay(ro)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
	d.Hooks.Trigger(ctx, models.OnRolloutRetry, &models.HookContext{
		Event: models.OnRolloutRetry, ChannelID: channel.ChatID, SessionID: session.SessionID,
	})
}

func (d *Dispatcher) terminalFailure(ctx context.Context, ro *models.Rollout, channel models.Channel, session *models.Session, reason string) *Result {
	d.Broadcaster.Broadcast(models.NewBroadcastEvent(models.EventAgentError, map[string]any{
		"channel_id": channel.ID, "reason": reason,
	}))
	return &Result{Text: "I'm sorry, something went wrong: " + reason, Err: reason}
}

func (d *Dispatcher) broadcastError(channelID int, reason string) {
	d.Broadcaster.Broadcast(models.NewBroadcastEvent(models.EventAgentError, map[string]any{
		"channel_id": channelID, "reason": reason,
	}))
}

// sensitiveArgKeys mirrors observability.Logger's key-based redaction so
// structured tool arguments get the same treatment as log fields.
var sensitiveArgKeys = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"private_key", "privatekey", "auth", "authorization",
}

func isSensitiveArgKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveArgKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// redactArgs decodes a tool call's raw JSON input and masks sensitive values
// by key name, for the ToolCall span's args_redacted attribute.
func redactArgs(raw json.RawMessage) map[string]any {
	args := decodeToolInput(raw)
	for k := range args {
		if isSensitiveArgKey(k) {
			args[k] = "[REDACTED]"
		}
	}
	return args
}

// decodeToolInput unmarshals a tool call's raw JSON input, returning an empty
// map on malformed or absent input rather than failing the call.
func decodeToolInput(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return map[string]any{}
	}
	return args
}

func classifyWatchdogErr(err error) error {
	var wdErr *watchdog.Error
	if werr, ok := err.(*watchdog.Error); ok {
		wdErr = werr
	}
	if wdErr != nil && wdErr.Timeout {
		return fmt.Errorf("time out: %s", err.Error())
	}
	return err
}
