package models

import "time"

// BroadcastEvent is the wire shape emitted by the event broadcaster (C1) to
// every subscriber: a tag, a JSON-compatible payload, and a timestamp.
type BroadcastEvent struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Well-known broadcast event tags.
const (
	EventAgentToolCall         = "agent.tool_call"
	EventToolResult            = "tool.result"
	EventAgentModeChange       = "agent.mode_change"
	EventAgentResponse         = "agent.response"
	EventAgentError            = "agent.error"
	EventAgentStarted          = "agent.started"
	EventAIRetrying            = "ai.retrying"
	EventExecutionTaskStarted  = "execution.task_started"
	EventExecutionTaskComplete = "execution.task_completed"
	EventTxPending             = "tx.pending"
	EventTxConfirmed           = "tx.confirmed"
	EventChannelStarted        = "channel.started"
	EventChannelStopped        = "channel.stopped"
)

// NewBroadcastEvent builds an event with the timestamp set to now.
func NewBroadcastEvent(tag string, data map[string]any) BroadcastEvent {
	if data == nil {
		data = map[string]any{}
	}
	return BroadcastEvent{Event: tag, Data: data, Timestamp: time.Now()}
}
