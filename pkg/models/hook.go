package models

// HookEvent is a lifecycle point in the dispatch pipeline hooks can observe.
type HookEvent string

const (
	BeforeAgentStart HookEvent = "before_agent_start"
	AfterAgentEnd    HookEvent = "after_agent_end"
	BeforeToolCall   HookEvent = "before_tool_call"
	AfterToolCall    HookEvent = "after_tool_call"
	OnModeTransition HookEvent = "on_mode_transition"
	OnError          HookEvent = "on_error"
	BeforeResponse   HookEvent = "before_response"
	OnMemoryUpdate   HookEvent = "on_memory_update"
	BeforeCommit     HookEvent = "before_commit"
	AfterCommit      HookEvent = "after_commit"
	BeforePush       HookEvent = "before_push"
	AfterPush        HookEvent = "after_push"
	BeforePrCreate   HookEvent = "before_pr_create"
	AfterPrCreate    HookEvent = "after_pr_create"
	SessionStart     HookEvent = "session_start"
	SessionEnd       HookEvent = "session_end"
	OnRewardEmitted  HookEvent = "on_reward_emitted"
	OnAnnotation     HookEvent = "on_annotation"
	OnRolloutRetry   HookEvent = "on_rollout_retry"
	OnWatchdogTimeout HookEvent = "on_watchdog_timeout"
)

// HookPriority is the five-tier scale hooks register at; lower runs earlier.
type HookPriority int

const (
	PriorityCritical HookPriority = 0
	PriorityHigh     HookPriority = 100
	PriorityNormal   HookPriority = 500
	PriorityLow      HookPriority = 900
	PriorityLowest   HookPriority = 1000
)

// HookContext is the mutable payload handed to each hook.
type HookContext struct {
	Event     HookEvent
	ChannelID string
	SessionID string

	Message string

	ToolName   string
	ToolArgs   map[string]any
	ToolResult string

	ModeFrom string
	ModeTo   string

	ErrorText    string
	ResponseText string

	Commit    string
	Branch    string
	Remote    string
	PR        string
	Workspace string

	Extra map[string]any
}

// HookResultKind tags the variant of a HookResult.
type HookResultKind string

const (
	HookContinue HookResultKind = "continue"
	HookSkip     HookResultKind = "skip"
	HookCancel   HookResultKind = "cancel"
	HookReplace  HookResultKind = "replace"
	HookError    HookResultKind = "error"
)

// HookResult is the tagged outcome of running one hook.
type HookResult struct {
	Kind   HookResultKind
	Data   any
	Reason string
	Value  any
	Err    string
}

// ContinueResult keeps the chain running, optionally stashing data as the
// current final result.
func ContinueResult(data any) HookResult { return HookResult{Kind: HookContinue, Data: data} }

// SkipResult stops the chain and reports Skip to the caller.
func SkipResult() HookResult { return HookResult{Kind: HookSkip} }

// CancelResult stops the chain and aborts the dispatch.
func CancelResult(reason string) HookResult { return HookResult{Kind: HookCancel, Reason: reason} }

// ReplaceResult overrides the final result and continues the chain.
func ReplaceResult(value any) HookResult { return HookResult{Kind: HookReplace, Value: value} }

// ErrorResult records a hook error; by default the chain continues.
func ErrorResult(msg string) HookResult { return HookResult{Kind: HookError, Err: msg} }

// HookStats are the per-hook counters updated after every invocation.
type HookStats struct {
	Executions    int64
	Successes     int64
	Failures      int64
	Skips         int64
	Cancellations int64
	AvgExecMs     float64
	MaxExecMs     float64
}
