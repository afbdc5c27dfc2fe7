package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ── Tier ─────────────────────────────────────────────────────

// Tier identifies a tenant's subscription tier.
type Tier string

const (
	TierStandard     Tier = "standard"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// TierBudget is the resource envelope applied to a tenant's worker.
// SharingRatio is the number of tenants that may share one connection slot;
// a ratio of 1 means a dedicated slot.
type TierBudget struct {
	MemoryMB     int `json:"memory_mb"`
	CPUPercent   int `json:"cpu_percent"`
	SharingRatio int `json:"sharing_ratio"`
	MaxSlots     int `json:"max_slots"`
}

// ── Worker ───────────────────────────────────────────────────

// WorkerStatus is the lifecycle state of a tenant's worker.
type WorkerStatus string

const (
	WorkerStarting    WorkerStatus = "starting"
	WorkerConnecting  WorkerStatus = "connecting"
	WorkerReady       WorkerStatus = "ready"
	WorkerDegraded    WorkerStatus = "degraded"
	WorkerTerminating WorkerStatus = "terminating"
	WorkerTerminated  WorkerStatus = "terminated"
)

// WorkerInfo is the manager's view of one tenant's worker.
type WorkerInfo struct {
	TenantID      string       `json:"tenant_id"`
	Status        WorkerStatus `json:"status"`
	Tier          Tier         `json:"tier"`
	Epoch         uint64       `json:"epoch"`
	StartedAt     time.Time    `json:"started_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat,omitempty"`
	RestartCount  int          `json:"restart_count"`
	LastError     string       `json:"last_error,omitempty"`
}

// ── IPC envelope ─────────────────────────────────────────────

// EnvelopeType enumerates the worker IPC message types.
type EnvelopeType string

// Worker → control plane.
const (
	MsgStatusUpdate       EnvelopeType = "STATUS_UPDATE"
	MsgNewMessageReceived EnvelopeType = "NEW_MESSAGE_RECEIVED"
	MsgErrorInfo          EnvelopeType = "ERROR_INFO"
	MsgWorkerShutdown     EnvelopeType = "WORKER_SHUTDOWN"
)

// Control plane → worker.
const (
	MsgSendMessage       EnvelopeType = "SEND_MESSAGE"
	MsgPauseBot          EnvelopeType = "PAUSE_BOT"
	MsgResumeBot         EnvelopeType = "RESUME_BOT"
	MsgSwitchAgent       EnvelopeType = "SWITCH_AGENT"
	MsgReloadAgentConfig EnvelopeType = "RELOAD_AGENT_CONFIG"
	MsgShutdown          EnvelopeType = "SHUTDOWN"
)

// Envelope is the sole wire format between the control plane and a worker.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope builds an envelope with the payload JSON-encoded.
func NewEnvelope(t EnvelopeType, payload interface{}) Envelope {
	env := Envelope{Type: t, Timestamp: time.Now().UTC()}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			env.Payload = b
		}
	}
	return env
}

// InboundMessagePayload is the payload of a NEW_MESSAGE_RECEIVED envelope.
type InboundMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	From           string `json:"from"`
	Body           string `json:"body"`
	FromSelf       bool   `json:"from_self"` // sent from the tenant's own account (human operator)
}

// OutboundMessagePayload is the payload of a SEND_MESSAGE envelope.
type OutboundMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	Body           string `json:"body"`
	AgentID        string `json:"agent_id,omitempty"`
}

// StatusUpdatePayload is the payload of a STATUS_UPDATE envelope.
type StatusUpdatePayload struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// SwitchCommandPayload is the payload of a SWITCH_AGENT envelope, telling
// the worker to reload session state for the newly bound agent.
type SwitchCommandPayload struct {
	ConversationID string `json:"conversation_id"`
	FromAgent      string `json:"from_agent,omitempty"`
	ToAgent        string `json:"to_agent"`
	ContextNote    string `json:"context_note,omitempty"`
}

// ── Agent ────────────────────────────────────────────────────

// Persona describes how an agent speaks.
type Persona struct {
	Instructions string `json:"instructions"`
	Tone         string `json:"tone,omitempty"`
}

// Agent is a configured responder persona belonging to one tenant.
type Agent struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Persona   Persona   `json:"persona"`
	Knowledge []string  `json:"knowledge,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// ── Agent Network & Triggers ─────────────────────────────────

// MatchType is how a trigger keyword is compared against inbound text.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchContains MatchType = "contains"
	MatchRegex    MatchType = "regex"
)

// TimeOfDay buckets a local hour into a coarse window.
type TimeOfDay string

const (
	TimeMorning   TimeOfDay = "morning"   // 06:00–11:59
	TimeAfternoon TimeOfDay = "afternoon" // 12:00–17:59
	TimeEvening   TimeOfDay = "evening"   // 18:00–05:59
)

// TriggerConditions optionally gate a switch trigger. Both conditions must
// hold for the candidate to be eligible.
type TriggerConditions struct {
	PreviousAgent string    `json:"previous_agent,omitempty"`
	TimeOfDay     TimeOfDay `json:"time_of_day,omitempty"`
}

// Trigger is an immutable text-matching rule attached to a network node.
type Trigger struct {
	Keyword     string             `json:"keyword"`
	MatchType   MatchType          `json:"match_type"`
	Priority    int                `json:"priority"`
	Conditions  *TriggerConditions `json:"conditions,omitempty"`
	TargetAgent string             `json:"target_agent,omitempty"`
}

// NodeRole is the role a node plays inside a tenant's network.
type NodeRole string

const (
	RolePrimary  NodeRole = "primary"
	RoleTrigger  NodeRole = "trigger"
	RoleFallback NodeRole = "fallback"
)

// NetworkNode binds an agent into the network with its triggers.
type NetworkNode struct {
	AgentID  string    `json:"agent_id"`
	Role     NodeRole  `json:"role"`
	Triggers []Trigger `json:"triggers,omitempty"`
}

// AgentNetwork is a tenant's routed set of agents. Exactly one node carries
// RolePrimary, matching PrimaryAgentID.
type AgentNetwork struct {
	TenantID           string        `json:"tenant_id"`
	PrimaryAgentID     string        `json:"primary_agent_id"`
	Nodes              []NetworkNode `json:"nodes"`
	MaxSwitchesPerHour int           `json:"max_switches_per_hour"`
	PreserveContext    bool          `json:"preserve_context"`
	AnnounceSwitches   bool          `json:"announce_switches"`
	UpdatedAt          time.Time     `json:"updated_at,omitempty"`
}

// Node returns the node for an agent id, or nil.
func (n *AgentNetwork) Node(agentID string) *NetworkNode {
	for i := range n.Nodes {
		if n.Nodes[i].AgentID == agentID {
			return &n.Nodes[i]
		}
	}
	return nil
}

// Candidate is one scored trigger match produced by the trigger engine.
type Candidate struct {
	AgentID  string  `json:"agent_id"`
	Trigger  Trigger `json:"trigger"`
	Score    float64 `json:"score"`
	Fallback bool    `json:"fallback"` // default primary selection, not a genuine match
}

// AgentSwitch is one recorded mid-conversation handoff.
type AgentSwitch struct {
	FromAgent string    `json:"from_agent"`
	ToAgent   string    `json:"to_agent"`
	Reason    string    `json:"reason"`
	Trigger   string    `json:"trigger,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SwitchResult reports the outcome of a SwitchAgent call.
type SwitchResult struct {
	Switched     bool   `json:"switched"`
	FromAgent    string `json:"from_agent,omitempty"`
	ToAgent      string `json:"to_agent"`
	ContextNote  string `json:"context_note,omitempty"`
	Announcement string `json:"announcement,omitempty"`
}

// ── Conversation ─────────────────────────────────────────────

// ActivationMethod records how a conversation was activated.
type ActivationMethod string

const (
	ActivationTrigger ActivationMethod = "initial_trigger"
	ActivationManual  ActivationMethod = "manual"
)

// Conversation tracks activation, presence and agent-assignment state for
// one counterpart. Mutations must go through the chat state machine, which
// serializes writers per conversation.
type Conversation struct {
	TenantID         string           `json:"tenant_id"`
	ID               string           `json:"id"`
	Active           bool             `json:"active"`
	ActivationMethod ActivationMethod `json:"activation_method,omitempty"`
	ActivatedAt      time.Time        `json:"activated_at,omitempty"`

	CurrentAgentID  string        `json:"current_agent_id,omitempty"`
	PreviousAgentID string        `json:"previous_agent_id,omitempty"`
	SwitchHistory   []AgentSwitch `json:"switch_history,omitempty"`

	HumanPresent      bool      `json:"human_present"`
	LastHumanActivity time.Time `json:"last_human_activity,omitempty"`
	BotPaused         bool      `json:"bot_paused"`

	LastActivity time.Time `json:"last_activity,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SwitchesSince counts history entries at or after the cutoff. History is the
// canonical source for rate-limit windows; cached counters are hints only.
func (c *Conversation) SwitchesSince(cutoff time.Time) int {
	n := 0
	for _, s := range c.SwitchHistory {
		if !s.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n
}

// ── Message ──────────────────────────────────────────────────

// Direction of a message relative to the tenant's account.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Origin identifies who produced a message.
type Origin string

const (
	OriginContact Origin = "contact"
	OriginHuman   Origin = "human"
	OriginBot     Origin = "bot"
)

// Message is one append-only conversation entry.
type Message struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	Direction      Direction `json:"direction"`
	Origin         Origin    `json:"origin"`
	Content        string    `json:"content"`
	Status         string    `json:"status,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ── Automation artifacts ─────────────────────────────────────

// Rule is a simple trigger→response pair. Trigger text is lowercased at
// creation time so matching is a direct case-insensitive comparison.
type Rule struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Trigger  string `json:"trigger"`
	Response string `json:"response"`
	Enabled  bool   `json:"enabled"`
}

// NormalizeTrigger lowercases and trims a rule/starter trigger for storage.
func NormalizeTrigger(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Starter maps a trigger to an AI prompt template rather than a literal reply.
type Starter struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	Trigger        string `json:"trigger"`
	PromptTemplate string `json:"prompt_template"`
	Enabled        bool   `json:"enabled"`
}

// FlowTriggerType is how an action flow matches inbound text.
type FlowTriggerType string

const (
	FlowTriggerExact      FlowTriggerType = "exact_message"
	FlowTriggerContains   FlowTriggerType = "message"
	FlowTriggerStartsWith FlowTriggerType = "starts_with"
)

// StepKind enumerates the fixed set of flow step types.
type StepKind string

const (
	StepSendMessage StepKind = "send_message"
	StepDelay       StepKind = "delay"
	StepCondition   StepKind = "condition"
)

// FlowStep is one step of an action flow. Validated at configuration-write
// time; malformed steps never reach live routing.
type FlowStep struct {
	Kind         StepKind `json:"kind"`
	Text         string   `json:"text,omitempty"`
	DelaySeconds int      `json:"delay_seconds,omitempty"`

	// Condition fields: a minimal check on message content or the prior
	// step's outcome. When the check fails, remaining steps are skipped.
	ConditionContains string `json:"condition_contains,omitempty"`
	RequirePriorOK    bool   `json:"require_prior_ok,omitempty"`
}

// ActionFlow is an ordered list of steps fired by a trigger match.
type ActionFlow struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	Name        string          `json:"name"`
	TriggerType FlowTriggerType `json:"trigger_type"`
	TriggerText string          `json:"trigger_text"`
	Steps       []FlowStep      `json:"steps"`
	Enabled     bool            `json:"enabled"`
}

// ── Activity log ─────────────────────────────────────────────

// ActivityKind classifies control-plane activity entries.
type ActivityKind string

const (
	ActivityCleanupExpired  ActivityKind = "cleanup_expired"
	ActivityAutoDeactivated ActivityKind = "auto_deactivated"
	ActivityWorkerRestarted ActivityKind = "worker_restarted"
)

// ActivityEntry is one audit-style record of automatic state maintenance.
type ActivityEntry struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Kind           ActivityKind `json:"kind"`
	Detail         string       `json:"detail,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// ── Nuke report ──────────────────────────────────────────────

// NukeStep is one independently reported teardown step.
type NukeStep struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NukeReport is the step-by-step result of a tenant teardown. A failed step
// never aborts the remaining steps.
type NukeReport struct {
	TenantID string     `json:"tenant_id"`
	Steps    []NukeStep `json:"steps"`
	Complete bool       `json:"complete"` // true when every step succeeded
}

// AddStep appends a step result and updates the aggregate flag.
func (r *NukeReport) AddStep(name string, err error) {
	step := NukeStep{Name: name, Success: err == nil}
	if err != nil {
		step.Error = err.Error()
	}
	r.Steps = append(r.Steps, step)
}

// Finalize computes the aggregate success flag.
func (r *NukeReport) Finalize() {
	r.Complete = true
	for _, s := range r.Steps {
		if !s.Success {
			r.Complete = false
			return
		}
	}
}

// ── Cascade ──────────────────────────────────────────────────

// ResponseSource identifies which mechanism produced a reply.
type ResponseSource string

const (
	SourceActionFlow ResponseSource = "action_flow"
	SourceRule       ResponseSource = "rule"
	SourceStarter    ResponseSource = "starter"
	SourceDefaultAI  ResponseSource = "default_ai"
	SourceNone       ResponseSource = "none"
)

// CascadeResult is the single resolved outcome for one inbound message.
type CascadeResult struct {
	Source   ResponseSource `json:"source"`
	Replies  []string       `json:"replies,omitempty"`
	AgentID  string         `json:"agent_id,omitempty"`
	Gated    bool           `json:"gated"` // hard gate suppressed automation entirely
	GateWhy  string         `json:"gate_why,omitempty"`
	Degraded bool           `json:"degraded"` // infrastructure failure, fail-closed
}
