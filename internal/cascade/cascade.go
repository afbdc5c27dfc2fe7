// Package cascade resolves the response source for an inbound message.
//
// Sources are tried in fixed priority order: action flow, simple rule,
// contextual starter, default AI. The eligibility gate is evaluated exactly
// once per inbound message, before any matching work, so ineligible
// conversations never cost a flow scan or an AI call.
package cascade

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/ai"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/chat"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/flow"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// historyDepth is how many recent messages feed AI-backed sources.
const historyDepth = 10

// RuleMatcher finds a simple rule for inbound text. Split out as an
// interface so tests can observe whether rule matching ran at all.
type RuleMatcher interface {
	MatchRule(ctx context.Context, tenantID, text string) (*models.Rule, error)
}

// StoreRuleMatcher matches rules via the normalized-trigger lookup.
type StoreRuleMatcher struct {
	Store store.AutomationStore
}

// MatchRule returns the enabled rule whose trigger equals the normalized
// text, or nil when nothing matches.
func (m *StoreRuleMatcher) MatchRule(ctx context.Context, tenantID, text string) (*models.Rule, error) {
	rule, err := m.Store.GetRuleByTrigger(ctx, tenantID, models.NormalizeTrigger(text))
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// Cascade picks and executes the response source for one inbound message.
type Cascade struct {
	store store.Store
	flows *flow.Executor
	ai    ai.Completer
	rules RuleMatcher
}

// New creates a cascade. When rules is nil, a store-backed matcher is used.
func New(s store.Store, flows *flow.Executor, completer ai.Completer, rules RuleMatcher) *Cascade {
	if rules == nil {
		rules = &StoreRuleMatcher{Store: s}
	}
	return &Cascade{store: s, flows: flows, ai: completer, rules: rules}
}

// Respond resolves and executes the response source for the inbound text.
// Storage errors propagate; AI failures return a degraded result with no
// replies rather than an invented answer.
func (c *Cascade) Respond(ctx context.Context, conv *models.Conversation, agent *models.Agent, text string) (*models.CascadeResult, error) {
	if ok, why := chat.Eligible(conv); !ok {
		return &models.CascadeResult{Source: models.SourceNone, Gated: true, GateWhy: why}, nil
	}

	// 1. Action flow.
	flows, err := c.store.ListFlows(ctx, conv.TenantID)
	if err != nil {
		return nil, err
	}
	for i := range flows {
		if !flow.Matches(&flows[i], text) {
			continue
		}
		replies, err := c.flows.Run(ctx, &flows[i], text)
		if err != nil {
			return nil, err
		}
		return &models.CascadeResult{
			Source:  models.SourceActionFlow,
			Replies: replies,
			AgentID: conv.CurrentAgentID,
		}, nil
	}

	// 2. Simple rule.
	rule, err := c.rules.MatchRule(ctx, conv.TenantID, text)
	if err != nil {
		return nil, err
	}
	if rule != nil {
		return &models.CascadeResult{
			Source:  models.SourceRule,
			Replies: []string{rule.Response},
			AgentID: conv.CurrentAgentID,
		}, nil
	}

	// 3. Contextual starter.
	starter, err := c.store.GetStarterByTrigger(ctx, conv.TenantID, models.NormalizeTrigger(text))
	if err != nil && !store.IsNotFound(err) {
		return nil, err
	}
	if starter != nil {
		return c.completeWith(ctx, conv, text, starter.PromptTemplate, models.SourceStarter)
	}

	// 4. Default AI.
	return c.completeWith(ctx, conv, text, personaPrompt(agent), models.SourceDefaultAI)
}

// completeWith calls the AI collaborator with recent history. A completion
// failure degrades to no reply for this turn.
func (c *Cascade) completeWith(ctx context.Context, conv *models.Conversation, text, system string, source models.ResponseSource) (*models.CascadeResult, error) {
	history, err := c.store.ListRecentMessages(ctx, conv.TenantID, conv.ID, historyDepth)
	if err != nil {
		return nil, err
	}

	messages := make([]ai.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		role := "assistant"
		if m.Origin == models.OriginContact {
			role = "user"
		}
		messages = append(messages, ai.ChatMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: "user", Content: text})

	reply, err := c.ai.Complete(ctx, ai.Request{System: system, Messages: messages})
	if err != nil {
		log.Warn().
			Str("tenant", conv.TenantID).
			Str("conversation", conv.ID).
			Str("source", string(source)).
			Err(err).
			Msg("Completion failed, degrading to no reply")
		return &models.CascadeResult{Source: source, AgentID: conv.CurrentAgentID, Degraded: true}, nil
	}

	return &models.CascadeResult{
		Source:  source,
		Replies: []string{reply},
		AgentID: conv.CurrentAgentID,
	}, nil
}

// personaPrompt builds the default system prompt from the agent's persona
// and knowledge snippets.
func personaPrompt(agent *models.Agent) string {
	if agent == nil {
		return "You are a helpful assistant for this business."
	}
	var b strings.Builder
	b.WriteString(agent.Persona.Instructions)
	if agent.Persona.Tone != "" {
		b.WriteString("\nTone: ")
		b.WriteString(agent.Persona.Tone)
	}
	if len(agent.Knowledge) > 0 {
		b.WriteString("\nRelevant knowledge:\n")
		for _, k := range agent.Knowledge {
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}
