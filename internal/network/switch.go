package network

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// contextSummaryDepth is how many recent messages feed the handoff summary.
const contextSummaryDepth = 10

// ErrSwitchLimitExceeded is returned when a conversation has reached its
// network's per-hour switch ceiling.
type ErrSwitchLimitExceeded struct {
	ConversationID string
	Limit          int
}

func (e *ErrSwitchLimitExceeded) Error() string {
	return fmt.Sprintf("conversation %s: switch limit of %d per hour exceeded", e.ConversationID, e.Limit)
}

// ErrAgentNotFound is returned when a switch target does not exist or is
// not reachable from the network.
type ErrAgentNotFound struct {
	TenantID string
	AgentID  string
}

func (e *ErrAgentNotFound) Error() string {
	return fmt.Sprintf("tenant %s: agent %s not found or not reachable", e.TenantID, e.AgentID)
}

// SwitchAgent hands the conversation to the target agent. Calling with the
// current agent is an idempotent no-op. The rate limit is recomputed from
// switch history, never from a cached counter. History, counters and agent
// assignment are mutated in memory and persisted with a single conversation
// write so a partial switch cannot be observed.
func (e *Engine) SwitchAgent(ctx context.Context, net *models.AgentNetwork, conv *models.Conversation, targetID, triggerKeyword, reason string) (*models.SwitchResult, error) {
	if targetID == conv.CurrentAgentID {
		return &models.SwitchResult{Switched: false, ToAgent: targetID}, nil
	}

	if net.MaxSwitchesPerHour > 0 {
		cutoff := e.now().Add(-time.Hour)
		if conv.SwitchesSince(cutoff) >= net.MaxSwitchesPerHour {
			return nil, &ErrSwitchLimitExceeded{ConversationID: conv.ID, Limit: net.MaxSwitchesPerHour}
		}
	}

	if net.Node(targetID) == nil && targetID != net.PrimaryAgentID {
		return nil, &ErrAgentNotFound{TenantID: conv.TenantID, AgentID: targetID}
	}
	target, err := e.store.GetAgent(ctx, conv.TenantID, targetID)
	if err != nil {
		return nil, err
	}

	result := &models.SwitchResult{
		Switched:  true,
		FromAgent: conv.CurrentAgentID,
		ToAgent:   targetID,
	}

	if net.PreserveContext {
		note, err := e.contextSummary(ctx, conv)
		if err != nil {
			// Grounding context is best-effort; the switch itself proceeds.
			log.Warn().
				Str("tenant", conv.TenantID).
				Str("conversation", conv.ID).
				Err(err).
				Msg("Context summary failed, switching without it")
		} else {
			result.ContextNote = note
		}
	}

	if net.AnnounceSwitches {
		result.Announcement = fmt.Sprintf("Ahora te atiende %s.", target.Name)
	}

	now := e.now()
	conv.SwitchHistory = append(conv.SwitchHistory, models.AgentSwitch{
		FromAgent: conv.CurrentAgentID,
		ToAgent:   targetID,
		Reason:    reason,
		Trigger:   triggerKeyword,
		Timestamp: now,
	})
	conv.PreviousAgentID = conv.CurrentAgentID
	conv.CurrentAgentID = targetID
	conv.LastActivity = now

	if err := e.store.PutConversation(ctx, conv); err != nil {
		return nil, err
	}

	log.Info().
		Str("tenant", conv.TenantID).
		Str("conversation", conv.ID).
		Str("from", result.FromAgent).
		Str("to", targetID).
		Str("trigger", triggerKeyword).
		Msg("Agent switched")

	return result, nil
}

// contextSummary renders the most recent messages as "Speaker: text" lines
// for grounding the incoming agent.
func (e *Engine) contextSummary(ctx context.Context, conv *models.Conversation) (string, error) {
	msgs, err := e.store.ListRecentMessages(ctx, conv.TenantID, conv.ID, contextSummaryDepth)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(speakerLabel(m.Origin))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func speakerLabel(o models.Origin) string {
	switch o {
	case models.OriginContact:
		return "Customer"
	case models.OriginHuman:
		return "Operator"
	case models.OriginBot:
		return "Assistant"
	default:
		return "Unknown"
	}
}
