// Package pipeline processes inbound messages end to end: record the
// message, update presence/activation, select the responding agent, run the
// routing cascade, and relay replies back to the tenant's worker.
//
// All processing for a conversation happens under a per-conversation lock,
// so two messages from the same counterpart can never race an agent switch
// or double-activate. Different conversations process in parallel.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/cascade"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/chat"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/metrics"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/network"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// Sender relays an outbound envelope to a tenant's worker. Delivery is
// best-effort; a missing worker is not an error for the pipeline.
type Sender interface {
	SendCommand(tenantID string, env models.Envelope) error
}

// Pipeline wires the per-message processing chain together.
type Pipeline struct {
	store   store.Store
	state   *chat.State
	engine  *network.Engine
	cascade *cascade.Cascade
	sender  Sender
	metrics *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex // tenant/conversation → serializer
}

// New creates a pipeline. metrics may be nil in tests.
func New(s store.Store, state *chat.State, engine *network.Engine, casc *cascade.Cascade, sender Sender, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		store:   s,
		state:   state,
		engine:  engine,
		cascade: casc,
		sender:  sender,
		metrics: m,
		locks:   make(map[string]*sync.Mutex),
	}
}

// convLock returns the serializer for one conversation.
func (p *Pipeline) convLock(tenantID, convID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := tenantID + "/" + convID
	l, ok := p.locks[key]
	if !ok {
		l = &sync.Mutex{}
		p.locks[key] = l
	}
	return l
}

// HandleInbound processes one NEW_MESSAGE_RECEIVED payload.
func (p *Pipeline) HandleInbound(ctx context.Context, tenantID string, payload models.InboundMessagePayload) error {
	lock := p.convLock(tenantID, payload.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	if p.metrics != nil {
		p.metrics.MessagesInbound.Inc()
	}

	conv, err := p.state.Ensure(ctx, tenantID, payload.ConversationID)
	if err != nil {
		return err
	}

	// A message from the tenant's own account is a human operator taking
	// over; record presence and never automate on it.
	if payload.FromSelf {
		if err := p.appendMessage(ctx, conv, models.DirectionOutbound, models.OriginHuman, payload.Body); err != nil {
			return err
		}
		return p.state.MarkHumanActivity(ctx, conv)
	}

	if err := p.appendMessage(ctx, conv, models.DirectionInbound, models.OriginContact, payload.Body); err != nil {
		return err
	}
	if err := p.state.Touch(ctx, conv); err != nil {
		return err
	}

	announcement, err := p.selectAgent(ctx, conv, payload.Body)
	if err != nil {
		return err
	}

	agent := p.currentAgent(ctx, conv)

	result, err := p.cascade.Respond(ctx, conv, agent, payload.Body)
	if err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.CascadeResults.WithLabelValues(string(result.Source)).Inc()
	}
	if result.Gated {
		log.Debug().
			Str("tenant", tenantID).
			Str("conversation", conv.ID).
			Str("why", result.GateWhy).
			Msg("Automation gated")
		return nil
	}
	// A persisted switch announces itself even when the cascade produces
	// nothing to say. Only the hard gate above suppresses it.
	if announcement != "" {
		if err := p.sendReply(ctx, conv, conv.CurrentAgentID, announcement); err != nil {
			return err
		}
	}
	if result.Degraded {
		// Fail closed: no reply this turn.
		return nil
	}

	for _, reply := range result.Replies {
		if err := p.sendReply(ctx, conv, result.AgentID, reply); err != nil {
			return err
		}
	}
	return nil
}

// selectAgent binds or switches the conversation's responding agent. It
// returns a user-visible announcement when a switch produced one. Selection
// problems degrade to keeping the current agent; only storage errors
// propagate.
func (p *Pipeline) selectAgent(ctx context.Context, conv *models.Conversation, text string) (string, error) {
	net, err := p.engine.Network(ctx, conv.TenantID)
	if store.IsNotFound(err) {
		return "", nil // no network configured, nothing to select
	}
	if err != nil {
		return "", err
	}

	if conv.CurrentAgentID == "" {
		cand := p.engine.EvaluateInitialTriggers(net, text)
		if cand.Fallback && !conv.Active {
			// No genuine trigger and nothing to resume: stay inactive.
			return "", nil
		}
		if !conv.Active {
			if err := p.state.Activate(ctx, conv, models.ActivationTrigger); err != nil {
				return "", err
			}
		}
		conv.CurrentAgentID = cand.AgentID
		if err := p.store.PutConversation(ctx, conv); err != nil {
			return "", err
		}
		log.Info().
			Str("tenant", conv.TenantID).
			Str("conversation", conv.ID).
			Str("agent", cand.AgentID).
			Bool("fallback", cand.Fallback).
			Float64("score", cand.Score).
			Msg("Initial agent selected")
		return "", nil
	}

	cand := p.engine.EvaluateSwitchTriggers(net, conv.CurrentAgentID, text)
	if cand == nil {
		return "", nil
	}

	res, err := p.engine.SwitchAgent(ctx, net, conv, cand.AgentID, cand.Trigger.Keyword, "switch_trigger")
	if err != nil {
		var limited *network.ErrSwitchLimitExceeded
		var notFound *network.ErrAgentNotFound
		switch {
		case errors.As(err, &limited):
			if p.metrics != nil {
				p.metrics.SwitchRejections.Inc()
			}
			log.Info().
				Str("tenant", conv.TenantID).
				Str("conversation", conv.ID).
				Int("limit", limited.Limit).
				Msg("Agent switch rate limited")
			return "", nil
		case errors.As(err, &notFound):
			log.Warn().
				Str("tenant", conv.TenantID).
				Str("agent", cand.AgentID).
				Msg("Switch target not reachable, keeping current agent")
			return "", nil
		default:
			return "", err
		}
	}

	if res.Switched {
		if p.metrics != nil {
			p.metrics.AgentSwitches.Inc()
		}
		// Best-effort: the platform worker reloads session state for the
		// new agent; a missing worker just means nothing to reload.
		_ = p.sender.SendCommand(conv.TenantID, models.NewEnvelope(models.MsgSwitchAgent, models.SwitchCommandPayload{
			ConversationID: conv.ID,
			FromAgent:      res.FromAgent,
			ToAgent:        res.ToAgent,
			ContextNote:    res.ContextNote,
		}))
	}
	return res.Announcement, nil
}

// currentAgent loads the bound agent record; a missing record is tolerated
// because the cascade falls back to a generic persona.
func (p *Pipeline) currentAgent(ctx context.Context, conv *models.Conversation) *models.Agent {
	if conv.CurrentAgentID == "" {
		return nil
	}
	agent, err := p.store.GetAgent(ctx, conv.TenantID, conv.CurrentAgentID)
	if err != nil {
		if !store.IsNotFound(err) {
			log.Warn().Str("tenant", conv.TenantID).Err(err).Msg("Failed to load current agent")
		}
		return nil
	}
	return agent
}

func (p *Pipeline) appendMessage(ctx context.Context, conv *models.Conversation, dir models.Direction, origin models.Origin, body string) error {
	return p.store.AppendMessage(ctx, &models.Message{
		ID:             uuid.New().String(),
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Direction:      dir,
		Origin:         origin,
		Content:        body,
		Timestamp:      time.Now().UTC(),
	})
}

// sendReply records the outbound bot message and relays it to the worker.
func (p *Pipeline) sendReply(ctx context.Context, conv *models.Conversation, agentID, body string) error {
	if err := p.appendMessage(ctx, conv, models.DirectionOutbound, models.OriginBot, body); err != nil {
		return err
	}

	env := models.NewEnvelope(models.MsgSendMessage, models.OutboundMessagePayload{
		ConversationID: conv.ID,
		Body:           body,
		AgentID:        agentID,
	})
	if err := p.sender.SendCommand(conv.TenantID, env); err != nil {
		// Best-effort delivery: log and move on.
		log.Warn().
			Str("tenant", conv.TenantID).
			Str("conversation", conv.ID).
			Err(err).
			Msg("Failed to relay reply to worker")
		return nil
	}
	if p.metrics != nil {
		p.metrics.MessagesOutbound.Inc()
	}
	return nil
}
