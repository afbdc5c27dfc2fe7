// Package chat owns conversation lifecycle state: activation, bot pause,
// and human presence.
//
// Transitions are last-writer-wins per conversation; callers serialize
// concurrent inbound messages for the same conversation before invoking
// these methods. Human presence is only ever set by observing a
// human-originated outbound message and only ever cleared by the sweeper.
package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// State applies conversation lifecycle transitions.
type State struct {
	store store.Store
	now   func() time.Time
}

// NewState creates the conversation state machine.
func NewState(s store.Store) *State {
	return &State{store: s, now: time.Now}
}

// Ensure returns the conversation, creating an inactive record on first
// contact from a new counterpart.
func (st *State) Ensure(ctx context.Context, tenantID, convID string) (*models.Conversation, error) {
	conv, err := st.store.GetConversation(ctx, tenantID, convID)
	if err == nil {
		return conv, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	conv = &models.Conversation{
		TenantID:     tenantID,
		ID:           convID,
		CreatedAt:    st.now(),
		LastActivity: st.now(),
	}
	if err := st.store.PutConversation(ctx, conv); err != nil {
		return nil, err
	}
	log.Debug().Str("tenant", tenantID).Str("conversation", convID).Msg("Conversation created")
	return conv, nil
}

// Activate marks the conversation active, recording how and when. Activating
// an already-active conversation refreshes nothing and is a no-op.
func (st *State) Activate(ctx context.Context, conv *models.Conversation, method models.ActivationMethod) error {
	if conv.Active {
		return nil
	}
	conv.Active = true
	conv.ActivationMethod = method
	conv.ActivatedAt = st.now()
	conv.LastActivity = st.now()
	if err := st.store.PutConversation(ctx, conv); err != nil {
		return err
	}
	log.Info().
		Str("tenant", conv.TenantID).
		Str("conversation", conv.ID).
		Str("method", string(method)).
		Msg("Conversation activated")
	return nil
}

// Deactivate clears activation and agent binding. Reachable from any active
// state.
func (st *State) Deactivate(ctx context.Context, conv *models.Conversation, reason string) error {
	if !conv.Active {
		return nil
	}
	conv.Active = false
	conv.ActivationMethod = ""
	conv.CurrentAgentID = ""
	conv.PreviousAgentID = ""
	if err := st.store.PutConversation(ctx, conv); err != nil {
		return err
	}
	log.Info().
		Str("tenant", conv.TenantID).
		Str("conversation", conv.ID).
		Str("reason", reason).
		Msg("Conversation deactivated")
	return nil
}

// MarkHumanActivity records a human-originated outbound message: presence
// turns on and the activity clock resets. This is the only writer of
// human_present = true.
func (st *State) MarkHumanActivity(ctx context.Context, conv *models.Conversation) error {
	conv.HumanPresent = true
	conv.LastHumanActivity = st.now()
	conv.LastActivity = st.now()
	return st.store.PutConversation(ctx, conv)
}

// Touch refreshes the conversation's last-activity timestamp.
func (st *State) Touch(ctx context.Context, conv *models.Conversation) error {
	conv.LastActivity = st.now()
	return st.store.PutConversation(ctx, conv)
}

// SetBotPaused sets or clears the bot pause flag, independent of activation.
func (st *State) SetBotPaused(ctx context.Context, conv *models.Conversation, paused bool) error {
	if conv.BotPaused == paused {
		return nil
	}
	conv.BotPaused = paused
	if err := st.store.PutConversation(ctx, conv); err != nil {
		return err
	}
	log.Info().
		Str("tenant", conv.TenantID).
		Str("conversation", conv.ID).
		Bool("paused", paused).
		Msg("Bot pause flag changed")
	return nil
}

// Eligible reports whether the routing cascade may produce automated output
// for this conversation. Evaluated once per inbound message, before any
// matching work happens.
func Eligible(conv *models.Conversation) (bool, string) {
	switch {
	case !conv.Active:
		return false, "conversation not activated"
	case conv.BotPaused:
		return false, "bot paused"
	case conv.HumanPresent:
		return false, "human operator present"
	default:
		return true, ""
	}
}
