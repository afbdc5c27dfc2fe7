package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/config"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/metrics"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// CycleStats tracks what happened in a single sweep cycle.
type CycleStats struct {
	PresenceCleared int
	Deactivated     int
	Errors          int
}

// Sweeper periodically clears stale human presence and deactivates
// long-idle conversations. It is the only component allowed to clear
// human_present.
type Sweeper struct {
	store store.Store
	state *State

	interval        time.Duration
	presenceWindow  time.Duration
	inactivityLimit time.Duration

	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSweeper creates a sweeper from configuration. Metrics may be nil.
func NewSweeper(s store.Store, state *State, cfg config.SweepConfig, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		store:           s,
		state:           state,
		interval:        cfg.Interval,
		presenceWindow:  cfg.PresenceWindow,
		inactivityLimit: cfg.InactivityLimit,
		metrics:         m,
		now:             time.Now,
	}
}

// Start runs the sweeper in the calling goroutine until ctx is canceled.
func (sw *Sweeper) Start(ctx context.Context) {
	log.Info().
		Dur("interval", sw.interval).
		Dur("presence_window", sw.presenceWindow).
		Dur("inactivity_limit", sw.inactivityLimit).
		Msg("Presence sweeper started")

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Presence sweeper stopped")
			return
		case <-ticker.C:
			sw.runCycle(ctx)
		}
	}
}

// runCycle performs one sweep across all tenants.
func (sw *Sweeper) runCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	if sw.metrics != nil {
		sw.metrics.SweepCycles.Inc()
	}

	tenants, err := sw.store.ListTenants(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Sweeper: failed to list tenants")
		stats.Errors++
		return stats
	}

	for _, tenantID := range tenants {
		convs, err := sw.store.ListConversations(ctx, tenantID)
		if err != nil {
			log.Warn().Str("tenant", tenantID).Err(err).Msg("Sweeper: failed to list conversations")
			stats.Errors++
			continue
		}
		for i := range convs {
			sw.sweepConversation(ctx, &convs[i], &stats)
		}
	}

	if stats.PresenceCleared > 0 || stats.Deactivated > 0 {
		log.Info().
			Int("presence_cleared", stats.PresenceCleared).
			Int("deactivated", stats.Deactivated).
			Msg("Sweep cycle completed")
	}
	return stats
}

func (sw *Sweeper) sweepConversation(ctx context.Context, conv *models.Conversation, stats *CycleStats) {
	now := sw.now()

	// Presence expires once; the cleared flag keeps later cycles from
	// logging the same conversation again.
	if conv.HumanPresent && now.Sub(conv.LastHumanActivity) > sw.presenceWindow {
		conv.HumanPresent = false
		if err := sw.store.PutConversation(ctx, conv); err != nil {
			log.Warn().Str("tenant", conv.TenantID).Str("conversation", conv.ID).Err(err).
				Msg("Sweeper: failed to clear presence")
			stats.Errors++
		} else {
			sw.logActivity(ctx, conv, models.ActivityCleanupExpired, "human presence expired")
			stats.PresenceCleared++
		}
	}

	if conv.Active && now.Sub(conv.LastActivity) > sw.inactivityLimit {
		if err := sw.state.Deactivate(ctx, conv, "inactivity"); err != nil {
			log.Warn().Str("tenant", conv.TenantID).Str("conversation", conv.ID).Err(err).
				Msg("Sweeper: failed to deactivate")
			stats.Errors++
		} else {
			sw.logActivity(ctx, conv, models.ActivityAutoDeactivated, "no activity for inactivity window")
			stats.Deactivated++
		}
	}
}

func (sw *Sweeper) logActivity(ctx context.Context, conv *models.Conversation, kind models.ActivityKind, detail string) {
	entry := &models.ActivityEntry{
		ID:             uuid.New().String(),
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Kind:           kind,
		Detail:         detail,
		Timestamp:      sw.now(),
	}
	if err := sw.store.CreateActivity(ctx, entry); err != nil {
		log.Warn().Str("tenant", conv.TenantID).Err(err).Msg("Sweeper: failed to record activity")
	}
}
