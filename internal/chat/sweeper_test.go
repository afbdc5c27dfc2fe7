package chat

import (
	"context"
	"testing"
	"time"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/config"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

func sweeperFixture(now time.Time) (*Sweeper, store.Store) {
	s := store.NewMemoryStore()
	state := NewState(s)
	state.now = func() time.Time { return now }
	sw := NewSweeper(s, state, config.SweepConfig{
		Interval:        time.Minute,
		PresenceWindow:  10 * time.Minute,
		InactivityLimit: 36 * time.Hour,
	}, nil)
	sw.now = func() time.Time { return now }
	return sw, s
}

func TestRunCycle_ClearsExpiredPresenceOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sw, s := sweeperFixture(now)

	conv := &models.Conversation{
		TenantID:          "t1",
		ID:                "conv-1",
		Active:            true,
		HumanPresent:      true,
		LastHumanActivity: now.Add(-11 * time.Minute),
		LastActivity:      now.Add(-11 * time.Minute),
		CreatedAt:         now.Add(-time.Hour),
	}
	if err := s.PutConversation(ctx, conv); err != nil {
		t.Fatalf("PutConversation() error = %v", err)
	}

	stats := sw.runCycle(ctx)
	if stats.PresenceCleared != 1 {
		t.Fatalf("PresenceCleared = %d, want 1", stats.PresenceCleared)
	}

	got, _ := s.GetConversation(ctx, "t1", "conv-1")
	if got.HumanPresent {
		t.Fatal("HumanPresent still true after sweep")
	}

	// A second cycle must not clear or log again.
	stats = sw.runCycle(ctx)
	if stats.PresenceCleared != 0 {
		t.Fatalf("second cycle PresenceCleared = %d, want 0", stats.PresenceCleared)
	}
	entries, err := s.ListActivity(ctx, "t1", now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	cleanups := 0
	for _, e := range entries {
		if e.Kind == models.ActivityCleanupExpired {
			cleanups++
		}
	}
	if cleanups != 1 {
		t.Fatalf("cleanup_expired entries = %d, want exactly 1", cleanups)
	}
}

func TestRunCycle_FreshPresenceUntouched(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sw, s := sweeperFixture(now)

	conv := &models.Conversation{
		TenantID:          "t1",
		ID:                "conv-1",
		Active:            true,
		HumanPresent:      true,
		LastHumanActivity: now.Add(-5 * time.Minute),
		LastActivity:      now,
		CreatedAt:         now.Add(-time.Hour),
	}
	s.PutConversation(ctx, conv)

	stats := sw.runCycle(ctx)
	if stats.PresenceCleared != 0 {
		t.Fatalf("PresenceCleared = %d, want 0", stats.PresenceCleared)
	}
	got, _ := s.GetConversation(ctx, "t1", "conv-1")
	if !got.HumanPresent {
		t.Fatal("fresh presence was cleared")
	}
}

func TestRunCycle_DeactivatesAfterInactivityLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sw, s := sweeperFixture(now)

	stale := &models.Conversation{
		TenantID:       "t1",
		ID:             "stale",
		Active:         true,
		CurrentAgentID: "agent-a",
		LastActivity:   now.Add(-37 * time.Hour),
		CreatedAt:      now.Add(-40 * time.Hour),
	}
	fresh := &models.Conversation{
		TenantID:     "t1",
		ID:           "fresh",
		Active:       true,
		LastActivity: now.Add(-time.Hour),
		CreatedAt:    now.Add(-2 * time.Hour),
	}
	s.PutConversation(ctx, stale)
	s.PutConversation(ctx, fresh)

	stats := sw.runCycle(ctx)
	if stats.Deactivated != 1 {
		t.Fatalf("Deactivated = %d, want 1", stats.Deactivated)
	}

	got, _ := s.GetConversation(ctx, "t1", "stale")
	if got.Active || got.CurrentAgentID != "" {
		t.Fatalf("stale conversation = %+v, want deactivated", got)
	}
	got, _ = s.GetConversation(ctx, "t1", "fresh")
	if !got.Active {
		t.Fatal("fresh conversation was deactivated")
	}

	entries, _ := s.ListActivity(ctx, "t1", now.Add(-time.Hour), 10)
	found := false
	for _, e := range entries {
		if e.Kind == models.ActivityAutoDeactivated && e.ConversationID == "stale" {
			found = true
		}
	}
	if !found {
		t.Fatal("no auto_deactivated activity entry recorded")
	}
}
