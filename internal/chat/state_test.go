package chat

import (
	"context"
	"testing"
	"time"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

func TestEnsure_CreatesInactiveConversationOnce(t *testing.T) {
	ctx := context.Background()
	st := NewState(store.NewMemoryStore())

	conv, err := st.Ensure(ctx, "t1", "conv-1")
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if conv.Active {
		t.Fatal("new conversation is active")
	}

	again, err := st.Ensure(ctx, "t1", "conv-1")
	if err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if again.CreatedAt != conv.CreatedAt {
		t.Fatal("Ensure() created a second conversation record")
	}
}

func TestActivate_RecordsMethodAndTime(t *testing.T) {
	ctx := context.Background()
	st := NewState(store.NewMemoryStore())
	st.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	conv, _ := st.Ensure(ctx, "t1", "conv-1")
	if err := st.Activate(ctx, conv, models.ActivationTrigger); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if !conv.Active || conv.ActivationMethod != models.ActivationTrigger {
		t.Fatalf("conversation = %+v", conv)
	}
	if conv.ActivatedAt != st.now() {
		t.Fatalf("ActivatedAt = %v", conv.ActivatedAt)
	}

	// Re-activation is a no-op and keeps the original method.
	if err := st.Activate(ctx, conv, models.ActivationManual); err != nil {
		t.Fatalf("second Activate() error = %v", err)
	}
	if conv.ActivationMethod != models.ActivationTrigger {
		t.Fatalf("ActivationMethod = %s, want initial_trigger", conv.ActivationMethod)
	}
}

func TestDeactivate_ClearsAgentBinding(t *testing.T) {
	ctx := context.Background()
	st := NewState(store.NewMemoryStore())

	conv, _ := st.Ensure(ctx, "t1", "conv-1")
	st.Activate(ctx, conv, models.ActivationManual)
	conv.CurrentAgentID = "agent-b"
	conv.PreviousAgentID = "agent-a"

	if err := st.Deactivate(ctx, conv, "manual"); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}
	if conv.Active || conv.CurrentAgentID != "" || conv.PreviousAgentID != "" {
		t.Fatalf("conversation after deactivation = %+v", conv)
	}
}

func TestMarkHumanActivity_SetsPresence(t *testing.T) {
	ctx := context.Background()
	st := NewState(store.NewMemoryStore())

	conv, _ := st.Ensure(ctx, "t1", "conv-1")
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return first }
	if err := st.MarkHumanActivity(ctx, conv); err != nil {
		t.Fatalf("MarkHumanActivity() error = %v", err)
	}
	if !conv.HumanPresent || conv.LastHumanActivity != first {
		t.Fatalf("conversation = %+v", conv)
	}

	// Repeated human messages keep presence on and push the clock forward.
	later := first.Add(5 * time.Minute)
	st.now = func() time.Time { return later }
	if err := st.MarkHumanActivity(ctx, conv); err != nil {
		t.Fatalf("second MarkHumanActivity() error = %v", err)
	}
	if !conv.HumanPresent || conv.LastHumanActivity != later {
		t.Fatalf("conversation = %+v", conv)
	}
}

func TestEligible_HardGate(t *testing.T) {
	tests := []struct {
		name string
		conv models.Conversation
		want bool
	}{
		{"active and clear", models.Conversation{Active: true}, true},
		{"not activated", models.Conversation{}, false},
		{"bot paused", models.Conversation{Active: true, BotPaused: true}, false},
		{"human present", models.Conversation{Active: true, HumanPresent: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, why := Eligible(&tt.conv)
			if got != tt.want {
				t.Fatalf("Eligible() = %v (%s), want %v", got, why, tt.want)
			}
			if !got && why == "" {
				t.Fatal("ineligible conversation has empty reason")
			}
		})
	}
}

func TestSetBotPaused_Independent(t *testing.T) {
	ctx := context.Background()
	st := NewState(store.NewMemoryStore())

	conv, _ := st.Ensure(ctx, "t1", "conv-1")
	if err := st.SetBotPaused(ctx, conv, true); err != nil {
		t.Fatalf("SetBotPaused() error = %v", err)
	}
	if !conv.BotPaused || conv.Active {
		t.Fatalf("conversation = %+v", conv)
	}
	if err := st.SetBotPaused(ctx, conv, false); err != nil {
		t.Fatalf("SetBotPaused(false) error = %v", err)
	}
	if conv.BotPaused {
		t.Fatal("BotPaused still true after resume")
	}
}
