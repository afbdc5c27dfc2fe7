package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

func testExecutor(slept *[]time.Duration) *Executor {
	e := NewExecutor()
	e.sleep = func(ctx context.Context, d time.Duration) error {
		if slept != nil {
			*slept = append(*slept, d)
		}
		return ctx.Err()
	}
	return e
}

func TestMatches_TriggerTypes(t *testing.T) {
	tests := []struct {
		name        string
		triggerType models.FlowTriggerType
		trigger     string
		text        string
		want        bool
	}{
		{"exact hit", models.FlowTriggerExact, "hola", "Hola", true},
		{"exact miss on longer text", models.FlowTriggerExact, "hola", "hola mundo", false},
		{"contains hit", models.FlowTriggerContains, "soporte", "necesito SOPORTE ya", true},
		{"contains miss", models.FlowTriggerContains, "soporte", "necesito ayuda", false},
		{"starts_with hit", models.FlowTriggerStartsWith, "pedido", "pedido #42", true},
		{"starts_with miss", models.FlowTriggerStartsWith, "pedido", "mi pedido #42", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &models.ActionFlow{
				TriggerType: tt.triggerType,
				TriggerText: tt.trigger,
				Enabled:     true,
			}
			if got := Matches(f, tt.text); got != tt.want {
				t.Fatalf("Matches(%q, %q) = %v, want %v", tt.trigger, tt.text, got, tt.want)
			}
		})
	}
}

func TestMatches_DisabledFlowNeverMatches(t *testing.T) {
	f := &models.ActionFlow{
		TriggerType: models.FlowTriggerContains,
		TriggerText: "hola",
		Enabled:     false,
	}
	if Matches(f, "hola") {
		t.Fatal("Matches() = true for disabled flow")
	}
}

func TestRun_SendMessageHonorsDelayBeforeSending(t *testing.T) {
	var slept []time.Duration
	e := testExecutor(&slept)

	f := &models.ActionFlow{
		TenantID: "t1",
		ID:       "f1",
		Steps: []models.FlowStep{
			{Kind: models.StepSendMessage, Text: "primero", DelaySeconds: 2},
			{Kind: models.StepSendMessage, Text: "segundo"},
		},
	}

	replies, err := e.Run(context.Background(), f, "hola")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(replies) != 2 || replies[0] != "primero" || replies[1] != "segundo" {
		t.Fatalf("Run() replies = %v", replies)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("slept = %v, want [2s]", slept)
	}
}

func TestRun_EmptyFlowSendsFallbackNotice(t *testing.T) {
	e := testExecutor(nil)
	f := &models.ActionFlow{TenantID: "t1", ID: "f1"}

	replies, err := e.Run(context.Background(), f, "hola")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(replies) != 1 || replies[0] != FallbackNotice {
		t.Fatalf("Run() replies = %v, want fallback notice", replies)
	}
}

func TestRun_ConditionFailureSkipsRemainingSteps(t *testing.T) {
	e := testExecutor(nil)
	f := &models.ActionFlow{
		TenantID: "t1",
		ID:       "f1",
		Steps: []models.FlowStep{
			{Kind: models.StepSendMessage, Text: "siempre"},
			{Kind: models.StepCondition, ConditionContains: "urgente"},
			{Kind: models.StepSendMessage, Text: "solo si urgente"},
		},
	}

	replies, err := e.Run(context.Background(), f, "pedido normal")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(replies) != 1 || replies[0] != "siempre" {
		t.Fatalf("Run() replies = %v, want [siempre]", replies)
	}

	replies, err = e.Run(context.Background(), f, "pedido URGENTE")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("Run() replies = %v, want both messages", replies)
	}
}

func TestRun_CancelledContextStopsExecution(t *testing.T) {
	e := testExecutor(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &models.ActionFlow{
		TenantID: "t1",
		ID:       "f1",
		Steps: []models.FlowStep{
			{Kind: models.StepSendMessage, Text: "nunca"},
		},
	}

	replies, err := e.Run(ctx, f, "hola")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(replies) != 0 {
		t.Fatalf("Run() replies = %v, want none", replies)
	}
}

func TestValidateFlow(t *testing.T) {
	valid := &models.ActionFlow{
		TriggerType: models.FlowTriggerContains,
		TriggerText: "hola",
		Steps: []models.FlowStep{
			{Kind: models.StepSendMessage, Text: "hi"},
			{Kind: models.StepDelay, DelaySeconds: 1},
			{Kind: models.StepCondition, RequirePriorOK: true},
		},
	}
	if err := ValidateFlow(valid); err != nil {
		t.Fatalf("ValidateFlow(valid) error = %v", err)
	}

	bad := &models.ActionFlow{
		TriggerType: models.FlowTriggerContains,
		TriggerText: "hola",
		Steps:       []models.FlowStep{{Kind: models.StepSendMessage}},
	}
	if err := ValidateFlow(bad); err == nil {
		t.Fatal("ValidateFlow(send_message without text) error = nil")
	}

	badKind := &models.ActionFlow{
		TriggerType: models.FlowTriggerContains,
		TriggerText: "hola",
		Steps:       []models.FlowStep{{Kind: "jump"}},
	}
	if err := ValidateFlow(badKind); err == nil {
		t.Fatal("ValidateFlow(unknown kind) error = nil")
	}
}
