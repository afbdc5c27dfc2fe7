package cascade

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/ai"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/flow"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
	last  ai.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req ai.Request) (string, error) {
	f.calls++
	f.last = req
	return f.reply, f.err
}

type spyRuleMatcher struct {
	inner RuleMatcher
	calls int
}

func (s *spyRuleMatcher) MatchRule(ctx context.Context, tenantID, text string) (*models.Rule, error) {
	s.calls++
	return s.inner.MatchRule(ctx, tenantID, text)
}

func activeConv() *models.Conversation {
	return &models.Conversation{
		TenantID:       "t1",
		ID:             "conv-1",
		Active:         true,
		CurrentAgentID: "agent-a",
	}
}

func TestRespond_HardGateSkipsAllSources(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	completer := &fakeCompleter{reply: "nunca"}
	spy := &spyRuleMatcher{inner: &StoreRuleMatcher{Store: s}}
	c := New(s, flow.NewExecutor(), completer, spy)

	for _, conv := range []*models.Conversation{
		{TenantID: "t1", ID: "c1"},                                        // not activated
		{TenantID: "t1", ID: "c2", Active: true, BotPaused: true},         // paused
		{TenantID: "t1", ID: "c3", Active: true, HumanPresent: true},      // human present
	} {
		res, err := c.Respond(ctx, conv, nil, "hola")
		if err != nil {
			t.Fatalf("Respond() error = %v", err)
		}
		if !res.Gated || res.Source != models.SourceNone || len(res.Replies) != 0 {
			t.Fatalf("Respond() = %+v, want gated with no replies", res)
		}
	}
	if spy.calls != 0 {
		t.Fatalf("rule matcher invoked %d times for gated conversations", spy.calls)
	}
	if completer.calls != 0 {
		t.Fatalf("completer invoked %d times for gated conversations", completer.calls)
	}
}

func TestRespond_FlowWinsAndRuleNeverEvaluated(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	s.PutFlow(ctx, &models.ActionFlow{
		ID: "f1", TenantID: "t1", TriggerType: models.FlowTriggerContains,
		TriggerText: "promo",
		Steps:       []models.FlowStep{{Kind: models.StepSendMessage, Text: "20% de descuento hoy"}},
		Enabled:     true,
	})
	s.PutRule(ctx, &models.Rule{
		ID: "r1", TenantID: "t1", Trigger: "promo", Response: "respuesta de regla", Enabled: true,
	})

	spy := &spyRuleMatcher{inner: &StoreRuleMatcher{Store: s}}
	c := New(s, flow.NewExecutor(), &fakeCompleter{}, spy)

	res, err := c.Respond(ctx, activeConv(), nil, "promo")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.Source != models.SourceActionFlow {
		t.Fatalf("Source = %s, want action_flow", res.Source)
	}
	if len(res.Replies) != 1 || res.Replies[0] != "20% de descuento hoy" {
		t.Fatalf("Replies = %v", res.Replies)
	}
	if spy.calls != 0 {
		t.Fatalf("rule matcher invoked %d times although a flow matched", spy.calls)
	}
}

func TestRespond_RuleMatch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.PutRule(ctx, &models.Rule{
		ID: "r1", TenantID: "t1", Trigger: "Horario", Response: "Abrimos de 9 a 18", Enabled: true,
	})
	completer := &fakeCompleter{reply: "nunca"}
	c := New(s, flow.NewExecutor(), completer, nil)

	// Rule triggers are normalized at write; matching is case-insensitive.
	res, err := c.Respond(ctx, activeConv(), nil, "HORARIO")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.Source != models.SourceRule || res.Replies[0] != "Abrimos de 9 a 18" {
		t.Fatalf("Respond() = %+v", res)
	}
	if completer.calls != 0 {
		t.Fatal("completer invoked although a rule matched")
	}
}

func TestRespond_StarterUsesTemplateAndHistory(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	s.PutStarter(ctx, &models.Starter{
		ID: "st1", TenantID: "t1", Trigger: "presupuesto",
		PromptTemplate: "Eres un asesor comercial. Pide los datos del proyecto.",
		Enabled:        true,
	})
	s.AppendMessage(ctx, &models.Message{
		ID: "m1", TenantID: "t1", ConversationID: "conv-1",
		Origin: models.OriginContact, Content: "hola",
	})

	completer := &fakeCompleter{reply: "¿Qué proyecto tienes en mente?"}
	c := New(s, flow.NewExecutor(), completer, nil)

	res, err := c.Respond(ctx, activeConv(), nil, "presupuesto")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.Source != models.SourceStarter {
		t.Fatalf("Source = %s, want starter", res.Source)
	}
	if completer.last.System != "Eres un asesor comercial. Pide los datos del proyecto." {
		t.Fatalf("System = %q", completer.last.System)
	}
	// History plus the inbound message itself.
	if len(completer.last.Messages) != 2 {
		t.Fatalf("Messages = %d, want 2", len(completer.last.Messages))
	}
	if completer.last.Messages[0].Content != "hola" {
		t.Fatalf("first history message = %+v", completer.last.Messages[0])
	}
}

func TestRespond_DefaultAIUsesPersona(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	completer := &fakeCompleter{reply: "con gusto te ayudo"}
	c := New(s, flow.NewExecutor(), completer, nil)

	agent := &models.Agent{
		ID: "agent-a", TenantID: "t1", Name: "Asistente",
		Persona:   models.Persona{Instructions: "Atiende consultas de la tienda.", Tone: "cercano"},
		Knowledge: []string{"Envíos a todo el país"},
	}

	res, err := c.Respond(ctx, activeConv(), agent, "tienen envíos?")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.Source != models.SourceDefaultAI || res.Replies[0] != "con gusto te ayudo" {
		t.Fatalf("Respond() = %+v", res)
	}
	for _, want := range []string{"Atiende consultas", "Tone: cercano", "Envíos a todo el país"} {
		if !strings.Contains(completer.last.System, want) {
			t.Fatalf("System = %q, missing %q", completer.last.System, want)
		}
	}
}

func TestRespond_CompletionFailureDegradesToNoReply(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	completer := &fakeCompleter{err: errors.New("timeout")}
	c := New(s, flow.NewExecutor(), completer, nil)

	res, err := c.Respond(ctx, activeConv(), nil, "hola")
	if err != nil {
		t.Fatalf("Respond() error = %v, want degraded result instead", err)
	}
	if !res.Degraded || len(res.Replies) != 0 {
		t.Fatalf("Respond() = %+v, want degraded with no replies", res)
	}
}
