package network

import (
	"context"
	"testing"
	"time"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/cache"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

func testNetwork() *models.AgentNetwork {
	return &models.AgentNetwork{
		TenantID:       "t1",
		PrimaryAgentID: "agent-a",
		Nodes: []models.NetworkNode{
			{AgentID: "agent-a", Role: models.RolePrimary},
			{AgentID: "agent-b", Role: models.RoleTrigger, Triggers: []models.Trigger{
				{Keyword: "soporte", MatchType: models.MatchContains, Priority: 5},
			}},
			{AgentID: "agent-c", Role: models.RoleTrigger, Triggers: []models.Trigger{
				{Keyword: "ventas", MatchType: models.MatchExact, Priority: 8},
			}},
		},
		MaxSwitchesPerHour: 2,
	}
}

func TestMatchScore_ExactIsSubsetOfContains(t *testing.T) {
	exact := models.Trigger{Keyword: "hola", MatchType: models.MatchExact}
	contains := models.Trigger{Keyword: "hola", MatchType: models.MatchContains}

	if s, _ := matchScore(exact, "hola"); s != 1.0 {
		t.Fatalf("exact score on identical text = %v, want 1.0", s)
	}
	if s, _ := matchScore(exact, "hola mundo"); s != 0 {
		t.Fatalf("exact score on longer text = %v, want 0", s)
	}
	if s, _ := matchScore(contains, "hola"); s != 0.8 {
		t.Fatalf("contains score = %v, want 0.8", s)
	}
	if s, _ := matchScore(contains, "hola mundo"); s != 0.8 {
		t.Fatalf("contains score on longer text = %v, want 0.8", s)
	}
}

func TestMatchScore_RegexLengthRatio(t *testing.T) {
	trigger := models.Trigger{Keyword: "sopor\\w+", MatchType: models.MatchRegex}
	// "soporte" (7 chars) inside a 14-char message.
	s, err := matchScore(trigger, "hola soporte x")
	if err != nil {
		t.Fatalf("matchScore() error = %v", err)
	}
	if s != 0.5 {
		t.Fatalf("regex score = %v, want 0.5", s)
	}
}

func TestMatchScore_MalformedRegexIsEvaluationError(t *testing.T) {
	trigger := models.Trigger{Keyword: "([", MatchType: models.MatchRegex}
	_, err := matchScore(trigger, "hola")
	if _, ok := err.(*TriggerEvaluationError); !ok {
		t.Fatalf("matchScore() error = %v, want TriggerEvaluationError", err)
	}
}

func TestEvaluateInitialTriggers_PicksHighestRank(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), nil, 0)
	net := testNetwork()

	// "necesito soporte": B scores 0.8 × 5/10 = 0.4.
	got := e.EvaluateInitialTriggers(net, "necesito soporte")
	if got.AgentID != "agent-b" {
		t.Fatalf("AgentID = %s, want agent-b", got.AgentID)
	}
	if got.Fallback {
		t.Fatal("Fallback = true for a genuine match")
	}
	if got.Score != 0.8 {
		t.Fatalf("Score = %v, want 0.8", got.Score)
	}
}

func TestEvaluateInitialTriggers_NoMatchFallsBackToPrimary(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), nil, 0)

	got := e.EvaluateInitialTriggers(testNetwork(), "buenas tardes")
	if got.AgentID != "agent-a" {
		t.Fatalf("AgentID = %s, want primary agent-a", got.AgentID)
	}
	if !got.Fallback {
		t.Fatal("Fallback = false, want default-fallback selection to be flagged")
	}
	if got.Score != FallbackScore {
		t.Fatalf("Score = %v, want %v", got.Score, FallbackScore)
	}
}

func TestEvaluateInitialTriggers_TieBrokenByDeclarationOrder(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), nil, 0)
	net := &models.AgentNetwork{
		TenantID:       "t1",
		PrimaryAgentID: "agent-a",
		Nodes: []models.NetworkNode{
			{AgentID: "agent-a", Role: models.RolePrimary},
			{AgentID: "agent-b", Role: models.RoleTrigger, Triggers: []models.Trigger{
				{Keyword: "ayuda", MatchType: models.MatchContains, Priority: 5},
			}},
			{AgentID: "agent-c", Role: models.RoleTrigger, Triggers: []models.Trigger{
				{Keyword: "ayuda", MatchType: models.MatchContains, Priority: 5},
			}},
		},
	}

	got := e.EvaluateInitialTriggers(net, "ayuda por favor")
	if got.AgentID != "agent-b" {
		t.Fatalf("AgentID = %s, want first declared agent-b", got.AgentID)
	}
}

func TestEvaluateInitialTriggers_MalformedTriggerSkipped(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), nil, 0)
	net := &models.AgentNetwork{
		TenantID:       "t1",
		PrimaryAgentID: "agent-a",
		Nodes: []models.NetworkNode{
			{AgentID: "agent-a", Role: models.RolePrimary},
			{AgentID: "agent-b", Role: models.RoleTrigger, Triggers: []models.Trigger{
				{Keyword: "([", MatchType: models.MatchRegex, Priority: 9},
				{Keyword: "soporte", MatchType: models.MatchContains, Priority: 5},
			}},
		},
	}

	got := e.EvaluateInitialTriggers(net, "necesito soporte")
	if got.AgentID != "agent-b" || got.Fallback {
		t.Fatalf("candidate = %+v, want genuine match on agent-b", got)
	}
}

func TestEvaluateSwitchTriggers_ExcludesCurrentAgent(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), nil, 0)
	net := testNetwork()

	// Current agent is B; B's own "soporte" trigger must not fire.
	if got := e.EvaluateSwitchTriggers(net, "agent-b", "necesito soporte"); got != nil {
		t.Fatalf("EvaluateSwitchTriggers() = %+v, want nil", got)
	}

	// From A, the same text switches to B.
	got := e.EvaluateSwitchTriggers(net, "agent-a", "necesito soporte")
	if got == nil || got.AgentID != "agent-b" {
		t.Fatalf("EvaluateSwitchTriggers() = %+v, want agent-b", got)
	}
}

func TestEvaluateSwitchTriggers_Conditions(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), nil, 0)
	e.now = func() time.Time {
		return time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local) // morning
	}

	net := &models.AgentNetwork{
		TenantID:       "t1",
		PrimaryAgentID: "agent-a",
		Nodes: []models.NetworkNode{
			{AgentID: "agent-a", Role: models.RolePrimary},
			{AgentID: "agent-b", Role: models.RoleTrigger, Triggers: []models.Trigger{
				{
					Keyword:   "soporte",
					MatchType: models.MatchContains,
					Priority:  5,
					Conditions: &models.TriggerConditions{
						PreviousAgent: "agent-c",
						TimeOfDay:     models.TimeMorning,
					},
				},
			}},
			{AgentID: "agent-c", Role: models.RoleTrigger},
		},
	}

	// Wrong previous agent.
	if got := e.EvaluateSwitchTriggers(net, "agent-a", "necesito soporte"); got != nil {
		t.Fatalf("wrong previous agent: got %+v, want nil", got)
	}

	// Right previous agent, right time window.
	got := e.EvaluateSwitchTriggers(net, "agent-c", "necesito soporte")
	if got == nil || got.AgentID != "agent-b" {
		t.Fatalf("eligible switch: got %+v, want agent-b", got)
	}

	// Right previous agent, wrong time window.
	e.now = func() time.Time {
		return time.Date(2026, 3, 1, 21, 0, 0, 0, time.Local) // evening
	}
	if got := e.EvaluateSwitchTriggers(net, "agent-c", "necesito soporte"); got != nil {
		t.Fatalf("wrong time window: got %+v, want nil", got)
	}
}

func TestNetwork_SecondReadServedFromCache(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := cache.NewMemory()
	e := NewEngine(s, c, time.Minute)

	if err := e.PutNetwork(ctx, testNetwork()); err != nil {
		t.Fatalf("PutNetwork() error = %v", err)
	}
	if _, err := e.Network(ctx, "t1"); err != nil {
		t.Fatalf("Network() error = %v", err)
	}

	// Write to the store directly, bypassing the engine. The engine must
	// keep serving the cached copy until its TTL expires or it is
	// invalidated.
	changed := testNetwork()
	changed.PrimaryAgentID = "agent-c"
	if err := s.PutNetwork(ctx, changed); err != nil {
		t.Fatalf("store PutNetwork() error = %v", err)
	}

	got, err := e.Network(ctx, "t1")
	if err != nil {
		t.Fatalf("Network() error = %v", err)
	}
	if got.PrimaryAgentID != "agent-a" {
		t.Fatalf("PrimaryAgentID = %s, want cached agent-a", got.PrimaryAgentID)
	}

	e.Invalidate(ctx, "t1")
	got, err = e.Network(ctx, "t1")
	if err != nil {
		t.Fatalf("Network() after invalidate error = %v", err)
	}
	if got.PrimaryAgentID != "agent-c" {
		t.Fatalf("PrimaryAgentID after invalidate = %s, want agent-c", got.PrimaryAgentID)
	}
}

func TestNetwork_CachedAndInvalidatedOnPut(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := cache.NewMemory()
	e := NewEngine(s, c, time.Minute)

	net := testNetwork()
	if err := e.PutNetwork(ctx, net); err != nil {
		t.Fatalf("PutNetwork() error = %v", err)
	}

	got, err := e.Network(ctx, "t1")
	if err != nil {
		t.Fatalf("Network() error = %v", err)
	}
	if got.PrimaryAgentID != "agent-a" {
		t.Fatalf("PrimaryAgentID = %s", got.PrimaryAgentID)
	}

	// Update through the engine; the next read must see the new primary,
	// not the cached copy.
	net.PrimaryAgentID = "agent-c"
	if err := e.PutNetwork(ctx, net); err != nil {
		t.Fatalf("PutNetwork() error = %v", err)
	}
	got, err = e.Network(ctx, "t1")
	if err != nil {
		t.Fatalf("Network() after update error = %v", err)
	}
	if got.PrimaryAgentID != "agent-c" {
		t.Fatalf("PrimaryAgentID after update = %s, want agent-c", got.PrimaryAgentID)
	}
}
