package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// MemoryStore is a thread-safe in-memory Store. It is the default backend
// for tests and single-node deployments without Postgres.
type MemoryStore struct {
	mu sync.RWMutex

	agents        map[string]map[string]models.Agent        // tenant → agentID → agent
	networks      map[string]models.AgentNetwork            // tenant → network
	conversations map[string]map[string]models.Conversation // tenant → convID → conversation
	messages      map[string]map[string][]models.Message    // tenant → convID → ordered messages
	flows         map[string]map[string]models.ActionFlow   // tenant → flowID → flow
	rules         map[string]map[string]models.Rule         // tenant → trigger → rule
	starters      map[string]map[string]models.Starter      // tenant → trigger → starter
	activity      map[string][]models.ActivityEntry         // tenant → entries
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:        make(map[string]map[string]models.Agent),
		networks:      make(map[string]models.AgentNetwork),
		conversations: make(map[string]map[string]models.Conversation),
		messages:      make(map[string]map[string][]models.Message),
		flows:         make(map[string]map[string]models.ActionFlow),
		rules:         make(map[string]map[string]models.Rule),
		starters:      make(map[string]map[string]models.Starter),
		activity:      make(map[string][]models.ActivityEntry),
	}
}

// ── Agents ──────────────────────────────────────────────────

func (s *MemoryStore) ListAgents(_ context.Context, tenantID string) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Agent
	for _, a := range s.agents[tenantID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetAgent(_ context.Context, tenantID, agentID string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[tenantID][agentID]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: tenantID + "/" + agentID}
	}
	cp := a
	return &cp, nil
}

func (s *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	if s.agents[agent.TenantID] == nil {
		s.agents[agent.TenantID] = make(map[string]models.Agent)
	}
	s.agents[agent.TenantID][agent.ID] = *agent
	return nil
}

func (s *MemoryStore) UpdateAgent(_ context.Context, agent *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.TenantID][agent.ID]; !ok {
		return &ErrNotFound{Entity: "agent", Key: agent.TenantID + "/" + agent.ID}
	}
	agent.UpdatedAt = time.Now().UTC()
	s.agents[agent.TenantID][agent.ID] = *agent
	return nil
}

func (s *MemoryStore) DeleteAgent(_ context.Context, tenantID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[tenantID][agentID]; !ok {
		return &ErrNotFound{Entity: "agent", Key: tenantID + "/" + agentID}
	}
	delete(s.agents[tenantID], agentID)
	return nil
}

func (s *MemoryStore) DeleteAgents(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.agents, tenantID)
	return nil
}

// ── Networks ────────────────────────────────────────────────

func (s *MemoryStore) GetNetwork(_ context.Context, tenantID string) (*models.AgentNetwork, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.networks[tenantID]
	if !ok {
		return nil, &ErrNotFound{Entity: "network", Key: tenantID}
	}
	cp := n
	return &cp, nil
}

func (s *MemoryStore) PutNetwork(_ context.Context, network *models.AgentNetwork) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	network.UpdatedAt = time.Now().UTC()
	s.networks[network.TenantID] = *network
	return nil
}

func (s *MemoryStore) DeleteNetwork(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.networks, tenantID)
	return nil
}

// ── Conversations ───────────────────────────────────────────

func (s *MemoryStore) GetConversation(_ context.Context, tenantID, convID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[tenantID][convID]
	if !ok {
		return nil, &ErrNotFound{Entity: "conversation", Key: tenantID + "/" + convID}
	}
	cp := c
	cp.SwitchHistory = append([]models.AgentSwitch(nil), c.SwitchHistory...)
	return &cp, nil
}

// PutConversation writes the whole conversation record in one step. Switch
// execution relies on this being a single atomic write.
func (s *MemoryStore) PutConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if s.conversations[conv.TenantID] == nil {
		s.conversations[conv.TenantID] = make(map[string]models.Conversation)
	}
	cp := *conv
	cp.SwitchHistory = append([]models.AgentSwitch(nil), conv.SwitchHistory...)
	s.conversations[conv.TenantID][conv.ID] = cp
	return nil
}

func (s *MemoryStore) ListConversations(_ context.Context, tenantID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Conversation
	for _, c := range s.conversations[tenantID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteConversations(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, tenantID)
	return nil
}

// ── Messages ────────────────────────────────────────────────

func (s *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if s.messages[msg.TenantID] == nil {
		s.messages[msg.TenantID] = make(map[string][]models.Message)
	}
	s.messages[msg.TenantID][msg.ConversationID] = append(s.messages[msg.TenantID][msg.ConversationID], *msg)
	return nil
}

func (s *MemoryStore) ListRecentMessages(_ context.Context, tenantID, convID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[tenantID][convID]
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]models.Message, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out, nil
}

func (s *MemoryStore) DeleteMessages(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, tenantID)
	return nil
}

// ── Automation ──────────────────────────────────────────────

func (s *MemoryStore) ListFlows(_ context.Context, tenantID string) ([]models.ActionFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ActionFlow
	for _, f := range s.flows[tenantID] {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutFlow(_ context.Context, flow *models.ActionFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flows[flow.TenantID] == nil {
		s.flows[flow.TenantID] = make(map[string]models.ActionFlow)
	}
	s.flows[flow.TenantID][flow.ID] = *flow
	return nil
}

func (s *MemoryStore) ListRules(_ context.Context, tenantID string) ([]models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Rule
	for _, r := range s.rules[tenantID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutRule(_ context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule.Trigger = models.NormalizeTrigger(rule.Trigger)
	if s.rules[rule.TenantID] == nil {
		s.rules[rule.TenantID] = make(map[string]models.Rule)
	}
	s.rules[rule.TenantID][rule.Trigger] = *rule
	return nil
}

func (s *MemoryStore) GetRuleByTrigger(_ context.Context, tenantID, trigger string) (*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[tenantID][models.NormalizeTrigger(trigger)]
	if !ok || !r.Enabled {
		return nil, &ErrNotFound{Entity: "rule", Key: tenantID + "/" + trigger}
	}
	cp := r
	return &cp, nil
}

func (s *MemoryStore) ListStarters(_ context.Context, tenantID string) ([]models.Starter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Starter
	for _, st := range s.starters[tenantID] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutStarter(_ context.Context, starter *models.Starter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	starter.Trigger = models.NormalizeTrigger(starter.Trigger)
	if s.starters[starter.TenantID] == nil {
		s.starters[starter.TenantID] = make(map[string]models.Starter)
	}
	s.starters[starter.TenantID][starter.Trigger] = *starter
	return nil
}

func (s *MemoryStore) GetStarterByTrigger(_ context.Context, tenantID, trigger string) (*models.Starter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.starters[tenantID][models.NormalizeTrigger(trigger)]
	if !ok || !st.Enabled {
		return nil, &ErrNotFound{Entity: "starter", Key: tenantID + "/" + trigger}
	}
	cp := st
	return &cp, nil
}

func (s *MemoryStore) DeleteAutomation(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, tenantID)
	delete(s.rules, tenantID)
	delete(s.starters, tenantID)
	return nil
}

// ── Activity ────────────────────────────────────────────────

func (s *MemoryStore) CreateActivity(_ context.Context, entry *models.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.activity[entry.TenantID] = append(s.activity[entry.TenantID], *entry)
	return nil
}

func (s *MemoryStore) ListActivity(_ context.Context, tenantID string, since time.Time, limit int) ([]models.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ActivityEntry
	for _, e := range s.activity[tenantID] {
		if e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ── Store plumbing ──────────────────────────────────────────

func (s *MemoryStore) ListTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for t := range s.agents {
		seen[t] = true
	}
	for t := range s.networks {
		seen[t] = true
	}
	for t := range s.conversations {
		seen[t] = true
	}
	tenants := make([]string, 0, len(seen))
	for t := range seen {
		tenants = append(tenants, t)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
