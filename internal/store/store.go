// Package store provides the storage interface and implementations for the
// automation control plane. Handlers and engines depend on this interface,
// making it easy to swap between in-memory (tests) and PostgreSQL (production)
// implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// Store is the primary storage interface for the control plane.
type Store interface {
	AgentStore
	NetworkStore
	ConversationStore
	MessageStore
	AutomationStore
	ActivityStore

	// ListTenants returns every tenant id known to the store.
	ListTenants(ctx context.Context) ([]string, error)

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	ListAgents(ctx context.Context, tenantID string) ([]models.Agent, error)
	GetAgent(ctx context.Context, tenantID, agentID string) (*models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) error
	UpdateAgent(ctx context.Context, agent *models.Agent) error
	DeleteAgent(ctx context.Context, tenantID, agentID string) error
	DeleteAgents(ctx context.Context, tenantID string) error
}

// ── Network Store ───────────────────────────────────────────

type NetworkStore interface {
	GetNetwork(ctx context.Context, tenantID string) (*models.AgentNetwork, error)
	PutNetwork(ctx context.Context, network *models.AgentNetwork) error
	DeleteNetwork(ctx context.Context, tenantID string) error
}

// ── Conversation Store ──────────────────────────────────────

type ConversationStore interface {
	GetConversation(ctx context.Context, tenantID, convID string) (*models.Conversation, error)
	PutConversation(ctx context.Context, conv *models.Conversation) error
	ListConversations(ctx context.Context, tenantID string) ([]models.Conversation, error)
	DeleteConversations(ctx context.Context, tenantID string) error
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error

	// ListRecentMessages returns up to limit messages for a conversation,
	// newest last.
	ListRecentMessages(ctx context.Context, tenantID, convID string, limit int) ([]models.Message, error)
	DeleteMessages(ctx context.Context, tenantID string) error
}

// ── Automation Store ────────────────────────────────────────

// AutomationStore persists rules, action flows and starters. Rule and
// starter triggers are normalized to lowercase at write time.
type AutomationStore interface {
	ListFlows(ctx context.Context, tenantID string) ([]models.ActionFlow, error)
	PutFlow(ctx context.Context, flow *models.ActionFlow) error

	ListRules(ctx context.Context, tenantID string) ([]models.Rule, error)
	PutRule(ctx context.Context, rule *models.Rule) error
	GetRuleByTrigger(ctx context.Context, tenantID, trigger string) (*models.Rule, error)

	ListStarters(ctx context.Context, tenantID string) ([]models.Starter, error)
	PutStarter(ctx context.Context, starter *models.Starter) error
	GetStarterByTrigger(ctx context.Context, tenantID, trigger string) (*models.Starter, error)

	DeleteAutomation(ctx context.Context, tenantID string) error
}

// ── Activity Store ──────────────────────────────────────────

type ActivityStore interface {
	CreateActivity(ctx context.Context, entry *models.ActivityEntry) error
	ListActivity(ctx context.Context, tenantID string, since time.Time, limit int) ([]models.ActivityEntry, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is a store ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
