package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
	"github.com/jackc/pgx/v5"
)

func (s *Store) ListAgents(ctx context.Context, tenantID string) ([]models.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		select id, tenant_id, name, persona, knowledge, active, created_at, coalesce(updated_at, 'epoch')
		from agents
		where tenant_id = $1
		order by created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) GetAgent(ctx context.Context, tenantID, agentID string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		select id, tenant_id, name, persona, knowledge, active, created_at, coalesce(updated_at, 'epoch')
		from agents
		where tenant_id = $1 and id = $2
	`, tenantID, agentID)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &store.ErrNotFound{Entity: "agent", Key: tenantID + "/" + agentID}
		}
		return nil, err
	}
	return a, nil
}

func (s *Store) CreateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now().UTC()
	}
	persona, _ := json.Marshal(agent.Persona)
	_, err := s.pool.Exec(ctx, `
		insert into agents (id, tenant_id, name, persona, knowledge, active, created_at)
		values ($1, $2, $3, $4::jsonb, $5, $6, $7)
		on conflict (tenant_id, id) do update
		set name = excluded.name,
		    persona = excluded.persona,
		    knowledge = excluded.knowledge,
		    active = excluded.active
	`, agent.ID, agent.TenantID, agent.Name, string(persona), agent.Knowledge, agent.Active, agent.CreatedAt)
	return err
}

func (s *Store) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now().UTC()
	persona, _ := json.Marshal(agent.Persona)
	tag, err := s.pool.Exec(ctx, `
		update agents
		set name = $3, persona = $4::jsonb, knowledge = $5, active = $6, updated_at = $7
		where tenant_id = $1 and id = $2
	`, agent.TenantID, agent.ID, agent.Name, string(persona), agent.Knowledge, agent.Active, agent.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &store.ErrNotFound{Entity: "agent", Key: agent.TenantID + "/" + agent.ID}
	}
	return nil
}

func (s *Store) DeleteAgent(ctx context.Context, tenantID, agentID string) error {
	tag, err := s.pool.Exec(ctx, `delete from agents where tenant_id = $1 and id = $2`, tenantID, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &store.ErrNotFound{Entity: "agent", Key: tenantID + "/" + agentID}
	}
	return nil
}

func (s *Store) DeleteAgents(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `delete from agents where tenant_id = $1`, tenantID)
	return err
}

// ── Networks ────────────────────────────────────────────────

func (s *Store) GetNetwork(ctx context.Context, tenantID string) (*models.AgentNetwork, error) {
	var (
		n     models.AgentNetwork
		nodes []byte
	)
	err := s.pool.QueryRow(ctx, `
		select tenant_id, primary_agent_id, nodes, max_switches_per_hour,
		       preserve_context, announce_switches, updated_at
		from networks
		where tenant_id = $1
	`, tenantID).Scan(
		&n.TenantID,
		&n.PrimaryAgentID,
		&nodes,
		&n.MaxSwitchesPerHour,
		&n.PreserveContext,
		&n.AnnounceSwitches,
		&n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &store.ErrNotFound{Entity: "network", Key: tenantID}
		}
		return nil, err
	}
	if err := json.Unmarshal(nodes, &n.Nodes); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) PutNetwork(ctx context.Context, network *models.AgentNetwork) error {
	network.UpdatedAt = time.Now().UTC()
	nodes, _ := json.Marshal(network.Nodes)
	_, err := s.pool.Exec(ctx, `
		insert into networks (tenant_id, primary_agent_id, nodes, max_switches_per_hour,
		                      preserve_context, announce_switches, updated_at)
		values ($1, $2, $3::jsonb, $4, $5, $6, $7)
		on conflict (tenant_id) do update
		set primary_agent_id = excluded.primary_agent_id,
		    nodes = excluded.nodes,
		    max_switches_per_hour = excluded.max_switches_per_hour,
		    preserve_context = excluded.preserve_context,
		    announce_switches = excluded.announce_switches,
		    updated_at = excluded.updated_at
	`, network.TenantID, network.PrimaryAgentID, string(nodes), network.MaxSwitchesPerHour,
		network.PreserveContext, network.AnnounceSwitches, network.UpdatedAt)
	return err
}

func (s *Store) DeleteNetwork(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `delete from networks where tenant_id = $1`, tenantID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var (
		a       models.Agent
		persona []byte
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.Name, &persona, &a.Knowledge, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(persona, &a.Persona); err != nil {
		return nil, err
	}
	return &a, nil
}
