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

func (s *Store) ListFlows(ctx context.Context, tenantID string) ([]models.ActionFlow, error) {
	rows, err := s.pool.Query(ctx, `
		select id, tenant_id, name, trigger_type, trigger_text, steps, enabled
		from action_flows
		where tenant_id = $1
		order by id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ActionFlow
	for rows.Next() {
		var (
			f           models.ActionFlow
			triggerType string
			steps       []byte
		)
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Name, &triggerType, &f.TriggerText, &steps, &f.Enabled); err != nil {
			return nil, err
		}
		f.TriggerType = models.FlowTriggerType(triggerType)
		if err := json.Unmarshal(steps, &f.Steps); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) PutFlow(ctx context.Context, flow *models.ActionFlow) error {
	steps, _ := json.Marshal(flow.Steps)
	_, err := s.pool.Exec(ctx, `
		insert into action_flows (id, tenant_id, name, trigger_type, trigger_text, steps, enabled)
		values ($1, $2, $3, $4, $5, $6::jsonb, $7)
		on conflict (tenant_id, id) do update
		set name = excluded.name,
		    trigger_type = excluded.trigger_type,
		    trigger_text = excluded.trigger_text,
		    steps = excluded.steps,
		    enabled = excluded.enabled
	`, flow.ID, flow.TenantID, flow.Name, string(flow.TriggerType), flow.TriggerText, string(steps), flow.Enabled)
	return err
}

// ── Rules ───────────────────────────────────────────────────

func (s *Store) ListRules(ctx context.Context, tenantID string) ([]models.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		select id, tenant_id, trigger, response, enabled
		from rules
		where tenant_id = $1
		order by id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Rule
	for rows.Next() {
		var r models.Rule
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Trigger, &r.Response, &r.Enabled); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) PutRule(ctx context.Context, rule *models.Rule) error {
	rule.Trigger = models.NormalizeTrigger(rule.Trigger)
	_, err := s.pool.Exec(ctx, `
		insert into rules (id, tenant_id, trigger, response, enabled)
		values ($1, $2, $3, $4, $5)
		on conflict (tenant_id, trigger) do update
		set id = excluded.id,
		    response = excluded.response,
		    enabled = excluded.enabled
	`, rule.ID, rule.TenantID, rule.Trigger, rule.Response, rule.Enabled)
	return err
}

func (s *Store) GetRuleByTrigger(ctx context.Context, tenantID, trigger string) (*models.Rule, error) {
	var r models.Rule
	err := s.pool.QueryRow(ctx, `
		select id, tenant_id, trigger, response, enabled
		from rules
		where tenant_id = $1 and trigger = $2 and enabled
	`, tenantID, models.NormalizeTrigger(trigger)).Scan(&r.ID, &r.TenantID, &r.Trigger, &r.Response, &r.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &store.ErrNotFound{Entity: "rule", Key: tenantID + "/" + trigger}
		}
		return nil, err
	}
	return &r, nil
}

// ── Starters ────────────────────────────────────────────────

func (s *Store) ListStarters(ctx context.Context, tenantID string) ([]models.Starter, error) {
	rows, err := s.pool.Query(ctx, `
		select id, tenant_id, trigger, prompt_template, enabled
		from starters
		where tenant_id = $1
		order by id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Starter
	for rows.Next() {
		var st models.Starter
		if err := rows.Scan(&st.ID, &st.TenantID, &st.Trigger, &st.PromptTemplate, &st.Enabled); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) PutStarter(ctx context.Context, starter *models.Starter) error {
	starter.Trigger = models.NormalizeTrigger(starter.Trigger)
	_, err := s.pool.Exec(ctx, `
		insert into starters (id, tenant_id, trigger, prompt_template, enabled)
		values ($1, $2, $3, $4, $5)
		on conflict (tenant_id, trigger) do update
		set id = excluded.id,
		    prompt_template = excluded.prompt_template,
		    enabled = excluded.enabled
	`, starter.ID, starter.TenantID, starter.Trigger, starter.PromptTemplate, starter.Enabled)
	return err
}

func (s *Store) GetStarterByTrigger(ctx context.Context, tenantID, trigger string) (*models.Starter, error) {
	var st models.Starter
	err := s.pool.QueryRow(ctx, `
		select id, tenant_id, trigger, prompt_template, enabled
		from starters
		where tenant_id = $1 and trigger = $2 and enabled
	`, tenantID, models.NormalizeTrigger(trigger)).Scan(&st.ID, &st.TenantID, &st.Trigger, &st.PromptTemplate, &st.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &store.ErrNotFound{Entity: "starter", Key: tenantID + "/" + trigger}
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) DeleteAutomation(ctx context.Context, tenantID string) error {
	for _, q := range []string{
		`delete from action_flows where tenant_id = $1`,
		`delete from rules where tenant_id = $1`,
		`delete from starters where tenant_id = $1`,
	} {
		if _, err := s.pool.Exec(ctx, q, tenantID); err != nil {
			return err
		}
	}
	return nil
}

// ── Activity ────────────────────────────────────────────────

func (s *Store) CreateActivity(ctx context.Context, entry *models.ActivityEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		insert into activity_log (id, tenant_id, conversation_id, kind, detail, ts)
		values ($1, $2, $3, $4, $5, $6)
	`, entry.ID, entry.TenantID, entry.ConversationID, string(entry.Kind), entry.Detail, entry.Timestamp)
	return err
}

func (s *Store) ListActivity(ctx context.Context, tenantID string, since time.Time, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		select id, tenant_id, conversation_id, kind, detail, ts
		from activity_log
		where tenant_id = $1 and ts >= $2
		order by ts
		limit $3
	`, tenantID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ActivityEntry
	for rows.Next() {
		var (
			e    models.ActivityEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ConversationID, &kind, &e.Detail, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = models.ActivityKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
